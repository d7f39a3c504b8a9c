package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/kafka-control-plane/models"
	"github.com/upb/kafka-control-plane/repositories"
	"go.uber.org/zap"
)

// QuotaRepository implements repositories.QuotaRepository
type QuotaRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewQuotaRepository creates a new quota repository
func NewQuotaRepository(db *DB, logger *zap.Logger) repositories.QuotaRepository {
	return &QuotaRepository{db: db, logger: logger}
}

// GetOverride returns the workspace override for kind
func (r *QuotaRepository) GetOverride(ctx context.Context, workspaceID uuid.UUID, kind models.ResourceType) (*models.QuotaOverride, error) {
	query := `
		SELECT workspace_id, resource_kind, quota_limit, reason, set_by, updated_at
		FROM quota_overrides
		WHERE workspace_id = $1 AND resource_kind = $2
	`

	o := &models.QuotaOverride{}
	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query, workspaceID, kind).Scan(
		&o.WorkspaceID,
		&o.ResourceKind,
		&o.Limit,
		&o.Reason,
		&o.SetBy,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get quota override: %w", err)
	}

	return o, nil
}

// UpsertOverride creates or replaces the override
func (r *QuotaRepository) UpsertOverride(ctx context.Context, o *models.QuotaOverride) error {
	query := `
		INSERT INTO quota_overrides (workspace_id, resource_kind, quota_limit, reason, set_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (workspace_id, resource_kind) DO UPDATE SET
			quota_limit = EXCLUDED.quota_limit,
			reason = EXCLUDED.reason,
			set_by = EXCLUDED.set_by,
			updated_at = EXCLUDED.updated_at
	`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, o.WorkspaceID, o.ResourceKind, o.Limit, o.Reason, o.SetBy, o.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert quota override: %w", err)
	}

	r.logger.Debug("quota override upserted",
		zap.String("workspace_id", o.WorkspaceID.String()),
		zap.String("kind", string(o.ResourceKind)),
		zap.Int("limit", o.Limit))
	return nil
}
