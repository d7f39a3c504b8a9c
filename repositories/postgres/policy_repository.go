package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/kafka-control-plane/models"
	"github.com/upb/kafka-control-plane/repositories"
	"go.uber.org/zap"
)

const policyColumns = `id, workspace_id, name, enabled, priority, environments, rules, created_by, created_at, updated_at`

// PolicyRepository implements the repositories.PolicyRepository interface
type PolicyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *DB, logger *zap.Logger) repositories.PolicyRepository {
	return &PolicyRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new policy
func (r *PolicyRepository) Create(ctx context.Context, policy *models.Policy) error {
	query := `
		INSERT INTO kafka_policies (` + policyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		policy.ID,
		policy.WorkspaceID,
		policy.Name,
		policy.Enabled,
		policy.Priority,
		pq.Array(policy.Environments),
		policy.Rules,
		policy.CreatedBy,
		policy.CreatedAt,
		policy.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}

	r.logger.Debug("policy created", zap.String("id", policy.ID.String()))
	return nil
}

// GetByID retrieves a policy by ID
func (r *PolicyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM kafka_policies WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	policy, err := scanPolicy(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}

	return policy, nil
}

// List returns the policies of one scope
func (r *PolicyRepository) List(ctx context.Context, workspaceID *uuid.UUID) ([]*models.Policy, error) {
	if workspaceID == nil {
		query := `
			SELECT ` + policyColumns + `
			FROM kafka_policies
			WHERE workspace_id IS NULL
			ORDER BY priority DESC, created_at ASC
		`
		return r.queryPolicies(ctx, query)
	}

	query := `
		SELECT ` + policyColumns + `
		FROM kafka_policies
		WHERE workspace_id = $1
		ORDER BY priority DESC, created_at ASC
	`
	return r.queryPolicies(ctx, query, *workspaceID)
}

// ListApplicable returns enabled workspace and platform-wide policies in
// evaluation order
func (r *PolicyRepository) ListApplicable(ctx context.Context, workspaceID uuid.UUID, limit int) ([]*models.Policy, error) {
	query := `
		SELECT ` + policyColumns + `
		FROM kafka_policies
		WHERE enabled = true
			AND (workspace_id = $1 OR workspace_id IS NULL)
		ORDER BY priority DESC, created_at ASC
		LIMIT $2
	`

	return r.queryPolicies(ctx, query, workspaceID, limit)
}

// Upsert creates or replaces a policy by ID
func (r *PolicyRepository) Upsert(ctx context.Context, policy *models.Policy) error {
	query := `
		INSERT INTO kafka_policies (` + policyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			workspace_id = EXCLUDED.workspace_id,
			name = EXCLUDED.name,
			enabled = EXCLUDED.enabled,
			priority = EXCLUDED.priority,
			environments = EXCLUDED.environments,
			rules = EXCLUDED.rules,
			updated_at = EXCLUDED.updated_at
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		policy.ID,
		policy.WorkspaceID,
		policy.Name,
		policy.Enabled,
		policy.Priority,
		pq.Array(policy.Environments),
		policy.Rules,
		policy.CreatedBy,
		policy.CreatedAt,
		policy.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert policy: %w", err)
	}

	r.logger.Debug("policy upserted", zap.String("id", policy.ID.String()))
	return nil
}

// Update updates a policy
func (r *PolicyRepository) Update(ctx context.Context, policy *models.Policy) error {
	query := `
		UPDATE kafka_policies
		SET workspace_id = $2,
		    name = $3,
		    enabled = $4,
		    priority = $5,
		    environments = $6,
		    rules = $7,
		    updated_at = $8
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		policy.ID,
		policy.WorkspaceID,
		policy.Name,
		policy.Enabled,
		policy.Priority,
		pq.Array(policy.Environments),
		policy.Rules,
		policy.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}

	if err := requireRowsAffected(result); err != nil {
		return err
	}

	r.logger.Debug("policy updated", zap.String("id", policy.ID.String()))
	return nil
}

// Delete deletes a policy
func (r *PolicyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM kafka_policies WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}

	if err := requireRowsAffected(result); err != nil {
		return err
	}

	r.logger.Debug("policy deleted", zap.String("id", id.String()))
	return nil
}

func (r *PolicyRepository) queryPolicies(ctx context.Context, query string, args ...interface{}) ([]*models.Policy, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	policies := make([]*models.Policy, 0)
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, policy)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy rows: %w", err)
	}

	return policies, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPolicy(row rowScanner) (*models.Policy, error) {
	policy := &models.Policy{}
	var environments pq.StringArray
	err := row.Scan(
		&policy.ID,
		&policy.WorkspaceID,
		&policy.Name,
		&policy.Enabled,
		&policy.Priority,
		&environments,
		&policy.Rules,
		&policy.CreatedBy,
		&policy.CreatedAt,
		&policy.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	policy.Environments = []string(environments)
	if policy.Environments == nil {
		policy.Environments = []string{}
	}
	return policy, nil
}

func requireRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}
