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

// WorkspaceEnvironmentRepository implements repositories.WorkspaceEnvironmentRepository
type WorkspaceEnvironmentRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewWorkspaceEnvironmentRepository creates a new workspace environment repository
func NewWorkspaceEnvironmentRepository(db *DB, logger *zap.Logger) repositories.WorkspaceEnvironmentRepository {
	return &WorkspaceEnvironmentRepository{db: db, logger: logger}
}

// Get resolves one workspace/environment binding
func (r *WorkspaceEnvironmentRepository) Get(ctx context.Context, workspaceID uuid.UUID, environment string) (*models.WorkspaceEnvironment, error) {
	query := `
		SELECT workspace_id, environment, resource_prefix, cluster_ref, created_at
		FROM workspace_environments
		WHERE workspace_id = $1 AND environment = $2
	`

	env := &models.WorkspaceEnvironment{}
	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query, workspaceID, environment).Scan(
		&env.WorkspaceID,
		&env.Environment,
		&env.ResourcePrefix,
		&env.ClusterRef,
		&env.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get workspace environment: %w", err)
	}

	return env, nil
}

// ListByWorkspace returns every environment bound to the workspace
func (r *WorkspaceEnvironmentRepository) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]*models.WorkspaceEnvironment, error) {
	query := `
		SELECT workspace_id, environment, resource_prefix, cluster_ref, created_at
		FROM workspace_environments
		WHERE workspace_id = $1
		ORDER BY environment
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workspace environments: %w", err)
	}
	defer rows.Close()

	envs := make([]*models.WorkspaceEnvironment, 0)
	for rows.Next() {
		env := &models.WorkspaceEnvironment{}
		if err := rows.Scan(&env.WorkspaceID, &env.Environment, &env.ResourcePrefix, &env.ClusterRef, &env.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workspace environment: %w", err)
		}
		envs = append(envs, env)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workspace environment rows: %w", err)
	}

	return envs, nil
}

// Upsert creates or replaces the binding. The resource prefix of an existing
// binding is kept so full resource names stay stable.
func (r *WorkspaceEnvironmentRepository) Upsert(ctx context.Context, env *models.WorkspaceEnvironment) error {
	query := `
		INSERT INTO workspace_environments (workspace_id, environment, resource_prefix, cluster_ref, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workspace_id, environment) DO UPDATE SET
			cluster_ref = EXCLUDED.cluster_ref
	`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, env.WorkspaceID, env.Environment, env.ResourcePrefix, env.ClusterRef, env.CreatedAt); err != nil {
		return fmt.Errorf("failed to upsert workspace environment: %w", err)
	}

	r.logger.Debug("workspace environment upserted",
		zap.String("workspace_id", env.WorkspaceID.String()),
		zap.String("environment", env.Environment))
	return nil
}
