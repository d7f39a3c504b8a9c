package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/kafka-control-plane/models"
	"github.com/upb/kafka-control-plane/repositories"
	"go.uber.org/zap"
)

const requestColumns = `id, resource_type, spec, workspace_id, virtual_cluster_ref, environment, cluster_ref,
	full_resource_name, status, approval_required, violations, requested_by,
	approved_by, approved_at, rejected_by, rejection_reason, workflow_id, error_detail,
	created_at, updated_at, completed_at`

// ProvisioningRequestRepository implements repositories.ProvisioningRequestRepository
type ProvisioningRequestRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewProvisioningRequestRepository creates a new provisioning request repository
func NewProvisioningRequestRepository(db *DB, logger *zap.Logger) repositories.ProvisioningRequestRepository {
	return &ProvisioningRequestRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new request
func (r *ProvisioningRequestRepository) Create(ctx context.Context, req *models.ProvisioningRequest) error {
	query := `
		INSERT INTO provisioning_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		req.ID,
		req.ResourceType,
		req.Spec,
		req.WorkspaceID,
		req.VirtualClusterRef,
		req.Environment,
		req.ClusterRef,
		req.FullResourceName,
		req.Status,
		req.ApprovalRequired,
		req.Violations,
		req.RequestedBy,
		req.ApprovedBy,
		req.ApprovedAt,
		req.RejectedBy,
		req.RejectionReason,
		req.WorkflowID,
		req.ErrorDetail,
		req.CreatedAt,
		req.UpdatedAt,
		req.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create provisioning request: %w", err)
	}

	r.logger.Debug("provisioning request created",
		zap.String("id", req.ID.String()),
		zap.String("status", string(req.Status)))
	return nil
}

// GetByID retrieves a request by ID
func (r *ProvisioningRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ProvisioningRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM provisioning_requests WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	req, err := scanRequest(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get provisioning request: %w", err)
	}

	return req, nil
}

// List retrieves requests matching the filter, newest first
func (r *ProvisioningRequestRepository) List(ctx context.Context, filter repositories.RequestFilter) ([]*models.ProvisioningRequest, error) {
	conditions := []string{"workspace_id = $1"}
	args := []interface{}{filter.WorkspaceID}

	if filter.Environment != "" {
		args = append(args, filter.Environment)
		conditions = append(conditions, fmt.Sprintf("environment = $%d", len(args)))
	}
	if filter.ResourceType != "" {
		args = append(args, filter.ResourceType)
		conditions = append(conditions, fmt.Sprintf("resource_type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	query := fmt.Sprintf(`
		SELECT %s
		FROM provisioning_requests
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, requestColumns, strings.Join(conditions, " AND "), len(args)-1, len(args))

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query provisioning requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*models.ProvisioningRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provisioning request: %w", err)
		}
		requests = append(requests, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provisioning request rows: %w", err)
	}

	return requests, nil
}

// Transition is a compare-and-swap on the status column of one row
func (r *ProvisioningRequestRepository) Transition(ctx context.Context, id uuid.UUID, from []models.RequestStatus, update repositories.StatusUpdate) (*models.ProvisioningRequest, error) {
	query := `
		UPDATE provisioning_requests
		SET status = $3,
		    approved_by = COALESCE($4, approved_by),
		    approved_at = COALESCE($5, approved_at),
		    rejected_by = COALESCE($6, rejected_by),
		    rejection_reason = COALESCE($7, rejection_reason),
		    error_detail = CASE WHEN $11 THEN NULL ELSE COALESCE($8, error_detail) END,
		    completed_at = COALESCE($9, completed_at),
		    updated_at = $10
		WHERE id = $1 AND status = ANY($2)
		RETURNING ` + requestColumns

	executor := GetExecutor(ctx, r.db)
	req, err := scanRequest(executor.QueryRowContext(ctx, query,
		id,
		pq.Array(statusStrings(from)),
		update.Status,
		update.ApprovedBy,
		update.ApprovedAt,
		update.RejectedBy,
		update.RejectionReason,
		update.ErrorDetail,
		update.CompletedAt,
		time.Now().UTC(),
		update.ClearErrorDetail,
	))
	if err == nil {
		r.logger.Debug("provisioning request transitioned",
			zap.String("id", id.String()),
			zap.String("status", string(update.Status)))
		return req, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to transition provisioning request: %w", err)
	}

	// No row matched the guard; tell a missing row apart from a status conflict.
	var current models.RequestStatus
	err = executor.QueryRowContext(ctx, `SELECT status FROM provisioning_requests WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read provisioning request status: %w", err)
	}

	return nil, &repositories.StatusConflictError{Current: current, Allowed: from}
}

// SetWorkflowID records the workflow correlation id
func (r *ProvisioningRequestRepository) SetWorkflowID(ctx context.Context, id uuid.UUID, workflowID string) error {
	query := `UPDATE provisioning_requests SET workflow_id = $2, updated_at = $3 WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, workflowID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set workflow id: %w", err)
	}

	return requireRowsAffected(result)
}

// CountActive counts requests of kind that still hold a resource
func (r *ProvisioningRequestRepository) CountActive(ctx context.Context, workspaceID uuid.UUID, kind models.ResourceType) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM provisioning_requests
		WHERE workspace_id = $1 AND resource_type = $2 AND NOT (status = ANY($3))
	`

	var count int
	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query, workspaceID, kind, pq.Array(statusStrings(models.InactiveStatuses))).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count provisioning requests: %w", err)
	}

	return count, nil
}

func statusStrings(statuses []models.RequestStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func scanRequest(row rowScanner) (*models.ProvisioningRequest, error) {
	req := &models.ProvisioningRequest{}
	err := row.Scan(
		&req.ID,
		&req.ResourceType,
		&req.Spec,
		&req.WorkspaceID,
		&req.VirtualClusterRef,
		&req.Environment,
		&req.ClusterRef,
		&req.FullResourceName,
		&req.Status,
		&req.ApprovalRequired,
		&req.Violations,
		&req.RequestedBy,
		&req.ApprovedBy,
		&req.ApprovedAt,
		&req.RejectedBy,
		&req.RejectionReason,
		&req.WorkflowID,
		&req.ErrorDetail,
		&req.CreatedAt,
		&req.UpdatedAt,
		&req.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}
