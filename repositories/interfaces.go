package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/upb/kafka-control-plane/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

type transactionContextKey struct{}

// ContextWithTransaction returns a context that makes repositories join tx
func ContextWithTransaction(ctx context.Context, tx Transaction) context.Context {
	return context.WithValue(ctx, transactionContextKey{}, tx)
}

// TransactionFromContext retrieves a transaction from the context if available
func TransactionFromContext(ctx context.Context) (Transaction, bool) {
	tx, ok := ctx.Value(transactionContextKey{}).(Transaction)
	return tx, ok
}

// PolicyRepository is the policy store
type PolicyRepository interface {
	// Create creates a new policy
	Create(ctx context.Context, policy *models.Policy) error

	// GetByID retrieves a policy by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Policy, error)

	// List returns policies scoped to workspaceID, or platform-wide
	// policies when workspaceID is nil
	List(ctx context.Context, workspaceID *uuid.UUID) ([]*models.Policy, error)

	// ListApplicable returns enabled policies scoped to the workspace or
	// platform-wide, highest priority first, capped at limit
	ListApplicable(ctx context.Context, workspaceID uuid.UUID, limit int) ([]*models.Policy, error)

	// Upsert creates or replaces a policy by ID
	Upsert(ctx context.Context, policy *models.Policy) error

	// Update updates a policy
	Update(ctx context.Context, policy *models.Policy) error

	// Delete deletes a policy
	Delete(ctx context.Context, id uuid.UUID) error
}

// RequestFilter narrows a provisioning request listing
type RequestFilter struct {
	WorkspaceID  uuid.UUID
	Environment  string
	ResourceType models.ResourceType
	Status       models.RequestStatus
	Limit        int
	Offset       int
}

// StatusUpdate carries the fields written together with a status transition.
// Nil fields keep their stored value. ClearErrorDetail drops a previous error
// and takes precedence over ErrorDetail.
type StatusUpdate struct {
	Status           models.RequestStatus
	ApprovedBy       *string
	ApprovedAt       *time.Time
	RejectedBy       *string
	RejectionReason  *string
	ErrorDetail      *string
	CompletedAt      *time.Time
	ClearErrorDetail bool
}

// ProvisioningRequestRepository persists provisioning requests. Each request
// is a single row updated in place.
type ProvisioningRequestRepository interface {
	// Create inserts a new request
	Create(ctx context.Context, req *models.ProvisioningRequest) error

	// GetByID retrieves a request by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.ProvisioningRequest, error)

	// List retrieves requests matching the filter, newest first
	List(ctx context.Context, filter RequestFilter) ([]*models.ProvisioningRequest, error)

	// Transition applies update only if the current status is one of from.
	// Returns ErrNotFound for an unknown id and a *StatusConflictError when
	// the guard fails.
	Transition(ctx context.Context, id uuid.UUID, from []models.RequestStatus, update StatusUpdate) (*models.ProvisioningRequest, error)

	// SetWorkflowID records the workflow correlation id
	SetWorkflowID(ctx context.Context, id uuid.UUID, workflowID string) error

	// CountActive counts requests of kind in the workspace that still hold a resource
	CountActive(ctx context.Context, workspaceID uuid.UUID, kind models.ResourceType) (int, error)
}

// QuotaRepository handles per-workspace quota overrides
type QuotaRepository interface {
	// GetOverride returns ErrNotFound when no override is set
	GetOverride(ctx context.Context, workspaceID uuid.UUID, kind models.ResourceType) (*models.QuotaOverride, error)

	// UpsertOverride creates or replaces the override
	UpsertOverride(ctx context.Context, override *models.QuotaOverride) error
}

// WorkspaceEnvironmentRepository resolves workspace environment bindings
type WorkspaceEnvironmentRepository interface {
	// Get returns ErrNotFound for an unknown workspace/environment pair
	Get(ctx context.Context, workspaceID uuid.UUID, environment string) (*models.WorkspaceEnvironment, error)

	// ListByWorkspace returns every environment bound to the workspace
	ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]*models.WorkspaceEnvironment, error)

	// Upsert creates or replaces the binding
	Upsert(ctx context.Context, env *models.WorkspaceEnvironment) error
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetByResourceID retrieves the audit trail of one resource, newest first
	GetByResourceID(ctx context.Context, resourceID uuid.UUID, limit, offset int) ([]*models.AuditLog, error)

	// GetByWorkspaceID retrieves audit logs for a workspace with pagination
	GetByWorkspaceID(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]*models.AuditLog, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Policies              PolicyRepository
	ProvisioningRequests  ProvisioningRequestRepository
	Quotas                QuotaRepository
	WorkspaceEnvironments WorkspaceEnvironmentRepository
	AuditLogs             AuditRepository
}
