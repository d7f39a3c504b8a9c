// Package provisioning owns the lifecycle of provisioning requests: admission,
// approval decisions, deletion and the outcomes reported by the workflow engine.
package provisioning

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/kafka-control-plane/internal/observability"
	"github.com/upb/kafka-control-plane/models"
	"github.com/upb/kafka-control-plane/repositories"
	"github.com/upb/kafka-control-plane/services"
	"github.com/upb/kafka-control-plane/services/notify"
	"github.com/upb/kafka-control-plane/services/workflow"
	"github.com/upb/kafka-control-plane/utils"
	"go.uber.org/zap"
)

const (
	maxResourceNameLength = 249
	defaultListLimit      = 50
	maxListLimit          = 200
	defaultNotifyTimeout  = 5 * time.Second
)

// Admission outcomes recorded in metrics
const (
	outcomeCompliant       = "compliant"
	outcomeAutoApproved    = "auto_approved"
	outcomePendingApproval = "pending_approval"
)

var resourceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// PolicyEvaluator decides whether a resource spec complies with the policies in scope
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, workspaceID uuid.UUID, environment string, spec models.ResourceSpec) ([]models.PolicyViolation, error)
	CanAutoApprove(ctx context.Context, workspaceID uuid.UUID, environment string, spec models.ResourceSpec) (bool, error)
}

// Dispatcher hands jobs to the workflow engine
type Dispatcher interface {
	DispatchProvisioning(ctx context.Context, job workflow.ProvisioningJob) (string, error)
	DispatchDeletion(ctx context.Context, job workflow.DeletionJob) (string, error)
	Signal(ctx context.Context, workflowID, name string, payload map[string]interface{}) error
	Complete(ctx context.Context, result workflow.Result) error
	// IsStale reports whether result belongs to a run that has since been restarted
	IsStale(ctx context.Context, result workflow.Result) (bool, error)
}

// AuditLogger records request transitions
type AuditLogger interface {
	LogRequestEvent(req *models.ProvisioningRequest, action models.AuditAction, actor string, details map[string]interface{}) error
}

// CreateRequestInput carries the caller-supplied parameters of a new request
type CreateRequestInput struct {
	WorkspaceID       uuid.UUID           `json:"workspace_id" validate:"required"`
	Environment       string              `json:"environment" validate:"required,max=64"`
	ResourceType      models.ResourceType `json:"resource_type" validate:"required,oneof=topic virtual_cluster service_account"`
	VirtualClusterRef *string             `json:"virtual_cluster_ref,omitempty"`
	Spec              models.ResourceSpec `json:"spec"`
	RequestedBy       string              `json:"requested_by" validate:"required"`
}

// Service is the request lifecycle manager
type Service struct {
	requests      repositories.ProvisioningRequestRepository
	environments  repositories.WorkspaceEnvironmentRepository
	evaluator     PolicyEvaluator
	dispatcher    Dispatcher
	notifier      notify.Notifier
	audit         AuditLogger
	metrics       observability.Metrics
	notifyTimeout time.Duration
	logger        *zap.Logger

	notifications sync.WaitGroup
}

// NewService creates a new lifecycle manager with all dependencies
func NewService(
	repos *repositories.Repositories,
	evaluator PolicyEvaluator,
	dispatcher Dispatcher,
	notifier notify.Notifier,
	audit AuditLogger,
	metrics observability.Metrics,
	notifyTimeout time.Duration,
	logger *zap.Logger,
) *Service {
	if metrics == nil {
		metrics = observability.Noop{}
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	if notifyTimeout <= 0 {
		notifyTimeout = defaultNotifyTimeout
	}
	return &Service{
		requests:      repos.ProvisioningRequests,
		environments:  repos.WorkspaceEnvironments,
		evaluator:     evaluator,
		dispatcher:    dispatcher,
		notifier:      notifier,
		audit:         audit,
		metrics:       metrics,
		notifyTimeout: notifyTimeout,
		logger:        logger,
	}
}

// Create admits a new request. The returned record is non-nil whenever it was
// persisted, including when the synchronous dispatch failed: in that case the
// error is a dispatch error and the request stays provisioning without a
// workflow id until RetryDispatch succeeds.
func (s *Service) Create(ctx context.Context, input CreateRequestInput) (*models.ProvisioningRequest, error) {
	// Step 1: Validate input
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	logger := s.logger.With(
		zap.String("workspace_id", input.WorkspaceID.String()),
		zap.String("environment", input.Environment),
		zap.String("resource_type", string(input.ResourceType)),
		zap.String("name", input.Spec.Name))

	// Step 2: Resolve workspace environment
	env, err := s.environments.Get(ctx, input.WorkspaceID, input.Environment)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.NewDomainError(services.ErrorTypeNotFound, "workspace environment not found", err).
				WithDetail("workspace_id", input.WorkspaceID.String()).
				WithDetail("environment", input.Environment)
		}
		return nil, services.WrapInternal("failed to resolve workspace environment", err)
	}

	// Step 3: Evaluate policies
	violations, err := s.evaluator.Evaluate(ctx, input.WorkspaceID, input.Environment, input.Spec)
	if err != nil {
		return nil, services.WrapInternal("failed to evaluate policies", err)
	}

	// Step 4: Auto-approval only matters when something was violated
	approvalRequired := len(violations) > 0
	outcome := outcomeCompliant
	if approvalRequired {
		outcome = outcomePendingApproval
		autoApproved, err := s.evaluator.CanAutoApprove(ctx, input.WorkspaceID, input.Environment, input.Spec)
		if err != nil {
			return nil, services.WrapInternal("failed to resolve auto-approval", err)
		}
		if autoApproved {
			approvalRequired = false
			outcome = outcomeAutoApproved
		}
	}

	// Step 5: Persist
	req := models.NewProvisioningRequest(env, input.ResourceType, input.Spec, violations, approvalRequired, input.RequestedBy)
	req.VirtualClusterRef = input.VirtualClusterRef
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, services.WrapInternal("failed to persist provisioning request", err)
	}

	s.metrics.IncAdmission(string(input.ResourceType), outcome)
	s.metrics.IncTransition(string(req.Status))
	s.recordAudit(req, models.AuditActionRequestCreated, input.RequestedBy, map[string]interface{}{
		"outcome":    outcome,
		"violations": len(violations),
	})
	logger.Info("provisioning request created",
		zap.String("request_id", req.ID.String()),
		zap.String("status", string(req.Status)),
		zap.String("outcome", outcome),
		zap.Int("violations", len(violations)))

	if approvalRequired {
		return req, nil
	}

	// Step 6: Dispatch on the non-approval path
	return s.dispatchProvisioning(ctx, req, input.RequestedBy)
}

// Get returns a request by id
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.ProvisioningRequest, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrRequestNotFound
		}
		return nil, services.WrapInternal("failed to load provisioning request", err)
	}
	return req, nil
}

// List returns the requests of a workspace, newest first
func (s *Service) List(ctx context.Context, filter repositories.RequestFilter) ([]*models.ProvisioningRequest, error) {
	if filter.WorkspaceID == uuid.Nil {
		return nil, services.ValidationError("workspace_id", "workspace id is required")
	}
	if filter.ResourceType != "" && !filter.ResourceType.Valid() {
		return nil, services.ValidationError("resource_type", "unknown resource type")
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	reqs, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, services.WrapInternal("failed to list provisioning requests", err)
	}
	return reqs, nil
}

// WaitForNotifications blocks until in-flight notifications finish
func (s *Service) WaitForNotifications() {
	s.notifications.Wait()
}

func validateCreateInput(input CreateRequestInput) error {
	if err := utils.ValidateStruct(input); err != nil {
		derr := services.NewDomainError(services.ErrorTypeValidation, "invalid provisioning request", err)
		if fields := utils.GetValidationFields(err); fields != nil {
			derr.WithDetail("fields", fields)
		}
		return derr
	}
	name := input.Spec.Name
	if len(name) > maxResourceNameLength {
		return services.ValidationError("spec.name", "name must be at most 249 characters")
	}
	if !resourceNamePattern.MatchString(name) {
		return services.ValidationError("spec.name", "name may only contain letters, digits, '.', '_' and '-'")
	}
	if input.ResourceType == models.ResourceTypeTopic && input.Spec.Partitions < 1 {
		return services.ValidationError("spec.partitions", "a topic needs at least one partition")
	}
	return nil
}

// mapRepoError turns repository failures into domain errors
func mapRepoError(err error, action string) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return services.ErrRequestNotFound
	}
	var conflict *repositories.StatusConflictError
	if errors.As(err, &conflict) {
		return services.NewDomainError(services.ErrorTypeConflict, "request is not in a status that allows this action", err).
			WithDetail("action", action).
			WithDetail("current_status", conflict.Current)
	}
	return services.WrapInternal("failed to "+action+" provisioning request", err)
}

func (s *Service) recordAudit(req *models.ProvisioningRequest, action models.AuditAction, actor string, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogRequestEvent(req, action, actor, details); err != nil {
		s.logger.Warn("failed to queue audit event",
			zap.String("request_id", req.ID.String()),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}

// notifyAsync delivers n outside the caller's transition. Failures are logged.
func (s *Service) notifyAsync(n notify.Notification) {
	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("notification panicked",
					zap.String("request_id", n.RequestID.String()),
					zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.Warn("failed to notify requester",
				zap.String("request_id", n.RequestID.String()),
				zap.String("action", n.Action),
				zap.Error(err))
		}
	}()
}
