package provisioning

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/kafka-control-plane/models"
	"github.com/upb/kafka-control-plane/repositories"
	"github.com/upb/kafka-control-plane/services"
	"github.com/upb/kafka-control-plane/services/notify"
	"github.com/upb/kafka-control-plane/services/workflow"
	"go.uber.org/zap"
)

// resourceStatuses may hold a topic created by the engine; deleting from
// them dispatches a deletion
var resourceStatuses = []models.RequestStatus{
	models.StatusProvisioning,
	models.StatusActive,
	models.StatusFailed,
}

// unprovisionedStatuses never reached the engine; deleting from them only
// closes the record
var unprovisionedStatuses = []models.RequestStatus{
	models.StatusPendingApproval,
	models.StatusRejected,
	models.StatusCancelled,
}

func isUnprovisioned(status models.RequestStatus) bool {
	for _, s := range unprovisionedStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Approve moves a pending request to provisioning and dispatches it. The job
// is built from the stored record only.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, approver string) (*models.ProvisioningRequest, error) {
	if strings.TrimSpace(approver) == "" {
		return nil, services.ValidationError("approver", "approver identity is required")
	}

	now := time.Now().UTC()
	req, err := s.requests.Transition(ctx, id,
		[]models.RequestStatus{models.StatusPendingApproval},
		repositories.StatusUpdate{
			Status:     models.StatusProvisioning,
			ApprovedBy: &approver,
			ApprovedAt: &now,
		})
	if err != nil {
		return nil, mapRepoError(err, "approve")
	}

	s.metrics.IncTransition(string(req.Status))
	s.recordAudit(req, models.AuditActionRequestApproved, approver, nil)
	s.logger.Info("provisioning request approved",
		zap.String("request_id", req.ID.String()),
		zap.String("approved_by", approver))

	return s.dispatchProvisioning(ctx, req, approver)
}

// Reject closes a pending request with a reason and notifies the requester
func (s *Service) Reject(ctx context.Context, id uuid.UUID, rejector, reason string) (*models.ProvisioningRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, services.ValidationError("reason", "rejection reason is required")
	}
	if strings.TrimSpace(rejector) == "" {
		return nil, services.ValidationError("rejector", "rejector identity is required")
	}

	now := time.Now().UTC()
	req, err := s.requests.Transition(ctx, id,
		[]models.RequestStatus{models.StatusPendingApproval},
		repositories.StatusUpdate{
			Status:          models.StatusRejected,
			RejectedBy:      &rejector,
			RejectionReason: &reason,
			CompletedAt:     &now,
		})
	if err != nil {
		return nil, mapRepoError(err, "reject")
	}

	s.metrics.IncTransition(string(req.Status))
	s.recordAudit(req, models.AuditActionRequestRejected, rejector, map[string]interface{}{"reason": reason})
	s.logger.Info("provisioning request rejected",
		zap.String("request_id", req.ID.String()),
		zap.String("rejected_by", rejector))

	s.notifyAsync(notify.ForRequest(req, notify.ActionRejected, rejector, reason))
	return req, nil
}

// Cancel withdraws a pending request. For a request with a running execution
// a cancel signal is sent instead and the engine reports the final status.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor, reason string) (*models.ProvisioningRequest, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch req.Status {
	case models.StatusPendingApproval:
		now := time.Now().UTC()
		req, err = s.requests.Transition(ctx, id,
			[]models.RequestStatus{models.StatusPendingApproval},
			repositories.StatusUpdate{Status: models.StatusCancelled, CompletedAt: &now})
		if err != nil {
			return nil, mapRepoError(err, "cancel")
		}
		s.metrics.IncTransition(string(req.Status))
		s.recordAudit(req, models.AuditActionRequestCancelled, actor, map[string]interface{}{"reason": reason})
		return req, nil

	case models.StatusProvisioning, models.StatusDeleting:
		if !req.HasWorkflow() {
			return nil, services.ErrNoWorkflowToSignal
		}
		payload := map[string]interface{}{"actor": actor}
		if reason != "" {
			payload["reason"] = reason
		}
		if err := s.dispatcher.Signal(ctx, *req.WorkflowID, workflow.SignalCancel, payload); err != nil {
			return req, err
		}
		s.recordAudit(req, models.AuditActionRequestCancelled, actor, map[string]interface{}{
			"reason":      reason,
			"workflow_id": *req.WorkflowID,
			"signalled":   true,
		})
		s.logger.Info("cancel signalled to workflow",
			zap.String("request_id", req.ID.String()),
			zap.String("workflow_id", *req.WorkflowID))
		return req, nil
	}

	return nil, services.NewDomainError(services.ErrorTypeConflict, "request is not in a status that allows this action", nil).
		WithDetail("action", "cancel").
		WithDetail("current_status", req.Status)
}

// Delete moves a request to deleting and dispatches the deletion of its
// resource. A request that never reached the engine owns no resource and is
// marked deleted directly.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor string) (*models.ProvisioningRequest, error) {
	req, err := s.requests.Transition(ctx, id, resourceStatuses,
		repositories.StatusUpdate{Status: models.StatusDeleting, ClearErrorDetail: true})
	if err != nil {
		var conflict *repositories.StatusConflictError
		if errors.As(err, &conflict) && isUnprovisioned(conflict.Current) {
			return s.closeUnprovisioned(ctx, id, actor)
		}
		return nil, mapRepoError(err, "delete")
	}

	s.metrics.IncTransition(string(req.Status))
	s.recordAudit(req, models.AuditActionDeletionRequested, actor, nil)
	s.logger.Info("deletion requested",
		zap.String("request_id", req.ID.String()),
		zap.String("full_resource_name", req.FullResourceName))

	return s.dispatchDeletion(ctx, req, actor)
}

func (s *Service) closeUnprovisioned(ctx context.Context, id uuid.UUID, actor string) (*models.ProvisioningRequest, error) {
	now := time.Now().UTC()
	req, err := s.requests.Transition(ctx, id, unprovisionedStatuses,
		repositories.StatusUpdate{Status: models.StatusDeleted, CompletedAt: &now})
	if err != nil {
		return nil, mapRepoError(err, "delete")
	}

	s.metrics.IncTransition(string(req.Status))
	s.recordAudit(req, models.AuditActionRequestDeleted, actor, map[string]interface{}{"dispatched": false})
	s.logger.Info("request deleted without dispatch",
		zap.String("request_id", req.ID.String()))
	return req, nil
}

// RetryDispatch re-issues the dispatch of a request left without a running
// execution. Safe to call any number of times.
func (s *Service) RetryDispatch(ctx context.Context, id uuid.UUID, actor string) (*models.ProvisioningRequest, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch req.Status {
	case models.StatusProvisioning:
		return s.dispatchProvisioning(ctx, req, actor)
	case models.StatusDeleting:
		return s.dispatchDeletion(ctx, req, actor)
	}
	return nil, services.NewDomainError(services.ErrorTypeConflict, "request has nothing to dispatch", nil).
		WithDetail("current_status", req.Status)
}

// RecordWorkflowResult applies an execution outcome. Results of a superseded
// run, or that no longer match the request status, are ignored, so
// redelivery is harmless.
func (s *Service) RecordWorkflowResult(ctx context.Context, result workflow.Result) (*models.ProvisioningRequest, error) {
	var (
		from       models.RequestStatus
		to         models.RequestStatus
		action     models.AuditAction
		expectedID string
	)
	switch result.Kind {
	case workflow.JobKindProvision:
		from, to, expectedID = models.StatusProvisioning, models.StatusActive, workflow.ProvisionWorkflowID(result.RequestID)
	case workflow.JobKindDelete:
		from, to, expectedID = models.StatusDeleting, models.StatusDeleted, workflow.DeletionWorkflowID(result.RequestID)
	default:
		return nil, services.ValidationError("kind", "unknown workflow kind")
	}
	if result.WorkflowID != expectedID {
		return nil, services.ValidationError("workflow_id", "workflow id does not belong to the request")
	}

	update := repositories.StatusUpdate{Status: to}
	action = models.AuditActionWorkflowSucceeded
	switch result.Outcome {
	case workflow.OutcomeSucceeded:
	case workflow.OutcomeFailed:
		detail := result.Error
		if detail == "" {
			detail = "workflow reported failure without detail"
		}
		update.Status = models.StatusFailed
		update.ErrorDetail = &detail
		action = models.AuditActionWorkflowFailed
	default:
		return nil, services.ValidationError("outcome", "unknown workflow outcome")
	}
	completedAt := result.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	update.CompletedAt = &completedAt

	logger := s.logger.With(
		zap.String("request_id", result.RequestID.String()),
		zap.String("workflow_id", result.WorkflowID),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("run", result.Run))

	stale, err := s.dispatcher.IsStale(ctx, result)
	if err != nil {
		return nil, services.WrapDispatch("failed to check workflow run", err)
	}
	if stale {
		logger.Info("ignoring workflow result of superseded run")
		return s.Get(ctx, result.RequestID)
	}

	req, err := s.requests.Transition(ctx, result.RequestID, []models.RequestStatus{from}, update)
	if err != nil {
		var conflict *repositories.StatusConflictError
		if !errors.As(err, &conflict) {
			return nil, mapRepoError(err, "record result for")
		}
		logger.Info("ignoring workflow result for request in status",
			zap.String("status", string(conflict.Current)))
		if err := s.completeExecution(ctx, result); err != nil {
			return nil, err
		}
		return s.Get(ctx, result.RequestID)
	}

	s.metrics.IncWorkflowResult(string(result.Kind), string(result.Outcome))
	s.metrics.IncTransition(string(req.Status))
	details := map[string]interface{}{"workflow_id": result.WorkflowID}
	if update.ErrorDetail != nil {
		details["error"] = *update.ErrorDetail
	}
	s.recordAudit(req, action, "workflow-engine", details)
	logger.Info("workflow result recorded", zap.String("status", string(req.Status)))

	if req.Status == models.StatusFailed {
		s.notifyAsync(notify.ForRequest(req, notify.ActionFailed, "workflow-engine", *update.ErrorDetail))
	}

	if err := s.completeExecution(ctx, result); err != nil {
		return req, err
	}
	return req, nil
}

// HandleWorkflowResult adapts RecordWorkflowResult to the result subscriber
func (s *Service) HandleWorkflowResult(ctx context.Context, result workflow.Result) error {
	_, err := s.RecordWorkflowResult(ctx, result)
	return err
}

func (s *Service) completeExecution(ctx context.Context, result workflow.Result) error {
	if err := s.dispatcher.Complete(ctx, result); err != nil {
		s.logger.Warn("failed to mark execution finished",
			zap.String("workflow_id", result.WorkflowID),
			zap.Error(err))
		return services.WrapDispatch("failed to mark execution finished", err)
	}
	return nil
}

func (s *Service) dispatchProvisioning(ctx context.Context, req *models.ProvisioningRequest, actor string) (*models.ProvisioningRequest, error) {
	workflowID, err := s.dispatcher.DispatchProvisioning(ctx, workflow.ProvisioningJobFromRequest(req))
	if err != nil {
		s.logger.Warn("provisioning dispatch failed; request left for retry",
			zap.String("request_id", req.ID.String()),
			zap.Error(err))
		return req, err
	}
	return s.recordWorkflow(ctx, req, workflowID, actor)
}

func (s *Service) dispatchDeletion(ctx context.Context, req *models.ProvisioningRequest, actor string) (*models.ProvisioningRequest, error) {
	workflowID, err := s.dispatcher.DispatchDeletion(ctx, workflow.DeletionJobFromRequest(req))
	if err != nil {
		s.logger.Warn("deletion dispatch failed; request left for retry",
			zap.String("request_id", req.ID.String()),
			zap.Error(err))
		return req, err
	}
	return s.recordWorkflow(ctx, req, workflowID, actor)
}

func (s *Service) recordWorkflow(ctx context.Context, req *models.ProvisioningRequest, workflowID, actor string) (*models.ProvisioningRequest, error) {
	if err := s.requests.SetWorkflowID(ctx, req.ID, workflowID); err != nil {
		s.logger.Warn("workflow dispatched but its id was not recorded",
			zap.String("request_id", req.ID.String()),
			zap.String("workflow_id", workflowID),
			zap.Error(err))
		return req, services.WrapDispatch("failed to record workflow id", err)
	}
	req.WorkflowID = &workflowID
	s.recordAudit(req, models.AuditActionWorkflowDispatched, actor, map[string]interface{}{"workflow_id": workflowID})
	return req, nil
}
