package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/kafka-control-plane/middleware"
	"github.com/upb/kafka-control-plane/models"
	"github.com/upb/kafka-control-plane/repositories"
	"github.com/upb/kafka-control-plane/services"
	"github.com/upb/kafka-control-plane/services/provisioning"
	"github.com/upb/kafka-control-plane/utils"
	"go.uber.org/zap"
)

// RequestService defines the request lifecycle operations used by the handler
type RequestService interface {
	Create(ctx context.Context, input provisioning.CreateRequestInput) (*models.ProvisioningRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*models.ProvisioningRequest, error)
	List(ctx context.Context, filter repositories.RequestFilter) ([]*models.ProvisioningRequest, error)
	Approve(ctx context.Context, id uuid.UUID, approver string) (*models.ProvisioningRequest, error)
	Reject(ctx context.Context, id uuid.UUID, rejector, reason string) (*models.ProvisioningRequest, error)
	Cancel(ctx context.Context, id uuid.UUID, actor, reason string) (*models.ProvisioningRequest, error)
	Delete(ctx context.Context, id uuid.UUID, actor string) (*models.ProvisioningRequest, error)
	RetryDispatch(ctx context.Context, id uuid.UUID, actor string) (*models.ProvisioningRequest, error)
}

// QuotaGuard rejects creations that would exceed a workspace quota
type QuotaGuard interface {
	EnsureWithinQuota(ctx context.Context, workspaceID uuid.UUID, kind models.ResourceType) (*models.QuotaStatus, error)
}

// CreateRequestBody is the payload of POST /workspaces/{workspaceID}/requests
type CreateRequestBody struct {
	Environment       string              `json:"environment" validate:"required,max=64"`
	ResourceType      models.ResourceType `json:"resource_type" validate:"required"`
	VirtualClusterRef *string             `json:"virtual_cluster_ref,omitempty"`
	Spec              models.ResourceSpec `json:"spec"`
}

// ReasonBody carries the free-text reason of reject and cancel
type ReasonBody struct {
	Reason string `json:"reason"`
}

// ListRequestsResponse wraps a page of requests
type ListRequestsResponse struct {
	Requests []*models.ProvisioningRequest `json:"requests"`
	Count    int                           `json:"count"`
	Limit    int                           `json:"limit"`
	Offset   int                           `json:"offset"`
}

// RequestHandler handles provisioning request endpoints
type RequestHandler struct {
	service RequestService
	quotas  QuotaGuard
	logger  *zap.Logger
}

// NewRequestHandler creates a new RequestHandler
func NewRequestHandler(service RequestService, quotas QuotaGuard, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{
		service: service,
		quotas:  quotas,
		logger:  logger,
	}
}

// HandleCreate handles POST /workspaces/{workspaceID}/requests
func (h *RequestHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	workspaceID, err := utils.ParseUUID(chi.URLParam(r, "workspaceID"), "workspace_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	var body CreateRequestBody
	if err := utils.DecodeJSON(r, &body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if h.quotas != nil && body.ResourceType.Valid() {
		if _, err := h.quotas.EnsureWithinQuota(ctx, workspaceID, body.ResourceType); err != nil {
			HandleServiceError(w, err, h.logger)
			return
		}
	}

	req, err := h.service.Create(ctx, provisioning.CreateRequestInput{
		WorkspaceID:       workspaceID,
		Environment:       body.Environment,
		ResourceType:      body.ResourceType,
		VirtualClusterRef: body.VirtualClusterRef,
		Spec:              body.Spec,
		RequestedBy:       middleware.ActorFromContext(ctx),
	})
	if err != nil {
		h.handleLifecycleError(w, r, req, err)
		return
	}

	h.logger.Info("provisioning request submitted",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("provisioning_request_id", req.ID.String()),
		zap.String("status", string(req.Status)))

	_ = utils.WriteCreated(w, req)
}

// HandleList handles GET /workspaces/{workspaceID}/requests
func (h *RequestHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	workspaceID, err := utils.ParseUUID(chi.URLParam(r, "workspaceID"), "workspace_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	q := r.URL.Query()
	filter := repositories.RequestFilter{
		WorkspaceID:  workspaceID,
		Environment:  q.Get("environment"),
		ResourceType: models.ResourceType(q.Get("resource_type")),
		Status:       models.RequestStatus(q.Get("status")),
	}
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		_ = utils.WriteBadRequest(w, "limit must be an integer", nil)
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		_ = utils.WriteBadRequest(w, "offset must be an integer", nil)
		return
	}

	reqs, err := h.service.List(r.Context(), filter)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if reqs == nil {
		reqs = []*models.ProvisioningRequest{}
	}

	_ = utils.WriteOK(w, ListRequestsResponse{
		Requests: reqs,
		Count:    len(reqs),
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	})
}

// HandleGet handles GET /requests/{id}
func (h *RequestHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}

	req, err := h.service.Get(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, req)
}

// HandleApprove handles POST /requests/{id}/approve
func (h *RequestHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}

	req, err := h.service.Approve(r.Context(), id, middleware.ActorFromContext(r.Context()))
	if err != nil {
		h.handleLifecycleError(w, r, req, err)
		return
	}
	_ = utils.WriteOK(w, req)
}

// HandleReject handles POST /requests/{id}/reject
func (h *RequestHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}

	var body ReasonBody
	if err := utils.DecodeJSON(r, &body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	req, err := h.service.Reject(r.Context(), id, middleware.ActorFromContext(r.Context()), body.Reason)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, req)
}

// HandleCancel handles POST /requests/{id}/cancel. The body is optional.
// A running execution only receives a cancel signal, answered with 202.
func (h *RequestHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}

	var body ReasonBody
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(r, &body); err != nil {
			HandleValidationError(w, err, h.logger)
			return
		}
	}

	req, err := h.service.Cancel(r.Context(), id, middleware.ActorFromContext(r.Context()), body.Reason)
	if err != nil {
		h.handleLifecycleError(w, r, req, err)
		return
	}
	if req.Status == models.StatusCancelled {
		_ = utils.WriteOK(w, req)
		return
	}
	_ = utils.WriteAccepted(w, req)
}

// HandleDelete handles DELETE /requests/{id}
func (h *RequestHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}

	req, err := h.service.Delete(r.Context(), id, middleware.ActorFromContext(r.Context()))
	if err != nil {
		h.handleLifecycleError(w, r, req, err)
		return
	}
	// a request that never provisioned anything is closed synchronously
	if req.Status == models.StatusDeleted {
		_ = utils.WriteOK(w, req)
		return
	}
	_ = utils.WriteAccepted(w, req)
}

// HandleRetryDispatch handles POST /requests/{id}/retry-dispatch
func (h *RequestHandler) HandleRetryDispatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}

	req, err := h.service.RetryDispatch(r.Context(), id, middleware.ActorFromContext(r.Context()))
	if err != nil {
		h.handleLifecycleError(w, r, req, err)
		return
	}
	_ = utils.WriteAccepted(w, req)
}

func (h *RequestHandler) requestID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := utils.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return uuid.Nil, false
	}
	return id, true
}

// handleLifecycleError reports a dispatch failure on a persisted request with
// enough detail for the caller to retry; anything else goes through the
// regular mapping.
func (h *RequestHandler) handleLifecycleError(w http.ResponseWriter, r *http.Request, req *models.ProvisioningRequest, err error) {
	if req == nil || !services.IsDispatchError(err) {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Warn("request persisted but dispatch failed",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("provisioning_request_id", req.ID.String()),
		zap.Error(err))

	_ = utils.WriteServiceUnavailable(w, "Workflow engine unavailable; retry the dispatch", map[string]interface{}{
		"request_id": req.ID.String(),
		"status":     req.Status,
		"retry_path": "/api/v1/requests/" + req.ID.String() + "/retry-dispatch",
	})
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
