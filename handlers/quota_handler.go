package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/kafka-control-plane/middleware"
	"github.com/upb/kafka-control-plane/models"
	"github.com/upb/kafka-control-plane/utils"
	"go.uber.org/zap"
)

// QuotaService defines the quota operations exposed over HTTP
type QuotaService interface {
	CheckQuota(ctx context.Context, workspaceID uuid.UUID, kind models.ResourceType) (*models.QuotaStatus, error)
	SetQuotaOverride(ctx context.Context, workspaceID uuid.UUID, kind models.ResourceType, newLimit int, reason, setBy string) (*models.QuotaOverride, error)
}

// QuotaOverrideBody is the payload of PUT /workspaces/{workspaceID}/quotas/{kind}
type QuotaOverrideBody struct {
	Limit  int    `json:"limit" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

// QuotaHandler handles workspace quota endpoints
type QuotaHandler struct {
	service QuotaService
	logger  *zap.Logger
}

// NewQuotaHandler creates a new QuotaHandler
func NewQuotaHandler(service QuotaService, logger *zap.Logger) *QuotaHandler {
	return &QuotaHandler{
		service: service,
		logger:  logger,
	}
}

// HandleGetQuota handles GET /workspaces/{workspaceID}/quotas/{kind}
func (h *QuotaHandler) HandleGetQuota(w http.ResponseWriter, r *http.Request) {
	workspaceID, err := utils.ParseUUID(chi.URLParam(r, "workspaceID"), "workspace_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	status, err := h.service.CheckQuota(r.Context(), workspaceID, models.ResourceType(chi.URLParam(r, "kind")))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, status)
}

// HandleSetQuota handles PUT /workspaces/{workspaceID}/quotas/{kind}
func (h *QuotaHandler) HandleSetQuota(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	workspaceID, err := utils.ParseUUID(chi.URLParam(r, "workspaceID"), "workspace_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	var body QuotaOverrideBody
	if err := utils.DecodeJSON(r, &body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	actor := middleware.ActorFromContext(ctx)
	override, err := h.service.SetQuotaOverride(ctx, workspaceID, models.ResourceType(chi.URLParam(r, "kind")), body.Limit, body.Reason, actor)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("quota override set",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("workspace_id", workspaceID.String()),
		zap.String("resource_kind", string(override.ResourceKind)),
		zap.Int("limit", override.Limit),
		zap.String("set_by", actor))
	_ = utils.WriteOK(w, override)
}
