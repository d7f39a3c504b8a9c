package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/kafka-control-plane/middleware"
	"github.com/upb/kafka-control-plane/models"
	"github.com/upb/kafka-control-plane/services/policy"
	"github.com/upb/kafka-control-plane/utils"
	"go.uber.org/zap"
)

// maxPolicyFileBytes caps the size of an uploaded policy file
const maxPolicyFileBytes = 1 << 20

// PolicyBody represents a request to create or replace a policy
type PolicyBody struct {
	WorkspaceID  *uuid.UUID         `json:"workspace_id,omitempty"`
	Name         string             `json:"name" validate:"required,max=255"`
	Enabled      *bool              `json:"enabled,omitempty"`
	Priority     int                `json:"priority" validate:"gte=0"`
	Environments []string           `json:"environments,omitempty"`
	Rules        models.PolicyRules `json:"rules"`
}

func (b PolicyBody) input() policy.PolicyInput {
	return policy.PolicyInput{
		WorkspaceID:  b.WorkspaceID,
		Name:         b.Name,
		Enabled:      b.Enabled,
		Priority:     b.Priority,
		Environments: b.Environments,
		Rules:        b.Rules,
	}
}

// ApplyPoliciesResponse reports how many policies a file upserted
type ApplyPoliciesResponse struct {
	Applied int `json:"applied"`
}

// PolicyService defines the interface for policy operations
type PolicyService interface {
	Create(ctx context.Context, input policy.PolicyInput, actor string) (*models.Policy, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Policy, error)
	List(ctx context.Context, workspaceID *uuid.UUID) ([]*models.Policy, error)
	Update(ctx context.Context, id uuid.UUID, input policy.PolicyInput, actor string) (*models.Policy, error)
	Delete(ctx context.Context, id uuid.UUID, actor string) error
	Apply(ctx context.Context, policies []*models.Policy, actor string) (int, error)
	CacheStats() policy.CacheStats
}

// PolicyHandler handles policy-related HTTP requests
type PolicyHandler struct {
	service PolicyService
	logger  *zap.Logger
}

// NewPolicyHandler creates a new PolicyHandler
func NewPolicyHandler(service PolicyService, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{
		service: service,
		logger:  logger,
	}
}

// HandleListPolicies handles GET /policies. Without workspace_id it lists the
// platform-wide policies.
func (h *PolicyHandler) HandleListPolicies(w http.ResponseWriter, r *http.Request) {
	var workspaceID *uuid.UUID
	if raw := r.URL.Query().Get("workspace_id"); raw != "" {
		id, err := utils.ParseUUID(raw, "workspace_id")
		if err != nil {
			HandleValidationError(w, err, h.logger)
			return
		}
		workspaceID = &id
	}

	policies, err := h.service.List(r.Context(), workspaceID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if policies == nil {
		policies = []*models.Policy{}
	}
	_ = utils.WriteOK(w, policies)
}

// HandleGetPolicy handles GET /policies/{id}
func (h *PolicyHandler) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}

	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, p)
}

// HandleCreatePolicy handles POST /policies
func (h *PolicyHandler) HandleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decodeBody(w, r)
	if !ok {
		return
	}

	p, err := h.service.Create(r.Context(), body.input(), middleware.ActorFromContext(r.Context()))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("policy created",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("policy_id", p.ID.String()))
	_ = utils.WriteCreated(w, p)
}

// HandleUpdatePolicy handles PUT /policies/{id}
func (h *PolicyHandler) HandleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}
	body, ok := h.decodeBody(w, r)
	if !ok {
		return
	}

	p, err := h.service.Update(r.Context(), id, body.input(), middleware.ActorFromContext(r.Context()))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, p)
}

// HandleDeletePolicy handles DELETE /policies/{id}
func (h *PolicyHandler) HandleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id, middleware.ActorFromContext(r.Context())); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	utils.WriteNoContent(w)
}

// HandleApplyPolicies handles POST /policies/apply with a YAML policy file body
func (h *PolicyHandler) HandleApplyPolicies(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxPolicyFileBytes))
	if err != nil {
		_ = utils.WriteBadRequest(w, "failed to read policy file", nil)
		return
	}

	policies, err := policy.ParsePolicyFile(data)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	applied, err := h.service.Apply(r.Context(), policies, middleware.ActorFromContext(r.Context()))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, ApplyPoliciesResponse{Applied: applied})
}

// HandleCacheStats handles GET /policies/cache
func (h *PolicyHandler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.service.CacheStats())
}

func (h *PolicyHandler) policyID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := utils.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return uuid.Nil, false
	}
	return id, true
}

func (h *PolicyHandler) decodeBody(w http.ResponseWriter, r *http.Request) (PolicyBody, bool) {
	var body PolicyBody
	if err := utils.DecodeJSON(r, &body); err != nil {
		HandleValidationError(w, err, h.logger)
		return body, false
	}
	if err := utils.ValidateStruct(&body); err != nil {
		HandleValidationError(w, err, h.logger)
		return body, false
	}
	return body, true
}
