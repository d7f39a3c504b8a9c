package quota

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/kafka-control-plane/config"
	"github.com/upb/kafka-control-plane/models"
	"github.com/upb/kafka-control-plane/repositories"
	"github.com/upb/kafka-control-plane/services"
	"github.com/upb/kafka-control-plane/services/audit"
	"go.uber.org/zap"
)

const (
	MinOverrideLimit = 1
	MaxOverrideLimit = 1000
)

// QuotaService checks and administers per-workspace resource quotas.
// Checks are advisory: nothing is reserved, so concurrent creations can
// overshoot a limit slightly.
type QuotaService struct {
	quotaRepo   repositories.QuotaRepository
	requestRepo repositories.ProvisioningRequestRepository
	auditRepo   repositories.AuditRepository
	txManager   repositories.TransactionManager
	defaults    config.QuotaConfig
	logger      *zap.Logger
}

// NewQuotaService creates a new QuotaService instance
func NewQuotaService(repos *repositories.Repositories, txManager repositories.TransactionManager, defaults config.QuotaConfig, logger *zap.Logger) *QuotaService {
	return &QuotaService{
		quotaRepo:   repos.Quotas,
		requestRepo: repos.ProvisioningRequests,
		auditRepo:   repos.AuditLogs,
		txManager:   txManager,
		defaults:    defaults,
		logger:      logger,
	}
}

// CheckQuota reports the current usage and limit of a resource kind in a workspace
func (s *QuotaService) CheckQuota(ctx context.Context, workspaceID uuid.UUID, kind models.ResourceType) (*models.QuotaStatus, error) {
	if !kind.Valid() {
		return nil, services.ValidationError("resource_kind", "unknown resource kind")
	}

	status := &models.QuotaStatus{
		WorkspaceID:  workspaceID,
		ResourceKind: kind,
		Limit:        s.defaults.DefaultQuota(string(kind)),
	}

	override, err := s.quotaRepo.GetOverride(ctx, workspaceID, kind)
	switch {
	case err == nil:
		status.Limit = override.Limit
		status.Overridden = true
	case errors.Is(err, repositories.ErrNotFound):
	default:
		return nil, services.WrapInternal("failed to load quota override", err)
	}

	count, err := s.requestRepo.CountActive(ctx, workspaceID, kind)
	if err != nil {
		return nil, services.WrapInternal("failed to count workspace resources", err)
	}
	status.CurrentCount = count
	status.Allowed = count < status.Limit

	return status, nil
}

// EnsureWithinQuota returns a quota error when the workspace
// has no room left for another resource of kind
func (s *QuotaService) EnsureWithinQuota(ctx context.Context, workspaceID uuid.UUID, kind models.ResourceType) (*models.QuotaStatus, error) {
	status, err := s.CheckQuota(ctx, workspaceID, kind)
	if err != nil {
		return nil, err
	}
	if !status.Allowed {
		s.logger.Info("quota exceeded",
			zap.String("workspace_id", workspaceID.String()),
			zap.String("resource_kind", string(kind)),
			zap.Int("current", status.CurrentCount),
			zap.Int("limit", status.Limit))
		return status, services.NewDomainError(services.ErrorTypeQuota, "workspace quota exceeded", nil).
			WithDetail("resource_kind", kind).
			WithDetail("current_count", status.CurrentCount).
			WithDetail("limit", status.Limit)
	}
	return status, nil
}

// SetQuotaOverride replaces the limit of kind for a workspace. The override
// and its audit entry are written in one transaction.
func (s *QuotaService) SetQuotaOverride(ctx context.Context, workspaceID uuid.UUID, kind models.ResourceType, newLimit int, reason, setBy string) (*models.QuotaOverride, error) {
	if !kind.Valid() {
		return nil, services.ValidationError("resource_kind", "unknown resource kind")
	}
	if newLimit < MinOverrideLimit || newLimit > MaxOverrideLimit {
		return nil, services.ValidationError("limit", "limit must be between 1 and 1000").
			WithDetail("min", MinOverrideLimit).
			WithDetail("max", MaxOverrideLimit)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, services.ValidationError("reason", "reason is required")
	}
	if strings.TrimSpace(setBy) == "" {
		return nil, services.ValidationError("set_by", "setter identity is required")
	}

	override := &models.QuotaOverride{
		WorkspaceID:  workspaceID,
		ResourceKind: kind,
		Limit:        newLimit,
		Reason:       reason,
		SetBy:        setBy,
		UpdatedAt:    time.Now().UTC(),
	}

	err := services.WithTransaction(ctx, s.txManager, func(ctx context.Context, tx repositories.Transaction) error {
		if err := s.quotaRepo.UpsertOverride(ctx, override); err != nil {
			return err
		}
		return s.auditRepo.Insert(ctx, audit.QuotaLog(override))
	})
	if err != nil {
		return nil, services.WrapInternal("failed to set quota override", err)
	}

	s.logger.Info("quota override set",
		zap.String("workspace_id", workspaceID.String()),
		zap.String("resource_kind", string(kind)),
		zap.Int("limit", newLimit),
		zap.String("set_by", setBy))

	return override, nil
}
