package policy

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/kafka-control-plane/models"
	"github.com/upb/kafka-control-plane/repositories"
	"github.com/upb/kafka-control-plane/services"
	"go.uber.org/zap"
)

// AuditLogger records policy changes
type AuditLogger interface {
	LogPolicyEvent(policy *models.Policy, action models.AuditAction, actor string) error
	LogPolicyDeleted(policyID uuid.UUID, workspaceID *uuid.UUID, actor string) error
}

// PolicyInput carries the editable fields of a policy
type PolicyInput struct {
	WorkspaceID  *uuid.UUID
	Name         string
	Enabled      *bool
	Priority     int
	Environments []string
	Rules        models.PolicyRules
}

// PolicyService manages the policy store: validated writes, cache
// invalidation and audit.
type PolicyService struct {
	policyRepo repositories.PolicyRepository
	txManager  repositories.TransactionManager
	cache      *PolicyCache
	audit      AuditLogger
	logger     *zap.Logger
}

// NewPolicyService creates a new PolicyService instance
func NewPolicyService(policyRepo repositories.PolicyRepository, txManager repositories.TransactionManager, cache *PolicyCache, audit AuditLogger, logger *zap.Logger) *PolicyService {
	return &PolicyService{
		policyRepo: policyRepo,
		txManager:  txManager,
		cache:      cache,
		audit:      audit,
		logger:     logger,
	}
}

// Create validates and stores a new policy
func (s *PolicyService) Create(ctx context.Context, input PolicyInput, actor string) (*models.Policy, error) {
	p := models.NewPolicy(input.WorkspaceID, input.Name, input.Priority, input.Rules)
	input.applyTo(p)
	p.CreatedBy = actor

	if err := ValidatePolicy(p); err != nil {
		return nil, err
	}
	if err := s.policyRepo.Create(ctx, p); err != nil {
		return nil, services.WrapInternal("failed to create policy", err)
	}

	s.invalidate(p)
	s.recordEvent(p, models.AuditActionPolicyCreated, actor)
	s.logger.Info("policy created",
		zap.String("policy_id", p.ID.String()),
		zap.Bool("platform_wide", p.IsPlatformWide()),
		zap.Int("priority", p.Priority))

	return p, nil
}

// Get returns a policy by id
func (s *PolicyService) Get(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	p, err := s.policyRepo.GetByID(ctx, id)
	if err != nil {
		return nil, s.mapError("failed to get policy", err)
	}
	return p, nil
}

// List returns the policies of a workspace, or platform-wide policies when
// workspaceID is nil
func (s *PolicyService) List(ctx context.Context, workspaceID *uuid.UUID) ([]*models.Policy, error) {
	policies, err := s.policyRepo.List(ctx, workspaceID)
	if err != nil {
		return nil, services.WrapInternal("failed to list policies", err)
	}
	return policies, nil
}

// Update replaces the editable fields of a policy
func (s *PolicyService) Update(ctx context.Context, id uuid.UUID, input PolicyInput, actor string) (*models.Policy, error) {
	existing, err := s.policyRepo.GetByID(ctx, id)
	if err != nil {
		return nil, s.mapError("failed to get policy", err)
	}
	previous := *existing

	existing.WorkspaceID = input.WorkspaceID
	existing.Name = input.Name
	existing.Priority = input.Priority
	existing.Rules = input.Rules
	input.applyTo(existing)
	existing.UpdatedAt = time.Now()

	if err := ValidatePolicy(existing); err != nil {
		return nil, err
	}
	if err := s.policyRepo.Update(ctx, existing); err != nil {
		return nil, s.mapError("failed to update policy", err)
	}

	s.invalidate(&previous)
	s.invalidate(existing)
	s.recordEvent(existing, models.AuditActionPolicyUpdated, actor)

	return existing, nil
}

// Delete removes a policy
func (s *PolicyService) Delete(ctx context.Context, id uuid.UUID, actor string) error {
	existing, err := s.policyRepo.GetByID(ctx, id)
	if err != nil {
		return s.mapError("failed to get policy", err)
	}
	if err := s.policyRepo.Delete(ctx, id); err != nil {
		return s.mapError("failed to delete policy", err)
	}

	s.invalidate(existing)
	if s.audit != nil {
		if err := s.audit.LogPolicyDeleted(id, existing.WorkspaceID, actor); err != nil {
			s.logger.Warn("failed to audit policy deletion", zap.Error(err))
		}
	}
	return nil
}

// Apply upserts a validated set of policies in one transaction
func (s *PolicyService) Apply(ctx context.Context, policies []*models.Policy, actor string) (int, error) {
	for _, p := range policies {
		if err := ValidatePolicy(p); err != nil {
			return 0, err
		}
	}

	applied, err := services.WithTransactionResult(ctx, s.txManager, func(ctx context.Context, tx repositories.Transaction) (int, error) {
		for _, p := range policies {
			if err := s.policyRepo.Upsert(ctx, p); err != nil {
				return 0, err
			}
		}
		return len(policies), nil
	})
	if err != nil {
		return 0, services.WrapInternal("failed to apply policies", err)
	}

	if s.cache != nil {
		s.cache.Clear()
	}
	for _, p := range policies {
		s.recordEvent(p, models.AuditActionPolicyUpdated, actor)
	}
	s.logger.Info("applied policy file", zap.Int("policies", applied))

	return applied, nil
}

// CacheStats returns statistics of the evaluation cache
func (s *PolicyService) CacheStats() CacheStats {
	if s.cache == nil {
		return CacheStats{}
	}
	return s.cache.Stats()
}

func (s *PolicyService) invalidate(p *models.Policy) {
	if s.cache == nil {
		return
	}
	if p.IsPlatformWide() {
		s.cache.Clear()
		return
	}
	s.cache.InvalidateWorkspace(*p.WorkspaceID)
}

func (s *PolicyService) recordEvent(p *models.Policy, action models.AuditAction, actor string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogPolicyEvent(p, action, actor); err != nil {
		s.logger.Warn("failed to audit policy change",
			zap.String("policy_id", p.ID.String()),
			zap.Error(err))
	}
}

func (s *PolicyService) mapError(message string, err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return services.ErrPolicyNotFound
	}
	return services.WrapInternal(message, err)
}

func (in PolicyInput) applyTo(p *models.Policy) {
	if in.Enabled != nil {
		p.Enabled = *in.Enabled
	}
	if in.Environments != nil {
		p.Environments = in.Environments
	} else {
		p.Environments = []string{}
	}
}
