package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/kafka-control-plane/models"
	"github.com/upb/kafka-control-plane/repositories"
	"go.uber.org/zap"
)

const (
	resourceTypeRequest = "provisioning_request"
	resourceTypePolicy  = "policy"
	resourceTypeQuota   = "quota"
)

// AuditEvent represents an event to be audited
type AuditEvent struct {
	Log      *models.AuditLog
	Priority int
}

// AuditService handles asynchronous audit logging
type AuditService struct {
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
	eventChan   chan *AuditEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopped     bool
	mu          sync.Mutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 5,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config) *AuditService {
	ctx, cancel := context.WithCancel(context.Background())

	return &AuditService{
		auditRepo:   auditRepo,
		logger:      logger,
		eventChan:   make(chan *AuditEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the audit service
// Waits for all pending events to be processed
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent logs an event asynchronously (non-blocking)
func (s *AuditService) LogEvent(event *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return fmt.Errorf("audit service not started")
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(event.Log.Action)),
			zap.String("actor", event.Log.Actor))
		return fmt.Errorf("audit event buffer full")
	}
}

func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(event.Log.Action)),
				zap.String("actor", event.Log.Actor))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *AuditService) processEvent(event *AuditEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.auditRepo.Insert(ctx, event.Log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}

// RequestLog builds the audit entry for a provisioning request transition
func RequestLog(req *models.ProvisioningRequest, action models.AuditAction, actor string, details map[string]interface{}) *models.AuditLog {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["status"] = req.Status
	details["full_resource_name"] = req.FullResourceName
	details["environment"] = req.Environment

	return models.NewAuditLog(actor, action, resourceTypeRequest).
		WithWorkspace(req.WorkspaceID).
		WithResource(req.ID).
		WithDetails(details)
}

// PolicyLog builds the audit entry for a policy change
func PolicyLog(policy *models.Policy, action models.AuditAction, actor string) *models.AuditLog {
	log := models.NewAuditLog(actor, action, resourceTypePolicy).WithResource(policy.ID)
	if policy.WorkspaceID != nil {
		log.WithWorkspace(*policy.WorkspaceID)
	}
	return log.WithDetails(map[string]interface{}{
		"name":             policy.Name,
		"priority":         policy.Priority,
		"enabled":          policy.Enabled,
		"require_approval": policy.Rules.RequireApproval,
	})
}

// QuotaLog builds the audit entry for a quota override
func QuotaLog(override *models.QuotaOverride) *models.AuditLog {
	return models.NewAuditLog(override.SetBy, models.AuditActionQuotaOverrideSet, resourceTypeQuota).
		WithWorkspace(override.WorkspaceID).
		WithDetails(map[string]interface{}{
			"resource_kind": override.ResourceKind,
			"limit":         override.Limit,
			"reason":        override.Reason,
		})
}

// LogRequestEvent queues an audit entry for a request transition
func (s *AuditService) LogRequestEvent(req *models.ProvisioningRequest, action models.AuditAction, actor string, details map[string]interface{}) error {
	priority := 1
	if action == models.AuditActionWorkflowFailed {
		priority = 2
	}
	return s.LogEvent(&AuditEvent{Log: RequestLog(req, action, actor, details), Priority: priority})
}

// LogPolicyEvent queues an audit entry for a policy change
func (s *AuditService) LogPolicyEvent(policy *models.Policy, action models.AuditAction, actor string) error {
	return s.LogEvent(&AuditEvent{Log: PolicyLog(policy, action, actor), Priority: 1})
}

// LogPolicyDeleted queues an audit entry for a removed policy
func (s *AuditService) LogPolicyDeleted(policyID uuid.UUID, workspaceID *uuid.UUID, actor string) error {
	log := models.NewAuditLog(actor, models.AuditActionPolicyDeleted, resourceTypePolicy).WithResource(policyID)
	if workspaceID != nil {
		log.WithWorkspace(*workspaceID)
	}
	return s.LogEvent(&AuditEvent{Log: log, Priority: 1})
}
