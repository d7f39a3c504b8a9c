package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionRequestCreated     AuditAction = "request_created"
	AuditActionRequestApproved    AuditAction = "request_approved"
	AuditActionRequestRejected    AuditAction = "request_rejected"
	AuditActionRequestCancelled   AuditAction = "request_cancelled"
	AuditActionDeletionRequested  AuditAction = "deletion_requested"
	AuditActionRequestDeleted     AuditAction = "request_deleted"
	AuditActionWorkflowDispatched AuditAction = "workflow_dispatched"
	AuditActionWorkflowSucceeded  AuditAction = "workflow_succeeded"
	AuditActionWorkflowFailed     AuditAction = "workflow_failed"
	AuditActionPolicyCreated      AuditAction = "policy_created"
	AuditActionPolicyUpdated      AuditAction = "policy_updated"
	AuditActionPolicyDeleted      AuditAction = "policy_deleted"
	AuditActionQuotaOverrideSet   AuditAction = "quota_override_set"
)

// AuditLog represents an audit trail entry
type AuditLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	WorkspaceID  *uuid.UUID      `json:"workspace_id,omitempty" db:"workspace_id"`
	Actor        string          `json:"actor" db:"actor"`
	Action       AuditAction     `json:"action" db:"action"`
	ResourceType string          `json:"resource_type" db:"resource_type"` // provisioning_request, policy, quota
	ResourceID   *uuid.UUID      `json:"resource_id,omitempty" db:"resource_id"`
	Details      json.RawMessage `json:"details" db:"details"` // JSONB for flexible metadata
	IPAddress    string          `json:"ip_address" db:"ip_address"`
	UserAgent    string          `json:"user_agent" db:"user_agent"`
	RequestID    string          `json:"request_id" db:"request_id"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(actor string, action AuditAction, resourceType string) *AuditLog {
	return &AuditLog{
		ID:           uuid.New(),
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		Timestamp:    time.Now(),
	}
}

// WithWorkspace sets the workspace ID
func (a *AuditLog) WithWorkspace(workspaceID uuid.UUID) *AuditLog {
	a.WorkspaceID = &workspaceID
	return a
}

// WithResource sets the resource ID
func (a *AuditLog) WithResource(resourceID uuid.UUID) *AuditLog {
	a.ResourceID = &resourceID
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, ipAddress, userAgent string) *AuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}
