package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ResourceType is the kind of Kafka resource a request provisions
type ResourceType string

const (
	ResourceTypeTopic          ResourceType = "topic"
	ResourceTypeVirtualCluster ResourceType = "virtual_cluster"
	ResourceTypeServiceAccount ResourceType = "service_account"
)

// Valid reports whether t is a known resource type
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceTypeTopic, ResourceTypeVirtualCluster, ResourceTypeServiceAccount:
		return true
	}
	return false
}

// RequestStatus represents the lifecycle status of a provisioning request
type RequestStatus string

const (
	StatusPendingApproval RequestStatus = "pending-approval"
	StatusProvisioning    RequestStatus = "provisioning"
	StatusActive          RequestStatus = "active"
	StatusFailed          RequestStatus = "failed"
	StatusDeleting        RequestStatus = "deleting"
	StatusDeleted         RequestStatus = "deleted"
	StatusRejected        RequestStatus = "rejected"
	StatusCancelled       RequestStatus = "cancelled"
)

// InactiveStatuses are not counted against workspace quotas
var InactiveStatuses = []RequestStatus{StatusDeleted, StatusRejected, StatusCancelled, StatusFailed}

// IsTerminal reports whether no further transition is expected without a new action
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusDeleted, StatusRejected, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// ResourceSpec is the desired configuration of the resource
type ResourceSpec struct {
	Name              string            `json:"name" validate:"required,max=249"`
	Partitions        int               `json:"partitions" validate:"gte=0"`
	ReplicationFactor int               `json:"replication_factor" validate:"gte=0"`
	RetentionMs       *int64            `json:"retention_ms,omitempty"`
	CleanupPolicy     string            `json:"cleanup_policy,omitempty"`
	Compression       string            `json:"compression,omitempty"`
	Config            map[string]string `json:"config,omitempty"`
}

// Value implements driver.Valuer
func (s ResourceSpec) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner
func (s *ResourceSpec) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported type for resource spec: %T", src)
	}
}

// ProvisioningRequest is the unit of work tracked by the control plane
type ProvisioningRequest struct {
	ID                uuid.UUID        `json:"id" db:"id"`
	ResourceType      ResourceType     `json:"resource_type" db:"resource_type"`
	Spec              ResourceSpec     `json:"spec" db:"spec"` // JSONB
	WorkspaceID       uuid.UUID        `json:"workspace_id" db:"workspace_id"`
	VirtualClusterRef *string          `json:"virtual_cluster_ref,omitempty" db:"virtual_cluster_ref"`
	Environment       string           `json:"environment" db:"environment"`
	ClusterRef        string           `json:"cluster_ref" db:"cluster_ref"`
	FullResourceName  string           `json:"full_resource_name" db:"full_resource_name"`
	Status            RequestStatus    `json:"status" db:"status"`
	ApprovalRequired  bool             `json:"approval_required" db:"approval_required"`
	Violations        PolicyViolations `json:"violations" db:"violations"` // JSONB
	RequestedBy       string           `json:"requested_by" db:"requested_by"`

	ApprovedBy      *string    `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	RejectedBy      *string    `json:"rejected_by,omitempty" db:"rejected_by"`
	RejectionReason *string    `json:"rejection_reason,omitempty" db:"rejection_reason"`

	WorkflowID  *string `json:"workflow_id,omitempty" db:"workflow_id"`
	ErrorDetail *string `json:"error_detail,omitempty" db:"error_detail"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// TableName returns the table name for the ProvisioningRequest model
func (ProvisioningRequest) TableName() string {
	return "provisioning_requests"
}

// FullResourceName derives the physical resource name from the workspace
// environment prefix. The result is stable for the same inputs.
func FullResourceName(prefix, name string) string {
	return prefix + name
}

// NewProvisioningRequest creates a request in its admission state. The status
// follows the admission decision: pending-approval when approval is required,
// provisioning otherwise.
func NewProvisioningRequest(env *WorkspaceEnvironment, resourceType ResourceType, spec ResourceSpec, violations []PolicyViolation, approvalRequired bool, requestedBy string) *ProvisioningRequest {
	now := time.Now().UTC()
	status := StatusProvisioning
	if approvalRequired {
		status = StatusPendingApproval
	}
	if violations == nil {
		violations = []PolicyViolation{}
	}
	return &ProvisioningRequest{
		ID:               uuid.New(),
		ResourceType:     resourceType,
		Spec:             spec,
		WorkspaceID:      env.WorkspaceID,
		Environment:      env.Environment,
		ClusterRef:       env.ClusterRef,
		FullResourceName: FullResourceName(env.ResourcePrefix, spec.Name),
		Status:           status,
		ApprovalRequired: approvalRequired,
		Violations:       violations,
		RequestedBy:      requestedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// CanApprove reports whether the approve/reject/cancel guard is satisfied
func (r *ProvisioningRequest) CanApprove() bool {
	return r.Status == StatusPendingApproval
}

// CanDelete reports whether a deletion may start from the current status
func (r *ProvisioningRequest) CanDelete() bool {
	return r.Status != StatusDeleted && r.Status != StatusDeleting
}

// HasWorkflow reports whether a workflow has been correlated to the request
func (r *ProvisioningRequest) HasWorkflow() bool {
	return r.WorkflowID != nil && *r.WorkflowID != ""
}
