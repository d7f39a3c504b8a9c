// Package workflow hands approved provisioning requests to the external
// execution engine and correlates executions back to requests.
package workflow

import (
	"time"

	"github.com/google/uuid"
	"github.com/upb/kafka-control-plane/models"
)

// JobKind distinguishes provisioning from deletion executions
type JobKind string

const (
	JobKindProvision JobKind = "provision"
	JobKindDelete    JobKind = "delete"
)

// Outcome is the final result reported by the execution engine
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Signal names sent to in-flight executions
const (
	SignalAttach = "attach"
	SignalCancel = "cancel"
)

// ProvisioningJob is the fully resolved creation payload
type ProvisioningJob struct {
	RequestID         uuid.UUID           `json:"request_id"`
	WorkspaceID       uuid.UUID           `json:"workspace_id"`
	Environment       string              `json:"environment"`
	ResourceType      models.ResourceType `json:"resource_type"`
	FullResourceName  string              `json:"full_resource_name"`
	ClusterRef        string              `json:"cluster_ref"`
	VirtualClusterRef *string             `json:"virtual_cluster_ref,omitempty"`
	Partitions        int                 `json:"partitions"`
	ReplicationFactor int                 `json:"replication_factor"`
	RetentionMs       *int64              `json:"retention_ms,omitempty"`
	CleanupPolicy     string              `json:"cleanup_policy,omitempty"`
	Compression       string              `json:"compression,omitempty"`
	Config            map[string]string   `json:"config,omitempty"`
}

// DeletionJob is the deletion payload
type DeletionJob struct {
	RequestID        uuid.UUID           `json:"request_id"`
	ResourceType     models.ResourceType `json:"resource_type"`
	FullResourceName string              `json:"full_resource_name"`
	ClusterRef       string              `json:"cluster_ref"`
}

// ProvisioningJobFromRequest builds the job solely from the stored request
func ProvisioningJobFromRequest(req *models.ProvisioningRequest) ProvisioningJob {
	return ProvisioningJob{
		RequestID:         req.ID,
		WorkspaceID:       req.WorkspaceID,
		Environment:       req.Environment,
		ResourceType:      req.ResourceType,
		FullResourceName:  req.FullResourceName,
		ClusterRef:        req.ClusterRef,
		VirtualClusterRef: req.VirtualClusterRef,
		Partitions:        req.Spec.Partitions,
		ReplicationFactor: req.Spec.ReplicationFactor,
		RetentionMs:       req.Spec.RetentionMs,
		CleanupPolicy:     req.Spec.CleanupPolicy,
		Compression:       req.Spec.Compression,
		Config:            req.Spec.Config,
	}
}

// DeletionJobFromRequest builds the deletion job from the stored request
func DeletionJobFromRequest(req *models.ProvisioningRequest) DeletionJob {
	return DeletionJob{
		RequestID:        req.ID,
		ResourceType:     req.ResourceType,
		FullResourceName: req.FullResourceName,
		ClusterRef:       req.ClusterRef,
	}
}

// ProvisionWorkflowID is the deterministic execution id of a creation
func ProvisionWorkflowID(requestID uuid.UUID) string {
	return string(JobKindProvision) + "-" + requestID.String()
}

// DeletionWorkflowID is the deterministic execution id of a deletion
func DeletionWorkflowID(requestID uuid.UUID) string {
	return string(JobKindDelete) + "-" + requestID.String()
}

// Envelope is the message published to the execution engine
type Envelope struct {
	WorkflowID   string           `json:"workflow_id"`
	Kind         JobKind          `json:"kind"`
	Run          int              `json:"run"`
	Provisioning *ProvisioningJob `json:"provisioning,omitempty"`
	Deletion     *DeletionJob     `json:"deletion,omitempty"`
	IssuedAt     time.Time        `json:"issued_at"`
}

// SignalMessage is sent to an in-flight execution by id
type SignalMessage struct {
	WorkflowID string                 `json:"workflow_id"`
	Name       string                 `json:"name"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	SentAt     time.Time              `json:"sent_at"`
}

// Result is reported by the execution engine when an execution finishes.
// Run echoes Envelope.Run of the job that produced it.
type Result struct {
	WorkflowID  string    `json:"workflow_id" validate:"required"`
	RequestID   uuid.UUID `json:"request_id" validate:"required"`
	Kind        JobKind   `json:"kind" validate:"required,oneof=provision delete"`
	Run         int       `json:"run" validate:"min=1"`
	Outcome     Outcome   `json:"outcome" validate:"required,oneof=succeeded failed"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Subjects names the NATS subjects used by the control plane
type Subjects struct {
	Prefix string
}

// Job returns the subject jobs of kind are published on
func (s Subjects) Job(kind JobKind) string {
	return s.prefix() + ".workflow." + string(kind)
}

// Signal returns the subject signals for workflowID are published on
func (s Subjects) Signal(workflowID string) string {
	return s.prefix() + ".workflow.signal." + workflowID
}

// Results returns the subject execution results arrive on
func (s Subjects) Results() string {
	return s.prefix() + ".workflow.results"
}

// Notification returns the subject of a requester notification
func (s Subjects) Notification(action string) string {
	return s.prefix() + ".notifications." + action
}

// StreamSubjects returns the subjects the JetStream stream captures
func (s Subjects) StreamSubjects() []string {
	return []string{s.prefix() + ".workflow.>"}
}

func (s Subjects) prefix() string {
	if s.Prefix == "" {
		return "kafka"
	}
	return s.Prefix
}
