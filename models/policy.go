package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Policy is a scoped rule set governing Kafka resource requests.
// A nil WorkspaceID means the policy applies platform-wide.
type Policy struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	WorkspaceID  *uuid.UUID  `json:"workspace_id,omitempty" db:"workspace_id"`
	Name         string      `json:"name" db:"name" validate:"required,max=255"`
	Enabled      bool        `json:"enabled" db:"enabled"`
	Priority     int         `json:"priority" db:"priority"`
	Environments []string    `json:"environments" db:"environments"`
	Rules        PolicyRules `json:"rules" db:"rules"` // JSONB
	CreatedBy    string      `json:"created_by" db:"created_by"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// PolicyRules holds the typed policy dimensions. Zero numeric values leave
// the corresponding field unconstrained.
type PolicyRules struct {
	NamingConventions      NamingConventions  `json:"naming_conventions" yaml:"naming_conventions"`
	PartitionLimits        PartitionLimits    `json:"partition_limits" yaml:"partition_limits"`
	ReplicationLimits      ReplicationLimits  `json:"replication_limits" yaml:"replication_limits"`
	RetentionLimits        RetentionLimits    `json:"retention_limits" yaml:"retention_limits"`
	AllowedCleanupPolicies []string           `json:"allowed_cleanup_policies,omitempty" yaml:"allowed_cleanup_policies"`
	AutoApprovalRules      []AutoApprovalRule `json:"auto_approval_rules,omitempty" yaml:"auto_approval_rules"`
	RequireApproval        bool               `json:"require_approval" yaml:"require_approval"`
}

// NamingConventions constrains resource names
type NamingConventions struct {
	Pattern   string `json:"pattern,omitempty" yaml:"pattern"`
	MaxLength int    `json:"max_length,omitempty" yaml:"max_length"`
}

// PartitionLimits bounds the partition count
type PartitionLimits struct {
	Min int `json:"min,omitempty" yaml:"min"`
	Max int `json:"max,omitempty" yaml:"max"`
}

// ReplicationLimits bounds the replication factor
type ReplicationLimits struct {
	Min int `json:"min,omitempty" yaml:"min"`
}

// RetentionLimits bounds retention.ms
type RetentionLimits struct {
	MaxMs int64 `json:"max_ms,omitempty" yaml:"max_ms"`
}

// AutoApprovalRule lets a violating request proceed without human review.
// A rule without MaxPartitions never matches.
type AutoApprovalRule struct {
	Environment   string `json:"environment,omitempty" yaml:"environment"`
	MaxPartitions int    `json:"max_partitions,omitempty" yaml:"max_partitions"`
	TopicPattern  string `json:"topic_pattern,omitempty" yaml:"topic_pattern"`
}

// Value implements driver.Valuer so the rules persist as JSONB
func (r PolicyRules) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner
func (r *PolicyRules) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*r = PolicyRules{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for policy rules: %T", src)
	}
	return json.Unmarshal(data, r)
}

// TableName returns the table name for the Policy model
func (Policy) TableName() string {
	return "kafka_policies"
}

// NewPolicy creates a new enabled Policy
func NewPolicy(workspaceID *uuid.UUID, name string, priority int, rules PolicyRules) *Policy {
	now := time.Now()
	return &Policy{
		ID:           uuid.New(),
		WorkspaceID:  workspaceID,
		Name:         name,
		Enabled:      true,
		Priority:     priority,
		Environments: []string{},
		Rules:        rules,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsPlatformWide reports whether the policy applies to every workspace
func (p *Policy) IsPlatformWide() bool {
	return p.WorkspaceID == nil
}

// AppliesToEnvironment reports whether the policy covers env. An empty
// environment list covers all environments.
func (p *Policy) AppliesToEnvironment(env string) bool {
	if len(p.Environments) == 0 {
		return true
	}
	for _, e := range p.Environments {
		if e == env {
			return true
		}
	}
	return false
}

// ViolationConstraint identifies which policy dimension a violation came from
type ViolationConstraint string

const (
	ConstraintNamingPattern          ViolationConstraint = "naming_pattern"
	ConstraintMaxNameLength          ViolationConstraint = "max_name_length"
	ConstraintMaxPartitions          ViolationConstraint = "max_partitions"
	ConstraintMinPartitions          ViolationConstraint = "min_partitions"
	ConstraintMinReplicationFactor   ViolationConstraint = "min_replication_factor"
	ConstraintMaxRetentionMs         ViolationConstraint = "max_retention_ms"
	ConstraintAllowedCleanupPolicies ViolationConstraint = "allowed_cleanup_policies"
)

// PolicyViolation is a single evaluation finding. It is never stored on its
// own, only embedded in the request record.
type PolicyViolation struct {
	PolicyID   uuid.UUID           `json:"policy_id"`
	Field      string              `json:"field"`
	Constraint ViolationConstraint `json:"constraint"`
	Message    string              `json:"message"`
	Actual     interface{}         `json:"actual"`
	Allowed    interface{}         `json:"allowed"`
}

// PolicyViolations persists as JSONB on the request row
type PolicyViolations []PolicyViolation

// Value implements driver.Valuer
func (v PolicyViolations) Value() (driver.Value, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v)
}

// Scan implements sql.Scanner
func (v *PolicyViolations) Scan(src interface{}) error {
	switch s := src.(type) {
	case nil:
		*v = PolicyViolations{}
		return nil
	case []byte:
		return json.Unmarshal(s, v)
	case string:
		return json.Unmarshal([]byte(s), v)
	default:
		return fmt.Errorf("unsupported type for policy violations: %T", src)
	}
}
