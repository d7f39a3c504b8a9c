package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkspaceEnvironment binds a workspace to a physical cluster for one
// environment, along with the prefix every resource name gets.
type WorkspaceEnvironment struct {
	WorkspaceID    uuid.UUID `json:"workspace_id" db:"workspace_id"`
	Environment    string    `json:"environment" db:"environment"`
	ResourcePrefix string    `json:"resource_prefix" db:"resource_prefix"`
	ClusterRef     string    `json:"cluster_ref" db:"cluster_ref"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the WorkspaceEnvironment model
func (WorkspaceEnvironment) TableName() string {
	return "workspace_environments"
}

// QuotaOverride replaces the platform default limit for one workspace and kind
type QuotaOverride struct {
	WorkspaceID  uuid.UUID    `json:"workspace_id" db:"workspace_id"`
	ResourceKind ResourceType `json:"resource_kind" db:"resource_kind"`
	Limit        int          `json:"limit" db:"quota_limit"`
	Reason       string       `json:"reason" db:"reason"`
	SetBy        string       `json:"set_by" db:"set_by"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the QuotaOverride model
func (QuotaOverride) TableName() string {
	return "quota_overrides"
}

// QuotaStatus is the result of a quota check
type QuotaStatus struct {
	WorkspaceID  uuid.UUID    `json:"workspace_id"`
	ResourceKind ResourceType `json:"resource_kind"`
	Allowed      bool         `json:"allowed"`
	CurrentCount int          `json:"current_count"`
	Limit        int          `json:"limit"`
	Overridden   bool         `json:"overridden"`
}
