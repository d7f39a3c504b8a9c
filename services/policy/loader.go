package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/kafka-control-plane/models"
	"gopkg.in/yaml.v3"
)

// seedNamespace derives stable ids for seeded policies that omit one, so
// applying the same file twice updates rather than duplicates.
var seedNamespace = uuid.MustParse("6f1c2a8e-3b4d-4e5f-9a0b-7c8d9e0f1a2b")

// PolicyFile is the YAML layout consumed by `policies apply`
type PolicyFile struct {
	Policies []PolicyFileEntry `yaml:"policies"`
}

// PolicyFileEntry is one policy in a seed file
type PolicyFileEntry struct {
	ID           string             `yaml:"id"`
	WorkspaceID  string             `yaml:"workspace_id"`
	Name         string             `yaml:"name"`
	Enabled      *bool              `yaml:"enabled"`
	Priority     int                `yaml:"priority"`
	Environments []string           `yaml:"environments"`
	Rules        models.PolicyRules `yaml:"rules"`
}

// ParsePolicyFile decodes and validates a YAML policy file
func ParsePolicyFile(data []byte) ([]*models.Policy, error) {
	var file PolicyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	policies := make([]*models.Policy, 0, len(file.Policies))
	seen := make(map[uuid.UUID]string, len(file.Policies))
	for i, entry := range file.Policies {
		p, err := entry.toPolicy()
		if err != nil {
			return nil, fmt.Errorf("policy %d (%s): %w", i, entry.Name, err)
		}
		if err := ValidatePolicy(p); err != nil {
			return nil, fmt.Errorf("policy %d (%s): %w", i, entry.Name, err)
		}
		if prev, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("policy %d (%s): duplicate id %s, already used by %s", i, entry.Name, p.ID, prev)
		}
		seen[p.ID] = entry.Name
		policies = append(policies, p)
	}
	return policies, nil
}

// LoadPolicyFile reads and parses a YAML policy file
func LoadPolicyFile(path string) ([]*models.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}
	policies, err := ParsePolicyFile(data)
	if err != nil {
		return nil, fmt.Errorf("load policy file %s: %w", path, err)
	}
	return policies, nil
}

func (e PolicyFileEntry) toPolicy() (*models.Policy, error) {
	var workspaceID *uuid.UUID
	if e.WorkspaceID != "" {
		ws, err := uuid.Parse(e.WorkspaceID)
		if err != nil {
			return nil, fmt.Errorf("invalid workspace_id: %w", err)
		}
		workspaceID = &ws
	}

	p := models.NewPolicy(workspaceID, strings.TrimSpace(e.Name), e.Priority, e.Rules)
	if e.ID != "" {
		id, err := uuid.Parse(e.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid id: %w", err)
		}
		p.ID = id
	} else {
		scope := "platform"
		if workspaceID != nil {
			scope = workspaceID.String()
		}
		p.ID = uuid.NewSHA1(seedNamespace, []byte(scope+"/"+p.Name))
	}
	if e.Enabled != nil {
		p.Enabled = *e.Enabled
	}
	if e.Environments != nil {
		p.Environments = e.Environments
	}
	p.CreatedBy = "policy-seed"
	return p, nil
}
