package policy

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/upb/kafka-control-plane/models"
	"github.com/upb/kafka-control-plane/services"
)

const policySchemaID = "inmemory://kafka-policy"

//go:embed schemas/policy.schema.json
var policySchema []byte

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(policySchemaID, bytes.NewReader(policySchema)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile(policySchemaID)
	})
	return compiledSchema, compileErr
}

// ValidatePolicy checks a policy document against the policy schema and
// verifies that every pattern compiles and every bound is consistent.
func ValidatePolicy(p *models.Policy) error {
	schema, err := loadSchema()
	if err != nil {
		return services.WrapInternal("failed to load policy schema", err)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return services.WrapInternal("failed to encode policy", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return services.WrapInternal("failed to decode policy", err)
	}
	if err := schema.Validate(doc); err != nil {
		return services.NewDomainError(services.ErrorTypeValidation, "policy does not match schema", err).
			WithDetail("reason", err.Error())
	}

	r := p.Rules
	if r.NamingConventions.Pattern != "" {
		if _, err := regexp.Compile(r.NamingConventions.Pattern); err != nil {
			return services.ValidationError("rules.naming_conventions.pattern", "invalid regular expression").
				WithDetail("reason", err.Error())
		}
	}
	if r.PartitionLimits.Min > 0 && r.PartitionLimits.Max > 0 && r.PartitionLimits.Min > r.PartitionLimits.Max {
		return services.ValidationError("rules.partition_limits", "min partitions exceeds max partitions")
	}
	for i, rule := range r.AutoApprovalRules {
		if rule.TopicPattern == "" {
			continue
		}
		if _, err := regexp.Compile(rule.TopicPattern); err != nil {
			return services.ValidationError(fmt.Sprintf("rules.auto_approval_rules[%d].topic_pattern", i), "invalid regular expression").
				WithDetail("reason", err.Error())
		}
	}

	return nil
}
