package policy

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/upb/kafka-control-plane/internal/observability"
	"github.com/upb/kafka-control-plane/models"
	"github.com/upb/kafka-control-plane/repositories"
	"go.uber.org/zap"
)

// DefaultEvaluationLimit caps how many policies a single evaluation reads
const DefaultEvaluationLimit = 10

// Evaluator checks proposed Kafka resources against the applicable policies.
// It has no side effects beyond caching and is safe for concurrent use.
type Evaluator struct {
	policyRepo repositories.PolicyRepository
	cache      *PolicyCache
	limit      int
	metrics    observability.Metrics
	logger     *zap.Logger

	patterns sync.Map // pattern string -> *regexp.Regexp
}

// NewEvaluator creates a new Evaluator. cache may be nil.
func NewEvaluator(policyRepo repositories.PolicyRepository, cache *PolicyCache, limit int, metrics observability.Metrics, logger *zap.Logger) *Evaluator {
	if limit < 1 {
		limit = DefaultEvaluationLimit
	}
	if metrics == nil {
		metrics = observability.Noop{}
	}
	return &Evaluator{
		policyRepo: policyRepo,
		cache:      cache,
		limit:      limit,
		metrics:    metrics,
		logger:     logger,
	}
}

// Evaluate returns every policy violation of spec in the given workspace and
// environment. An empty result means the resource is compliant. Policies are
// walked highest priority first and the walk stops after the first policy
// that both requires approval and produced a violation.
func (e *Evaluator) Evaluate(ctx context.Context, workspaceID uuid.UUID, environment string, spec models.ResourceSpec) ([]models.PolicyViolation, error) {
	start := time.Now()

	policies, err := e.applicablePolicies(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	violations := make([]models.PolicyViolation, 0)
	for _, p := range policies {
		if !p.AppliesToEnvironment(environment) {
			continue
		}

		found := e.checkPolicy(p, spec)
		violations = append(violations, found...)

		if len(found) > 0 && p.Rules.RequireApproval {
			e.logger.Debug("policy requires approval, stopping evaluation",
				zap.String("policy_id", p.ID.String()),
				zap.String("workspace_id", workspaceID.String()),
				zap.Int("violations", len(violations)))
			break
		}
	}

	e.metrics.ObserveEvaluation(time.Since(start), len(violations))
	return violations, nil
}

// CanAutoApprove reports whether a violating request may proceed without
// human review. The first matching auto-approval rule across all applicable
// policies wins. It never changes the violation list.
func (e *Evaluator) CanAutoApprove(ctx context.Context, workspaceID uuid.UUID, environment string, spec models.ResourceSpec) (bool, error) {
	policies, err := e.applicablePolicies(ctx, workspaceID)
	if err != nil {
		return false, err
	}

	for _, p := range policies {
		for _, rule := range p.Rules.AutoApprovalRules {
			if rule.Environment != "" && rule.Environment != environment {
				continue
			}
			if rule.MaxPartitions <= 0 || spec.Partitions > rule.MaxPartitions {
				continue
			}
			if rule.TopicPattern != "" {
				re, ok := e.compile(p.ID, rule.TopicPattern)
				if !ok || !re.MatchString(spec.Name) {
					continue
				}
			}

			e.logger.Debug("auto-approval rule matched",
				zap.String("policy_id", p.ID.String()),
				zap.String("workspace_id", workspaceID.String()),
				zap.String("name", spec.Name))
			return true, nil
		}
	}

	return false, nil
}

func (e *Evaluator) checkPolicy(p *models.Policy, spec models.ResourceSpec) []models.PolicyViolation {
	var found []models.PolicyViolation
	add := func(field string, constraint models.ViolationConstraint, actual, allowed interface{}, format string, args ...interface{}) {
		found = append(found, models.PolicyViolation{
			PolicyID:   p.ID,
			Field:      field,
			Constraint: constraint,
			Message:    fmt.Sprintf(format, args...),
			Actual:     actual,
			Allowed:    allowed,
		})
	}

	r := p.Rules

	if pattern := r.NamingConventions.Pattern; pattern != "" {
		if re, ok := e.compile(p.ID, pattern); ok && !re.MatchString(spec.Name) {
			add("name", models.ConstraintNamingPattern, spec.Name, pattern,
				"name %q does not match required pattern %s", spec.Name, pattern)
		}
	}
	if max := r.NamingConventions.MaxLength; max > 0 && len(spec.Name) > max {
		add("name", models.ConstraintMaxNameLength, len(spec.Name), max,
			"name is %d characters long, at most %d allowed", len(spec.Name), max)
	}

	if max := r.PartitionLimits.Max; max > 0 && spec.Partitions > max {
		add("partitions", models.ConstraintMaxPartitions, spec.Partitions, max,
			"%d partitions requested, at most %d allowed", spec.Partitions, max)
	}
	if min := r.PartitionLimits.Min; min > 0 && spec.Partitions < min {
		add("partitions", models.ConstraintMinPartitions, spec.Partitions, min,
			"%d partitions requested, at least %d required", spec.Partitions, min)
	}

	if min := r.ReplicationLimits.Min; min > 0 && spec.ReplicationFactor < min {
		add("replication_factor", models.ConstraintMinReplicationFactor, spec.ReplicationFactor, min,
			"replication factor %d is below the minimum of %d", spec.ReplicationFactor, min)
	}

	if max := r.RetentionLimits.MaxMs; max > 0 && spec.RetentionMs != nil && *spec.RetentionMs > max {
		add("retention_ms", models.ConstraintMaxRetentionMs, *spec.RetentionMs, max,
			"retention of %dms exceeds the maximum of %dms", *spec.RetentionMs, max)
	}

	if spec.CleanupPolicy != "" && len(r.AllowedCleanupPolicies) > 0 {
		allowed := mapset.NewThreadUnsafeSet(r.AllowedCleanupPolicies...)
		if !allowed.Contains(spec.CleanupPolicy) {
			add("cleanup_policy", models.ConstraintAllowedCleanupPolicies, spec.CleanupPolicy, r.AllowedCleanupPolicies,
				"cleanup policy %q is not allowed", spec.CleanupPolicy)
		}
	}

	return found
}

// applicablePolicies returns the enabled workspace and platform-wide
// policies, highest priority first, capped at the evaluation limit.
func (e *Evaluator) applicablePolicies(ctx context.Context, workspaceID uuid.UUID) ([]*models.Policy, error) {
	if e.cache != nil {
		if cached, ok := e.cache.GetPolicies(workspaceID); ok {
			return cached, nil
		}
	}

	fetched, err := e.policyRepo.ListApplicable(ctx, workspaceID, e.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch policies: %w", err)
	}

	policies := make([]*models.Policy, 0, len(fetched))
	for _, p := range fetched {
		if p.Enabled {
			policies = append(policies, p)
		}
	}
	sort.SliceStable(policies, func(i, j int) bool {
		return policies[i].Priority > policies[j].Priority
	})
	if len(policies) > e.limit {
		policies = policies[:e.limit]
	}

	if e.cache != nil {
		e.cache.SetPolicies(workspaceID, policies)
	}
	return policies, nil
}

// compile returns the compiled pattern. An invalid pattern is logged and
// the caller skips the check.
func (e *Evaluator) compile(policyID uuid.UUID, pattern string) (*regexp.Regexp, bool) {
	if re, ok := e.patterns.Load(pattern); ok {
		return re.(*regexp.Regexp), true
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		e.logger.Warn("skipping invalid policy pattern",
			zap.String("policy_id", policyID.String()),
			zap.String("pattern", pattern),
			zap.Error(err))
		return nil, false
	}
	e.patterns.Store(pattern, re)
	return re, true
}
