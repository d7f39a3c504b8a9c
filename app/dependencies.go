package app

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/upb/kafka-control-plane/auth"
	"github.com/upb/kafka-control-plane/config"
	"github.com/upb/kafka-control-plane/internal/observability"
	"github.com/upb/kafka-control-plane/middleware"
	"github.com/upb/kafka-control-plane/repositories"
	"github.com/upb/kafka-control-plane/repositories/postgres"
	"github.com/upb/kafka-control-plane/services/audit"
	"github.com/upb/kafka-control-plane/services/notify"
	"github.com/upb/kafka-control-plane/services/policy"
	"github.com/upb/kafka-control-plane/services/provisioning"
	"github.com/upb/kafka-control-plane/services/quota"
	"github.com/upb/kafka-control-plane/services/workflow"
	"go.uber.org/zap"
)

const (
	metricsNamespace   = "kafka_control_plane"
	auditStopTimeout   = 10 * time.Second
	cacheCleanupPeriod = time.Minute
	seedActor          = "policy-seed"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Repos     *repositories.Repositories
	TxManager repositories.TransactionManager

	// Observability; Registry is nil when metrics are disabled
	Metrics  observability.Metrics
	Registry *prometheus.Registry

	// Services
	Audit        *audit.AuditService
	PolicyCache  *policy.PolicyCache
	Evaluator    *policy.Evaluator
	Policies     *policy.PolicyService
	Quotas       *quota.QuotaService
	Provisioning *provisioning.Service

	// Workflow transport
	NATS       *nats.Conn
	Publisher  *workflow.NatsPublisher
	Store      *workflow.RedisExecutionStore
	Dispatcher *workflow.Dispatcher
	Notifier   notify.Notifier
	Results    *workflow.ResultSubscriber

	// Auth
	AuthMiddleware *middleware.AuthMiddleware
	JWT            *auth.JWTValidator

	cacheStop chan struct{}
}

// NewDependencies creates and wires up all application dependencies.
// On failure everything opened so far is closed again.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	steps := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"database", deps.initDatabase},
		{"repositories", deps.initRepositories},
		{"metrics", deps.initMetrics},
		{"audit", deps.initAudit},
		{"policies", deps.initPolicies},
		{"quotas", deps.initQuotas},
		{"workflow transport", deps.initWorkflow},
		{"provisioning", deps.initProvisioning},
		{"auth", deps.initAuth},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			_ = deps.Close(ctx)
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL database connection and factory
func (d *Dependencies) initDatabase(ctx context.Context) error {
	factory, err := postgres.NewRepositoryFactory(d.Config, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if d.Config.Database.AutoMigrate {
		if err := factory.Migrate(); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
		d.Logger.Info("database schema migrated")
	}

	d.Logger.Info("database connection established",
		zap.String("connection", d.Config.Database.LogString()))
	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories(context.Context) error {
	d.Repos = d.RepoFactory.NewRepositories()
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
	return nil
}

func (d *Dependencies) initMetrics(context.Context) error {
	if !d.Config.Observability.MetricsEnabled {
		d.Metrics = observability.Noop{}
		return nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Registry = reg
	d.Metrics = observability.NewProm(metricsNamespace, reg)
	return nil
}

func (d *Dependencies) initAudit(context.Context) error {
	d.Audit = audit.NewAuditService(d.Repos.AuditLogs, d.Logger, audit.DefaultConfig())
	return d.Audit.Start()
}

// initPolicies builds the evaluation cache, evaluator and policy store, then
// applies the seed file when one is configured
func (d *Dependencies) initPolicies(ctx context.Context) error {
	cfg := d.Config.Policy

	d.PolicyCache = policy.NewPolicyCache(cfg.CacheSize, cfg.CacheTTL)
	d.cacheStop = make(chan struct{})
	go d.PolicyCache.StartCleanupWorker(cacheCleanupPeriod, d.cacheStop)

	d.Evaluator = policy.NewEvaluator(d.Repos.Policies, d.PolicyCache, cfg.EvaluationLimit, d.Metrics, d.Logger)
	d.Policies = policy.NewPolicyService(d.Repos.Policies, d.TxManager, d.PolicyCache, d.Audit, d.Logger)

	if cfg.SeedFile == "" {
		return nil
	}
	policies, err := policy.LoadPolicyFile(cfg.SeedFile)
	if err != nil {
		return err
	}
	applied, err := d.Policies.Apply(ctx, policies, seedActor)
	if err != nil {
		return err
	}
	d.Logger.Info("policy seed applied",
		zap.String("file", cfg.SeedFile),
		zap.Int("policies", applied))
	return nil
}

func (d *Dependencies) initQuotas(context.Context) error {
	d.Quotas = quota.NewQuotaService(d.Repos, d.TxManager, d.Config.Quota, d.Logger)
	return nil
}

// initWorkflow connects the execution store and NATS, then builds the
// dispatcher and the requester notifier on top of them
func (d *Dependencies) initWorkflow(context.Context) error {
	store, err := workflow.NewRedisExecutionStore(d.Config.Redis.URL, d.Config.Redis.KeyPrefix, d.Config.Redis.ExecutionTTL)
	if err != nil {
		return err
	}
	d.Store = store

	nc, err := workflow.Connect(d.Config.NATS, d.Logger)
	if err != nil {
		return err
	}
	d.NATS = nc

	subjects := workflow.Subjects{Prefix: d.Config.NATS.SubjectPrefix}
	publisher, err := workflow.NewNatsPublisher(nc, d.Config.NATS, subjects, d.Logger)
	if err != nil {
		return err
	}
	d.Publisher = publisher

	d.Dispatcher = workflow.NewDispatcher(store, publisher, subjects, d.Config.Workflow.DispatchTimeout, d.Metrics, d.Logger)
	d.Notifier = notify.NewNatsNotifier(publisher, subjects, d.Logger)

	d.Logger.Info("workflow transport ready",
		zap.String("nats_url", nc.ConnectedUrl()),
		zap.Bool("jetstream", d.Config.NATS.UseJetStream))
	return nil
}

// initProvisioning builds the request lifecycle manager and subscribes it to
// execution results
func (d *Dependencies) initProvisioning(context.Context) error {
	d.Provisioning = provisioning.NewService(
		d.Repos,
		d.Evaluator,
		d.Dispatcher,
		d.Notifier,
		d.Audit,
		d.Metrics,
		d.Config.Workflow.NotificationTimeout,
		d.Logger,
	)

	subjects := workflow.Subjects{Prefix: d.Config.NATS.SubjectPrefix}
	d.Results = workflow.NewResultSubscriber(d.NATS, d.Publisher.JetStream(), subjects, d.Provisioning, d.Logger)
	return d.Results.Start()
}

func (d *Dependencies) initAuth(context.Context) error {
	if d.Config.Auth.JWTSecret == "" {
		d.Logger.Warn("auth secret not configured, protected routes will reject every token")
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Logger)
		return nil
	}

	validator, err := auth.NewJWTValidator(d.Config.Auth.JWTSecret, d.Config.Auth.Issuer)
	if err != nil {
		return err
	}
	d.JWT = validator
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("jwt authentication enabled", zap.String("issuer", d.Config.Auth.Issuer))
	return nil
}

// rejectAllValidator rejects all tokens (used when no secret is configured)
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, fmt.Errorf("authentication not configured")
}

// Close gracefully shuts down all dependencies. Safe on a partially
// initialized value.
func (d *Dependencies) Close(ctx context.Context) error {
	if d.Logger != nil {
		d.Logger.Info("shutting down dependencies")
	}

	var errs []error

	if d.Results != nil {
		if err := d.Results.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop result subscriber: %w", err))
		}
	}

	if d.Provisioning != nil {
		d.Provisioning.WaitForNotifications()
	}

	if d.Audit != nil {
		if err := d.Audit.Stop(auditStopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.cacheStop != nil {
		close(d.cacheStop)
		d.cacheStop = nil
	}

	if d.NATS != nil {
		if err := d.NATS.Drain(); err != nil {
			d.NATS.Close()
		}
	}

	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close execution store: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}
