package routes

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/kafka-control-plane/app"
	"github.com/upb/kafka-control-plane/handlers"
	"github.com/upb/kafka-control-plane/internal/observability"
	appmw "github.com/upb/kafka-control-plane/middleware"
	"github.com/upb/kafka-control-plane/utils"
)

const defaultMetricsPath = "/metrics"

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(appmw.RequestContext)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", handlers.CallbackTokenHeader},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	health := handlers.NewHealthHandler(sqlDB(deps), readinessCheckers(deps), deps.Logger)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Registry != nil {
		path := deps.Config.Observability.MetricsPath
		if path == "" {
			path = defaultMetricsPath
		}
		r.Method(http.MethodGet, path, observability.Handler(deps.Registry))
	}

	requests := handlers.NewRequestHandler(deps.Provisioning, deps.Quotas, deps.Logger)
	quotas := handlers.NewQuotaHandler(deps.Quotas, deps.Logger)
	policies := handlers.NewPolicyHandler(deps.Policies, deps.Logger)
	results := handlers.NewWorkflowHandler(deps.Provisioning, deps.Config.Workflow.CallbackToken, deps.Logger)

	adminRole := deps.Config.Auth.AdminRole
	approverRole := deps.Config.Auth.ApproverRole

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Engine callbacks authenticate with the shared callback token
		r.Post("/workflows/results", results.HandleResult)

		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)

			r.Route("/workspaces/{workspaceID}", func(r chi.Router) {
				r.Post("/requests", requests.HandleCreate)
				r.Get("/requests", requests.HandleList)

				r.Get("/quotas/{kind}", quotas.HandleGetQuota)
				r.With(deps.AuthMiddleware.RequireRole(adminRole)).
					Put("/quotas/{kind}", quotas.HandleSetQuota)
			})

			r.Route("/requests/{id}", func(r chi.Router) {
				r.Get("/", requests.HandleGet)
				r.Delete("/", requests.HandleDelete)
				r.Post("/cancel", requests.HandleCancel)
				r.Post("/retry-dispatch", requests.HandleRetryDispatch)

				r.Group(func(r chi.Router) {
					r.Use(deps.AuthMiddleware.RequireRole(approverRole, adminRole))
					r.Post("/approve", requests.HandleApprove)
					r.Post("/reject", requests.HandleReject)
				})
			})

			// Policy management (require admin role)
			r.Route("/policies", func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireRole(adminRole))
				r.Get("/", policies.HandleListPolicies)
				r.Post("/", policies.HandleCreatePolicy)
				r.Post("/apply", policies.HandleApplyPolicies)
				r.Get("/cache", policies.HandleCacheStats)
				r.Get("/{id}", policies.HandleGetPolicy)
				r.Put("/{id}", policies.HandleUpdatePolicy)
				r.Delete("/{id}", policies.HandleDeletePolicy)
			})
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}

func sqlDB(deps *app.Dependencies) *sql.DB {
	if deps.DB == nil {
		return nil
	}
	return deps.DB.DB
}

// readinessCheckers lists the transports the service cannot work without
func readinessCheckers(deps *app.Dependencies) map[string]handlers.Pinger {
	checkers := make(map[string]handlers.Pinger)
	if deps.Store != nil {
		checkers["redis"] = deps.Store
	}
	if deps.Publisher != nil {
		checkers["nats"] = deps.Publisher
	}
	return checkers
}
