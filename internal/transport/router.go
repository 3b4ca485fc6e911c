package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/aegis/internal/config"
	"github.com/pitabwire/aegis/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Authenticate func(http.Handler) http.Handler
	Readiness    observability.ReadinessChecks

	Approval *ApprovalHandler
	Tracker  *TrackerHandler
	Status   *StatusHandler
	Pending  *PendingHandler
	Feed     *FeedHandler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes, bypass authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(observability.TracingMiddleware)
		r.Use(BuildActorContext(deps.Config.Identity.ClaimPaths))
		r.Use(RequestLogging(logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		// The feed endpoint holds its connection open and must not inherit
		// the handler deadline.
		r.Get("/api/workflow-instances/feed", deps.Feed.Stream)

		r.Group(func(r chi.Router) {
			r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))

			r.Post("/api/incidents/{incidentId}/validate", deps.Approval.Validate)
			r.Post("/api/incidents/{incidentId}/close", deps.Approval.Close)
			r.Get("/api/incidents/{incidentId}/audit", deps.Approval.AuditTrail)

			r.Post("/api/workflows/{workflowKey}/start", deps.Tracker.Start)
			r.Get("/api/workflow-instances", deps.Tracker.List)
			r.Get("/api/workflow-instances/{instanceId}", deps.Tracker.Get)
			r.Get("/api/workflow-instances/{instanceId}/steps", deps.Tracker.Steps)
			r.Post("/api/workflow-instances/{instanceId}/advance", deps.Tracker.Advance)
			r.Post("/api/workflow-instances/{instanceId}/complete", deps.Tracker.Complete)
			r.Post("/api/workflow-instances/{instanceId}/cancel", deps.Tracker.Cancel)
			r.Post("/api/workflow-instances/{instanceId}/pause", deps.Tracker.Pause)

			r.Get("/api/workflows/status", deps.Status.LiveStatuses)
			r.Get("/api/workflows/metrics", deps.Status.Metrics)

			r.Get("/api/approvals/pending", deps.Pending.Feed)
			r.Get("/api/approvals/pending/counts", deps.Pending.Counts)
		})
	})

	return r
}
