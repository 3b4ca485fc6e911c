package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	storeDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Approval state machine metrics
	ApprovalTransitionsTotal     *prometheus.CounterVec
	ApprovalRejectedTotal        *prometheus.CounterVec
	AuditAppendFailuresTotal     prometheus.Counter
	NotificationDispatchTotal    *prometheus.CounterVec
	NotificationDispatchFailures prometheus.Counter

	// Workflow tracker metrics
	TrackerStartsTotal    *prometheus.CounterVec
	TrackerAdvancesTotal  *prometheus.CounterVec
	TrackerTerminalsTotal *prometheus.CounterVec
	TrackerStepDuration   *prometheus.HistogramVec
	FeedSubscribers       prometheus.Gauge
	FeedEventsDropped     prometheus.Counter

	// Aggregation metrics
	AggregationDuration  *prometheus.HistogramVec
	PendingFeedSizeTotal prometheus.Histogram
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		ApprovalTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_approval_transitions_total",
			Help: "Total number of committed approval status transitions.",
		}, []string{"from_status", "to_status"}),
		ApprovalRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_approval_rejected_attempts_total",
			Help: "Total number of approval attempts rejected before commit.",
		}, []string{"reason"}),
		AuditAppendFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aegis_audit_append_failures_total",
			Help: "Total number of audit log append failures after a committed write.",
		}),
		NotificationDispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_notification_dispatch_total",
			Help: "Total number of notification dispatch attempts.",
		}, []string{"action"}),
		NotificationDispatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aegis_notification_dispatch_failures_total",
			Help: "Total number of swallowed notification dispatch failures.",
		}),

		TrackerStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_tracker_starts_total",
			Help: "Total number of workflow instances started.",
		}, []string{"workflow_key"}),
		TrackerAdvancesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_tracker_advances_total",
			Help: "Total number of workflow step advances.",
		}, []string{"workflow_key", "step_id"}),
		TrackerTerminalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_tracker_terminals_total",
			Help: "Total number of instances reaching a terminal or paused status.",
		}, []string{"workflow_key", "status"}),
		TrackerStepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_tracker_step_duration_seconds",
			Help:    "Closed workflow step duration in seconds.",
			Buckets: []float64{1, 60, 600, 3600, 14400, 86400, 604800},
		}, []string{"workflow_key", "step_id"}),
		FeedSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_feed_subscribers",
			Help: "Current number of change feed subscriptions.",
		}),
		FeedEventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aegis_feed_events_dropped_total",
			Help: "Total change feed events dropped due to slow subscribers.",
		}),

		AggregationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_aggregation_duration_seconds",
			Help:    "Aggregation fold duration in seconds.",
			Buckets: storeDurationBuckets,
		}, []string{"aggregation"}),
		PendingFeedSizeTotal: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_pending_feed_size",
			Help:    "Number of records in a merged pending-approvals feed.",
			Buckets: []float64{0, 10, 50, 100, 500, 1000, 5000},
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ApprovalTransitionsTotal,
		m.ApprovalRejectedTotal,
		m.AuditAppendFailuresTotal,
		m.NotificationDispatchTotal,
		m.NotificationDispatchFailures,
		m.TrackerStartsTotal,
		m.TrackerAdvancesTotal,
		m.TrackerTerminalsTotal,
		m.TrackerStepDuration,
		m.FeedSubscribers,
		m.FeedEventsDropped,
		m.AggregationDuration,
		m.PendingFeedSizeTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordApprovalTransition records a committed approval transition.
func (m *Metrics) RecordApprovalTransition(from, to string) {
	m.ApprovalTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordApprovalRejected records an approval attempt rejected before commit.
func (m *Metrics) RecordApprovalRejected(reason string) {
	m.ApprovalRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordAuditAppendFailure records a swallowed audit append failure.
func (m *Metrics) RecordAuditAppendFailure() {
	m.AuditAppendFailuresTotal.Inc()
}

// RecordNotificationDispatch records a notification dispatch attempt.
func (m *Metrics) RecordNotificationDispatch(action string, failed bool) {
	m.NotificationDispatchTotal.WithLabelValues(action).Inc()
	if failed {
		m.NotificationDispatchFailures.Inc()
	}
}

// RecordTrackerStart records a workflow instance start.
func (m *Metrics) RecordTrackerStart(workflowKey string) {
	m.TrackerStartsTotal.WithLabelValues(workflowKey).Inc()
}

// RecordTrackerAdvance records a workflow step advance.
func (m *Metrics) RecordTrackerAdvance(workflowKey, stepID string) {
	m.TrackerAdvancesTotal.WithLabelValues(workflowKey, stepID).Inc()
}

// RecordTrackerTerminal records an instance reaching a terminal or paused status.
func (m *Metrics) RecordTrackerTerminal(workflowKey, status string) {
	m.TrackerTerminalsTotal.WithLabelValues(workflowKey, status).Inc()
}

// RecordTrackerStepDuration records a closed step's duration.
func (m *Metrics) RecordTrackerStepDuration(workflowKey, stepID string, duration time.Duration) {
	m.TrackerStepDuration.WithLabelValues(workflowKey, stepID).Observe(duration.Seconds())
}

// RecordAggregation records an aggregation fold duration.
func (m *Metrics) RecordAggregation(name string, duration time.Duration) {
	m.AggregationDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordPendingFeedSize records the size of a merged pending-approvals feed.
func (m *Metrics) RecordPendingFeedSize(n int) {
	m.PendingFeedSizeTotal.Observe(float64(n))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

// Flush lets streaming handlers behind the middleware flush events.
func (w *metricsResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
