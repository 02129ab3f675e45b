package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herdwatch_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herdwatch_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	collectorRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herdwatch_collector_runs_total",
			Help: "Collector scans by collector and outcome",
		},
		[]string{"collector", "status"},
	)

	collectorCandidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herdwatch_collector_candidates_total",
			Help: "Candidate events emitted by collector",
		},
		[]string{"collector"},
	)

	collectorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herdwatch_collector_duration_seconds",
			Help:    "Collector scan latency",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		},
		[]string{"collector"},
	)

	notificationsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herdwatch_notifications_upserted_total",
			Help: "Notification upserts by type and result (created, stage_changed, updated, unchanged, error)",
		},
		[]string{"type", "result"},
	)

	gateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herdwatch_gate_decisions_total",
			Help: "Preference gate outcomes by reason",
		},
		[]string{"reason"},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herdwatch_deliveries_total",
			Help: "Delivery attempts by channel and status",
		},
		[]string{"channel", "status"},
	)

	deliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herdwatch_delivery_latency_seconds",
			Help:    "Time spent handing a delivery to its channel",
			Buckets: []float64{.01, .05, .1, .5, 1, 2, 5, 10},
		},
		[]string{"channel"},
	)

	digestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herdwatch_digests_total",
			Help: "Digest lifecycle events (created, scheduled, sent, failed)",
		},
		[]string{"status"},
	)

	jobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herdwatch_job_runs_total",
			Help: "Scheduled job runs by job and outcome",
		},
		[]string{"job", "status"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herdwatch_job_duration_seconds",
			Help:    "Scheduled job run time",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
		},
		[]string{"job"},
	)

	sqsMessagesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "herdwatch_sqs_messages_in_flight",
			Help: "Current delivery messages being processed from SQS",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herdwatch_rate_limit_rejections_total",
			Help: "Real-time deliveries withheld by per-user rate limits",
		},
		[]string{"window"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "herdwatch_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"breaker"},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herdwatch_events_published_total",
			Help: "Domain events published to Kafka by type and status",
		},
		[]string{"type", "status"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "herdwatch_db_connections_active",
			Help: "Acquired database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCollectorRun records one collector scan.
func RecordCollectorRun(collector string, candidates int, duration time.Duration, err error) {
	collectorRuns.WithLabelValues(collector, outcome(err)).Inc()
	collectorCandidates.WithLabelValues(collector).Add(float64(candidates))
	collectorDuration.WithLabelValues(collector).Observe(duration.Seconds())
}

// RecordUpsert records the result of one notification upsert.
func RecordUpsert(notificationType, result string) {
	notificationsUpserted.WithLabelValues(notificationType, result).Inc()
}

// RecordGateDecision records why the preference gate allowed or withheld a send.
func RecordGateDecision(reason string) {
	if reason == "" {
		reason = "allowed"
	}
	gateDecisions.WithLabelValues(reason).Inc()
}

// RecordDelivery records a delivery attempt
func RecordDelivery(channel, status string, latency time.Duration) {
	deliveries.WithLabelValues(channel, status).Inc()
	deliveryLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

// RecordDigest records a digest lifecycle transition.
func RecordDigest(status string) {
	digestsTotal.WithLabelValues(status).Inc()
}

// RecordJobRun records a scheduled job run
func RecordJobRun(job string, duration time.Duration, err error) {
	jobRuns.WithLabelValues(job, outcome(err)).Inc()
	jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// SetSQSMessagesInFlight sets the current in-flight message count
func SetSQSMessagesInFlight(count int) {
	sqsMessagesInFlight.Set(float64(count))
}

// RecordRateLimitRejection records a delivery withheld by the hourly or daily limit.
func RecordRateLimitRejection(window string) {
	rateLimitRejections.WithLabelValues(window).Inc()
}

// SetBreakerState publishes a circuit breaker state transition.
func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// RecordEventPublished records a Kafka publish attempt.
func RecordEventPublished(eventType string, err error) {
	eventsPublished.WithLabelValues(eventType, outcome(err)).Inc()
}

// SetDBConnections sets acquired database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics. Requests
// are labelled by chi route pattern so path parameters do not explode the
// label space.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, routePattern(r), wrapped.status, time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
