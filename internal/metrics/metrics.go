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
			Name: "stationnotify_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stationnotify_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	smsSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationnotify_sms_sends_total",
			Help: "SMS send attempts by outcome and rejection reason",
		},
		[]string{"status", "reason"},
	)

	smsQuotaRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stationnotify_sms_quota_rejections_total",
			Help: "Sends rejected because the daily limit was reached",
		},
	)

	transportLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stationnotify_sms_transport_latency_seconds",
			Help:    "Time spent waiting on the SMS provider",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"transport"},
	)

	retryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stationnotify_retry_queue_depth",
			Help: "Messages waiting in the in-memory retry queue",
		},
	)

	retryDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stationnotify_retry_dropped_total",
			Help: "Messages dropped after exhausting retry attempts",
		},
	)

	bulkJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationnotify_bulk_jobs_total",
			Help: "Bulk jobs by terminal status",
		},
		[]string{"status"},
	)

	alertScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stationnotify_alert_scan_duration_seconds",
			Help:    "License expiry scan duration by outcome",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	alertsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationnotify_alerts_total",
			Help: "Expiry alerts by result (sent, failed, skipped reason)",
		},
		[]string{"result"},
	)

	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stationnotify_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"breaker"},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stationnotify_rate_limit_rejections_total",
			Help: "API requests rejected by the rate limiter",
		},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationnotify_delivery_events_total",
			Help: "Delivery events published to the events queue by result",
		},
		[]string{"result"},
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

// RecordSMSSend records the outcome of a gateway send. reason is empty for
// successful sends.
func RecordSMSSend(status, reason string) {
	smsSends.WithLabelValues(status, reason).Inc()
}

func RecordQuotaRejection() {
	smsQuotaRejections.Inc()
}

// RecordTransportLatency records how long the provider call took.
func RecordTransportLatency(transport string, d time.Duration) {
	transportLatency.WithLabelValues(transport).Observe(d.Seconds())
}

func SetRetryQueueDepth(n int) {
	retryQueueDepth.Set(float64(n))
}

func RecordRetryDropped() {
	retryDropped.Inc()
}

func RecordBulkJob(status string) {
	bulkJobs.WithLabelValues(status).Inc()
}

// RecordAlertScan records a scheduler run.
func RecordAlertScan(outcome string, d time.Duration) {
	alertScanDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func RecordAlert(result string) {
	alertsProcessed.WithLabelValues(result).Inc()
}

func SetCircuitState(breaker string, state int) {
	circuitState.WithLabelValues(breaker).Set(float64(state))
}

func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

func RecordEventPublished(result string) {
	eventsPublished.WithLabelValues(result).Inc()
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

// Middleware returns HTTP middleware that records request metrics.
// The chi route pattern is used as the path label so ids don't explode cardinality.
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
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
