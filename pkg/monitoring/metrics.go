package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
)

// MetricsCollector handles Prometheus metrics for the store, the sync queue
// and the HTTP API. Each collector owns its registry. A nil collector is
// valid and records nothing.
type MetricsCollector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	storeOperations     *prometheus.CounterVec
	queueDepth          *prometheus.GaugeVec
	replaysTotal        *prometheus.CounterVec
	drainsTotal         *prometheus.CounterVec
	drainDuration       prometheus.Histogram
	online              prometheus.Gauge
}

// NewMetricsCollector creates a collector labelled with serviceName
func NewMetricsCollector(serviceName string) *MetricsCollector {
	labels := prometheus.Labels{"service": serviceName}

	m := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status_code"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "Duration of HTTP requests in seconds",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
			[]string{"method", "endpoint"},
		),
		storeOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "emr_store_operations_total",
				Help:        "Total number of record store operations",
				ConstLabels: labels,
			},
			[]string{"collection", "operation", "status"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "emr_sync_queue_entries",
				Help:        "Number of sync queue entries by status",
				ConstLabels: labels,
			},
			[]string{"status"},
		),
		replaysTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "emr_sync_replays_total",
				Help:        "Total number of queued mutation replays",
				ConstLabels: labels,
			},
			[]string{"entity", "operation", "outcome"},
		),
		drainsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "emr_sync_drains_total",
				Help:        "Total number of drain passes",
				ConstLabels: labels,
			},
			[]string{"result"},
		),
		drainDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "emr_sync_drain_duration_seconds",
				Help:        "Duration of drain passes in seconds",
				Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
				ConstLabels: labels,
			},
		),
		online: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "emr_connectivity_online",
				Help:        "1 when the remote sync target is reachable",
				ConstLabels: labels,
			},
		),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.storeOperations,
		m.queueDepth,
		m.replaysTotal,
		m.drainsTotal,
		m.drainDuration,
		m.online,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records HTTP request metrics
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordStoreOperation counts a store call
func (m *MetricsCollector) RecordStoreOperation(collection, operation string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.storeOperations.WithLabelValues(collection, operation, status).Inc()
}

// RecordReplay counts one replay attempt
func (m *MetricsCollector) RecordReplay(entity, operation string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.replaysTotal.WithLabelValues(entity, operation, outcome).Inc()
}

// RecordDrain records a drain pass. result is completed, offline or error.
func (m *MetricsCollector) RecordDrain(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.drainsTotal.WithLabelValues(result).Inc()
	if result != "offline" {
		m.drainDuration.Observe(duration.Seconds())
	}
}

// SetQueueDepth publishes the pending and failed counts
func (m *MetricsCollector) SetQueueDepth(report types.SyncStatusReport) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(string(types.SyncStatusPending)).Set(float64(report.Pending))
	m.queueDepth.WithLabelValues(string(types.SyncStatusFailed)).Set(float64(report.Failed))
}

// SetOnline publishes the connectivity state
func (m *MetricsCollector) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware creates middleware for HTTP request metrics. endpoint
// resolves the label for a request, so path parameters do not explode
// label cardinality.
func (m *MetricsCollector) HTTPMiddleware(endpoint func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := NewStatusRecorder(w)
			next.ServeHTTP(rec, r)

			m.RecordHTTPRequest(r.Method, endpoint(r), strconv.Itoa(rec.StatusCode()), time.Since(start))
		})
	}
}

// StatusRecorder wraps http.ResponseWriter to capture status code
type StatusRecorder struct {
	http.ResponseWriter
	statusCode int
}

// NewStatusRecorder wraps w, defaulting the status to 200
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *StatusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// StatusCode returns the status written so far
func (rw *StatusRecorder) StatusCode() int {
	return rw.statusCode
}
