// Package metrics provides Prometheus metrics for the uplift analytics engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the engine.
type Manager struct {
	namespace string
	registry  prometheus.Registerer

	// Ingestion metrics
	eventsIngested  *prometheus.CounterVec
	eventsDuplicate prometheus.Counter
	eventsDropped   prometheus.Counter
	eventsInvalid   prometheus.Counter

	// Buffer metrics
	bufferSize        prometheus.Gauge
	bufferCapacity    prometheus.Gauge
	bufferUtilization prometheus.Gauge

	// Aggregation metrics
	drainBatchSize        prometheus.Histogram
	aggregationLatency    prometheus.Histogram
	funnelAnalysisLatency prometheus.Histogram

	// Assignment metrics
	assignmentsComputed prometheus.Counter
	assignmentsReplayed prometheus.Counter
	assignmentsFallback prometheus.Counter
	assignmentRecords   prometheus.Gauge

	// Experiment metrics
	experimentsRunning   prometheus.Gauge
	experimentsCompleted prometheus.Counter

	// Alert metrics
	alertsEmitted    *prometheus.CounterVec
	alertsSuppressed *prometheus.CounterVec

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorsByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "uplift",
		registry:  prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	factory := promauto.With(m.registry)

	m.eventsIngested = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "events_ingested_total",
		Help:      "Total events accepted into the ingestion buffer, by kind.",
	}, []string{"kind"})

	m.eventsDuplicate = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "events_duplicate_total",
		Help:      "Total events rejected by the idempotency check.",
	})

	m.eventsDropped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "events_dropped_total",
		Help:      "Total events evicted from a saturated ingestion buffer.",
	})

	m.eventsInvalid = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "events_invalid_total",
		Help:      "Total events rejected by request validation.",
	})

	m.bufferSize = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "buffer_size",
		Help:      "Current number of events in the ingestion buffer.",
	})

	m.bufferCapacity = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "buffer_capacity",
		Help:      "Configured ingestion buffer capacity.",
	})

	m.bufferUtilization = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "buffer_utilization",
		Help:      "Ingestion buffer utilization ratio (0-1).",
	})

	m.drainBatchSize = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "drain_batch_size",
		Help:      "Events drained per aggregator cycle.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})

	m.aggregationLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "aggregation_latency_ms",
		Help:      "Latency of one aggregator drain cycle in milliseconds.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	m.funnelAnalysisLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "funnel_analysis_latency_ms",
		Help:      "Latency of funnel analysis queries in milliseconds.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	m.assignmentsComputed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "assignments_computed_total",
		Help:      "Total first-time variant assignments.",
	})

	m.assignmentsReplayed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "assignments_replayed_total",
		Help:      "Total assignments answered from the assignment record store.",
	})

	m.assignmentsFallback = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "assignments_fallback_total",
		Help:      "Total assignment requests degraded to the control variant.",
	})

	m.assignmentRecords = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "assignment_records",
		Help:      "Current number of persisted assignment records.",
	})

	m.experimentsRunning = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "experiments_running",
		Help:      "Number of experiments currently in the running state.",
	})

	m.experimentsCompleted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "experiments_completed_total",
		Help:      "Total experiments transitioned to the completed state.",
	})

	m.alertsEmitted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "alerts_emitted_total",
		Help:      "Total alerts emitted to the notification sink, by kind.",
	}, []string{"kind"})

	m.alertsSuppressed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "alerts_suppressed_total",
		Help:      "Total alerts suppressed by the cooldown window, by kind.",
	}, []string{"kind"})

	m.httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by endpoint, method and status code.",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request duration in milliseconds.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "errors_total",
		Help:      "Total errors by component and error type.",
	}, []string{"component", "error_type"})
}

// Package-level helpers operating on the global manager.

// RecordEventIngested increments the ingested counter for an event kind.
func RecordEventIngested(kind string) {
	globalManager.eventsIngested.WithLabelValues(kind).Inc()
}

// RecordEventDuplicate increments the duplicate event counter.
func RecordEventDuplicate() {
	globalManager.eventsDuplicate.Inc()
}

// RecordEventsDropped adds n to the dropped event counter.
func RecordEventsDropped(n int) {
	globalManager.eventsDropped.Add(float64(n))
}

// RecordEventInvalid increments the invalid event counter.
func RecordEventInvalid() {
	globalManager.eventsInvalid.Inc()
}

// UpdateBufferSize sets the buffer size gauge.
func UpdateBufferSize(size int) {
	globalManager.bufferSize.Set(float64(size))
}

// UpdateBufferCapacity sets the buffer capacity gauge.
func UpdateBufferCapacity(capacity int) {
	globalManager.bufferCapacity.Set(float64(capacity))
}

// UpdateBufferUtilization sets the buffer utilization gauge.
func UpdateBufferUtilization(utilization float64) {
	globalManager.bufferUtilization.Set(utilization)
}

// RecordDrainBatch observes the size of one drained batch.
func RecordDrainBatch(size int) {
	globalManager.drainBatchSize.Observe(float64(size))
}

// RecordAggregationLatency observes one drain cycle's latency.
func RecordAggregationLatency(latencyMs float64) {
	globalManager.aggregationLatency.Observe(latencyMs)
}

// RecordFunnelAnalysisLatency observes one funnel analysis latency.
func RecordFunnelAnalysisLatency(latencyMs float64) {
	globalManager.funnelAnalysisLatency.Observe(latencyMs)
}

// RecordAssignmentComputed increments the first-time assignment counter.
func RecordAssignmentComputed() {
	globalManager.assignmentsComputed.Inc()
}

// RecordAssignmentReplayed increments the replayed assignment counter.
func RecordAssignmentReplayed() {
	globalManager.assignmentsReplayed.Inc()
}

// RecordAssignmentFallback increments the control fallback counter.
func RecordAssignmentFallback() {
	globalManager.assignmentsFallback.Inc()
}

// UpdateAssignmentRecords sets the assignment record gauge.
func UpdateAssignmentRecords(count int) {
	globalManager.assignmentRecords.Set(float64(count))
}

// UpdateExperimentsRunning sets the running experiment gauge.
func UpdateExperimentsRunning(count int) {
	globalManager.experimentsRunning.Set(float64(count))
}

// RecordExperimentCompleted increments the completed experiment counter.
func RecordExperimentCompleted() {
	globalManager.experimentsCompleted.Inc()
}

// RecordAlertEmitted increments the emitted alert counter for a kind.
func RecordAlertEmitted(kind string) {
	globalManager.alertsEmitted.WithLabelValues(kind).Inc()
}

// RecordAlertSuppressed increments the suppressed alert counter for a kind.
func RecordAlertSuppressed(kind string) {
	globalManager.alertsSuppressed.WithLabelValues(kind).Inc()
}

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes one HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent increments the error counter for a component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry for exposition.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
