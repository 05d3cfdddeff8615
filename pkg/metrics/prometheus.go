// Package metrics provides Prometheus metrics for the neurogame telemetry service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the neurogame service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Ingestion
	batches         *prometheus.CounterVec
	eventsStored    prometheus.Counter
	eventsDuplicate prometheus.Counter
	eventsRejected  *prometheus.CounterVec
	dedupeHits      prometheus.Counter
	authFailures    prometheus.Counter

	// Store
	storeWriteLatency prometheus.Histogram
	storeQueryLatency *prometheus.HistogramVec
	storeErrors       *prometheus.CounterVec
	storeEvents       prometheus.Gauge

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Client durable queue
	queuePending  prometheus.Gauge
	queueAppended prometheus.Counter
	queueAcked    prometheus.Counter
	queuePruned   prometheus.Counter
	queueCorrupt  prometheus.Counter

	// Client sender
	senderAttempts  *prometheus.CounterVec
	senderBackoff   prometheus.Histogram
	senderBatchSize prometheus.Histogram

	// Analytics
	analyticsRuns     *prometheus.CounterVec
	analyticsSessions prometheus.Gauge
	analyticsDuration prometheus.Histogram

	// Error tracking
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "neurogame",
		subsystem:        "telemetry",
		histogramBuckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// Enabled reports whether the collectors are registered on the configured registry.
func (m *Manager) Enabled() bool { return m.enabled }

// RefreshInterval is the sampling period for the system gauges.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

// RefreshInterval returns the global manager's gauge sampling period.
func RefreshInterval() time.Duration { return globalManager.refreshInterval }

func (m *Manager) name(n string) string {
	return m.metricPrefix + n
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	reg := m.registry
	if !m.enabled {
		reg = prometheus.NewRegistry()
	}
	auto := promauto.With(reg)
	labels := prometheus.Labels(m.customLabels)

	counter := func(name, help string) prometheus.Counter {
		return auto.NewCounter(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels,
		})
	}
	counterVec := func(name, help string, lv ...string) *prometheus.CounterVec {
		return auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels,
		}, lv)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return auto.NewGauge(prometheus.GaugeOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels,
		})
	}
	histogram := func(name, help string, buckets []float64) prometheus.Histogram {
		return auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels, Buckets: buckets,
		})
	}
	histogramVec := func(name, help string, buckets []float64, lv ...string) *prometheus.HistogramVec {
		return auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels, Buckets: buckets,
		}, lv)
	}

	m.batches = counterVec("ingest_batches_total", "Ingest batches by outcome", "outcome")
	m.eventsStored = counter("events_stored_total", "Events newly written to the durable store")
	m.eventsDuplicate = counter("events_duplicate_total", "Events acknowledged without a write because the id was already stored")
	m.eventsRejected = counterVec("events_rejected_total", "Events that failed envelope validation", "reason")
	m.dedupeHits = counter("dedupe_cache_hits_total", "Events short-circuited by the recent-id cache")
	m.authFailures = counter("auth_failures_total", "Requests rejected for an invalid API key")

	m.storeWriteLatency = histogram("store_write_latency_milliseconds", "Batch write transaction latency", m.histogramBuckets)
	m.storeQueryLatency = histogramVec("store_query_latency_milliseconds", "Store read latency by operation", m.histogramBuckets, "op")
	m.storeErrors = counterVec("store_errors_total", "Store failures by operation", "op")
	m.storeEvents = gauge("store_events", "Events held by the store")

	m.httpRequests = counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		m.histogramBuckets, "endpoint", "method", "status_code")

	m.queuePending = gauge("client_queue_pending", "Events waiting in the client durable queue")
	m.queueAppended = counter("client_queue_appended_total", "Events appended to the client durable queue")
	m.queueAcked = counter("client_queue_acked_total", "Events removed from the client queue after server acknowledgement")
	m.queuePruned = counter("client_queue_pruned_total", "Events dropped by the client queue retention policy")
	m.queueCorrupt = counter("client_queue_corrupt_lines_total", "Unreadable lines skipped while loading the client queue")

	m.senderAttempts = counterVec("sender_attempts_total", "Batch delivery attempts by outcome", "outcome")
	m.senderBackoff = histogram("sender_backoff_milliseconds", "Delay before the next delivery attempt",
		[]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000})
	m.senderBatchSize = histogram("sender_batch_size", "Events per delivery attempt",
		[]float64{1, 5, 10, 25, 50, 100, 250, 500})

	m.analyticsRuns = counterVec("analytics_runs_total", "Analytics job runs by outcome", "outcome")
	m.analyticsSessions = gauge("analytics_sessions", "Sessions with metrics in the last analytics run")
	m.analyticsDuration = histogram("analytics_duration_milliseconds", "Analytics job wall time",
		[]float64{10, 50, 100, 500, 1000, 5000, 10000, 60000})

	m.errorRateByComponent = counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByType = counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = counterVec("errors_by_endpoint_total", "Errors by endpoint", "endpoint", "method", "error_type")
	m.errorLatency = histogramVec("error_latency_milliseconds", "Latency of operations that ended in an error",
		m.histogramBuckets, "component", "error_type")

	m.systemMemoryUsage = gauge("system_memory_usage_bytes", "Allocated heap bytes")
	m.systemGoroutineCount = gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = histogram("system_gc_pause_time_milliseconds", "Average GC pause time",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordBatch counts an ingest batch by outcome.
func RecordBatch(outcome string) {
	globalManager.batches.WithLabelValues(outcome).Inc()
}

// RecordEventsStored adds newly written events.
func RecordEventsStored(n int) {
	globalManager.eventsStored.Add(float64(n))
}

// RecordEventsDuplicate adds events that were already stored.
func RecordEventsDuplicate(n int) {
	globalManager.eventsDuplicate.Add(float64(n))
}

// RecordEventRejected counts one event that failed validation.
func RecordEventRejected(reason string) {
	globalManager.eventsRejected.WithLabelValues(reason).Inc()
}

// RecordDedupeHit counts an event answered from the recent-id cache.
func RecordDedupeHit() {
	globalManager.dedupeHits.Inc()
}

// RecordAuthFailure counts a request with a bad API key.
func RecordAuthFailure() {
	globalManager.authFailures.Inc()
}

// RecordStoreWriteLatency records one batch transaction.
func RecordStoreWriteLatency(latencyMs float64) {
	globalManager.storeWriteLatency.Observe(latencyMs)
}

// RecordStoreQueryLatency records a read by operation name.
func RecordStoreQueryLatency(op string, latencyMs float64) {
	globalManager.storeQueryLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(op string) {
	globalManager.storeErrors.WithLabelValues(op).Inc()
}

// UpdateStoreEvents sets the number of stored events.
func UpdateStoreEvents(n int) {
	globalManager.storeEvents.Set(float64(n))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateQueuePending sets the client queue depth.
func UpdateQueuePending(n int) {
	globalManager.queuePending.Set(float64(n))
}

// RecordQueueAppend counts one durable append.
func RecordQueueAppend() {
	globalManager.queueAppended.Inc()
}

// RecordQueueAck adds acknowledged events.
func RecordQueueAck(n int) {
	globalManager.queueAcked.Add(float64(n))
}

// RecordQueuePruned adds events dropped by retention.
func RecordQueuePruned(n int) {
	globalManager.queuePruned.Add(float64(n))
}

// RecordQueueCorruptLine counts a skipped unreadable line.
func RecordQueueCorruptLine() {
	globalManager.queueCorrupt.Inc()
}

// RecordSenderAttempt counts a delivery attempt by outcome.
func RecordSenderAttempt(outcome string, batchSize int) {
	globalManager.senderAttempts.WithLabelValues(outcome).Inc()
	globalManager.senderBatchSize.Observe(float64(batchSize))
}

// RecordSenderBackoff records the wait before a retry.
func RecordSenderBackoff(delay time.Duration) {
	globalManager.senderBackoff.Observe(float64(delay.Milliseconds()))
}

// RecordAnalyticsRun counts an analytics job run.
func RecordAnalyticsRun(outcome string, elapsed time.Duration) {
	globalManager.analyticsRuns.WithLabelValues(outcome).Inc()
	globalManager.analyticsDuration.Observe(float64(elapsed.Milliseconds()))
}

// UpdateAnalyticsSessions sets the session count of the last run.
func UpdateAnalyticsSessions(n int) {
	globalManager.analyticsSessions.Set(float64(n))
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
