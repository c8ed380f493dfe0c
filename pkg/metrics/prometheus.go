// Package metrics provides Prometheus metrics for the prode service.
package metrics

import (
	"slices"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Scoring and ranking
	scoringDuration   prometheus.Histogram
	rankingBuilds     *prometheus.CounterVec
	rankingDuration   prometheus.Histogram
	rankingEntries    prometheus.Gauge
	rankingSkipped    prometheus.Counter
	predictionsStored prometheus.Gauge

	// Submissions
	predictionsSubmitted prometheus.Counter
	predictionsRejected  *prometheus.CounterVec
	resultsPublished     prometheus.Counter

	// Sync pipeline
	syncEnqueued  prometheus.Counter
	syncDelivered prometheus.Counter
	syncFailed    prometheus.Counter
	syncDuplicate prometheus.Counter
	queueSize     prometheus.Gauge
	queueCapacity prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec
}

// state pairs the manager behind the package helpers with the registry
// /metrics exposes.
type state struct {
	manager  *Manager
	registry *prometheus.Registry
}

var current atomic.Pointer[state] //nolint:gochecknoglobals // singleton used by the package helpers

func init() { //nolint:gochecknoinits // global metrics setup
	Configure()
}

// Configure replaces the collectors behind the package helpers with a fresh
// set on a new registry. Call it at startup, before serving /metrics; values
// recorded earlier are dropped.
func Configure(opts ...Option) {
	reg := prometheus.NewRegistry()
	m := NewManager(append(slices.Clip(opts), WithPrometheusRegistry(reg))...)
	current.Store(&state{manager: m, registry: reg})
}

func global() *Manager { return current.Load().manager }

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "prode",
		subsystem:        "",
		histogramBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000},
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	})
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.scoringDuration = m.histogram("scoring_duration_milliseconds", "Time spent scoring a single prediction")
	m.rankingBuilds = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "ranking_builds_total",
		Help: "Ranking computations by outcome (ranked, unpublished)",
	}, []string{"outcome"})
	m.rankingDuration = m.histogram("ranking_duration_milliseconds", "Time spent building a full ranking")
	m.rankingEntries = m.gauge("ranking_entries", "Entries in the most recently built ranking")
	m.rankingSkipped = m.counter("ranking_skipped_records_total", "Stored predictions skipped while ranking because they could not be decoded")
	m.predictionsStored = m.gauge("predictions_stored", "Predictions currently held by the store")

	m.predictionsSubmitted = m.counter("predictions_submitted_total", "Predictions accepted by the upsert endpoint")
	m.predictionsRejected = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "predictions_rejected_total",
		Help: "Predictions rejected by reason (validation, deadline)",
	}, []string{"reason"})
	m.resultsPublished = m.counter("results_published_total", "Official results saved in published state")

	m.syncEnqueued = m.counter("sync_enqueued_total", "Predictions queued for the external mirror")
	m.syncDelivered = m.counter("sync_delivered_total", "Predictions written to the external mirror")
	m.syncFailed = m.counter("sync_failed_total", "Mirror deliveries that failed")
	m.syncDuplicate = m.counter("sync_duplicate_total", "Mirror enqueues skipped because the revision was already queued")
	m.queueSize = m.gauge("sync_queue_size", "Current length of the sync queue")
	m.queueCapacity = m.gauge("sync_queue_capacity", "Capacity of the sync queue")

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "http_requests_total",
		Help: "HTTP requests by endpoint, method and status code",
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name:    "http_request_duration_milliseconds",
		Help:    "HTTP request duration in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "errors_total",
		Help: "Errors by component and type",
	}, []string{"component", "error_type"})
}

// RecordScoringDuration observes the time taken to score one prediction.
func RecordScoringDuration(ms float64) { global().scoringDuration.Observe(ms) }

// RecordRankingBuild counts a ranking computation. outcome is "ranked" or "unpublished".
func RecordRankingBuild(outcome string, durationMs float64, entries int) {
	global().rankingBuilds.WithLabelValues(outcome).Inc()
	global().rankingDuration.Observe(durationMs)
	global().rankingEntries.Set(float64(entries))
}

// RecordRankingSkipped counts a stored prediction left out of a ranking.
func RecordRankingSkipped() { global().rankingSkipped.Inc() }

// UpdatePredictionsStored sets the stored predictions gauge.
func UpdatePredictionsStored(n int) { global().predictionsStored.Set(float64(n)) }

// RecordPredictionSubmitted counts an accepted prediction.
func RecordPredictionSubmitted() { global().predictionsSubmitted.Inc() }

// RecordPredictionRejected counts a rejected prediction.
func RecordPredictionRejected(reason string) {
	global().predictionsRejected.WithLabelValues(reason).Inc()
}

// RecordResultPublished counts a published official result.
func RecordResultPublished() { global().resultsPublished.Inc() }

func RecordSyncEnqueued()  { global().syncEnqueued.Inc() }
func RecordSyncDelivered() { global().syncDelivered.Inc() }
func RecordSyncFailed()    { global().syncFailed.Inc() }
func RecordSyncDuplicate() { global().syncDuplicate.Inc() }

// UpdateQueueSize sets the current sync queue length.
func UpdateQueueSize(n int) { global().queueSize.Set(float64(n)) }

// UpdateQueueCapacity sets the sync queue capacity.
func UpdateQueueCapacity(n int) { global().queueCapacity.Set(float64(n)) }

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	global().httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes an HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, ms float64) {
	global().httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(ms)
}

// RecordErrorByComponent counts an error for a component.
func RecordErrorByComponent(component, errorType string) {
	global().errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the registry backing the package helpers.
func GetRegistry() *prometheus.Registry {
	return current.Load().registry
}
