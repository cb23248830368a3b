// Package metrics provides Prometheus metrics for the source attribution service.
package metrics

import (
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics of the service.
type Manager struct {
	namespace        string
	subsystem        string
	latencyBuckets   []float64
	iterationBuckets []float64
	enabled          bool
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Clustering
	fits               *prometheus.CounterVec
	fitIterations      prometheus.Histogram
	fitDuration        prometheus.Histogram
	degenerateClusters *prometheus.CounterVec
	selectionScans     prometheus.Counter
	selectionDuration  prometheus.Histogram
	validityScore      *prometheus.GaugeVec
	chosenK            prometheus.Gauge

	// Analyses
	analyses          *prometheus.CounterVec
	analysesDuplicate prometheus.Counter
	storeRecords      prometheus.Gauge

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueue       prometheus.Counter
	queueDequeue       prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Workers
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec

	// System
	memoryUsage    prometheus.Gauge
	goroutineCount prometheus.Gauge
	gcPauseTime    prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "pmsource",
		subsystem:        "fcm",
		latencyBuckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		iterationBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		enabled:          true,
		constLabels:      make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.constLabels)

	m.fits = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "fits_total",
		Help:        "Fuzzy partition fits by outcome (converged, not_converged, error)",
		ConstLabels: labels,
	}, []string{"outcome"})

	m.fitIterations = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "fit_iterations",
		Help:        "Iterations used per fit",
		Buckets:     m.iterationBuckets,
		ConstLabels: labels,
	})

	m.fitDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "fit_duration_milliseconds",
		Help:        "Wall time per fit in milliseconds",
		Buckets:     m.latencyBuckets,
		ConstLabels: labels,
	})

	m.degenerateClusters = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "degenerate_clusters_total",
		Help:        "Empty or singleton clusters seen, by stage (fit, profile)",
		ConstLabels: labels,
	}, []string{"stage"})

	m.selectionScans = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "selection_scans_total",
		Help:        "Completed cluster-count scans",
		ConstLabels: labels,
	})

	m.selectionDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "selection_duration_milliseconds",
		Help:        "Wall time per cluster-count scan in milliseconds",
		Buckets:     m.latencyBuckets,
		ConstLabels: labels,
	})

	m.validityScore = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "validity_score",
		Help:        "Silhouette of the latest scan per candidate k",
		ConstLabels: labels,
	}, []string{"k"})

	m.chosenK = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "chosen_k",
		Help:        "Cluster count of the latest final fit",
		ConstLabels: labels,
	})

	m.analyses = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "analyses_total",
		Help:        "Finished analyses by status (done, failed)",
		ConstLabels: labels,
	}, []string{"status"})

	m.analysesDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "analyses_duplicate_total",
		Help:        "Submissions rejected as duplicates of a known request id",
		ConstLabels: labels,
	})

	m.storeRecords = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "store_records",
		Help:        "Analysis records held in the report store",
		ConstLabels: labels,
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "queue_size",
		Help:        "Analyses waiting for a worker",
		ConstLabels: labels,
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "queue_capacity",
		Help:        "Maximum number of queued analyses",
		ConstLabels: labels,
	})

	m.queueEnqueue = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "queue_enqueue_total",
		Help:        "Analyses accepted into the queue",
		ConstLabels: labels,
	})

	m.queueDequeue = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "queue_dequeue_total",
		Help:        "Analyses taken by workers",
		ConstLabels: labels,
	})

	m.queueEnqueueErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "queue_enqueue_errors_total",
		Help:        "Analyses refused because the queue was full or closed",
		ConstLabels: labels,
	})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "worker_count",
		Help:        "Configured analysis workers",
		ConstLabels: labels,
	})

	m.workerActiveCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "worker_active_count",
		Help:        "Workers currently running an analysis",
		ConstLabels: labels,
	})

	m.workerProcessingLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "worker_processing_latency_milliseconds",
		Help:        "End-to-end analysis time in a worker in milliseconds",
		Buckets:     m.latencyBuckets,
		ConstLabels: labels,
	})

	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "worker_errors_total",
		Help:        "Analyses that failed inside a worker",
		ConstLabels: labels,
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_requests_total",
		Help:        "Total number of HTTP requests by endpoint and method",
		ConstLabels: labels,
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.latencyBuckets,
		ConstLabels: labels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "errors_by_component_total",
		Help:        "Errors by component and type",
		ConstLabels: labels,
	}, []string{"component", "error_type"})

	m.memoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   "system",
		Name:        "memory_bytes",
		Help:        "Heap bytes allocated",
		ConstLabels: labels,
	})

	m.goroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   "system",
		Name:        "goroutines",
		Help:        "Number of goroutines",
		ConstLabels: labels,
	})

	m.gcPauseTime = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   "system",
		Name:        "gc_pause_milliseconds",
		Help:        "Average GC pause in milliseconds",
		ConstLabels: labels,
	})
}

// RecordFit records one finished fit.
func (m *Manager) RecordFit(converged bool, iterations int, elapsed time.Duration) {
	if !m.enabled {
		return
	}
	outcome := "converged"
	if !converged {
		outcome = "not_converged"
	}
	m.fits.WithLabelValues(outcome).Inc()
	m.fitIterations.Observe(float64(iterations))
	m.fitDuration.Observe(float64(elapsed) / float64(time.Millisecond))
}

// RecordFitError records a fit that returned an error.
func (m *Manager) RecordFitError() {
	if m.enabled {
		m.fits.WithLabelValues("error").Inc()
	}
}

// RecordDegenerate adds n degenerate clusters seen at stage.
func (m *Manager) RecordDegenerate(stage string, n int) {
	if m.enabled && n > 0 {
		m.degenerateClusters.WithLabelValues(stage).Add(float64(n))
	}
}

// RecordSelection records a finished scan and its score per k.
func (m *Manager) RecordSelection(scores map[int]float64, elapsed time.Duration) {
	if !m.enabled {
		return
	}
	m.selectionScans.Inc()
	m.selectionDuration.Observe(float64(elapsed) / float64(time.Millisecond))
	for k, s := range scores {
		m.validityScore.WithLabelValues(strconv.Itoa(k)).Set(s)
	}
}

// Package-level helpers over the global manager.

// RecordFit records one finished fit.
func RecordFit(converged bool, iterations int, elapsed time.Duration) {
	globalManager.RecordFit(converged, iterations, elapsed)
}

// RecordFitError records a fit that returned an error.
func RecordFitError() { globalManager.RecordFitError() }

// RecordDegenerate adds n degenerate clusters seen at stage.
func RecordDegenerate(stage string, n int) { globalManager.RecordDegenerate(stage, n) }

// RecordSelection records a finished scan and its score per k.
func RecordSelection(scores map[int]float64, elapsed time.Duration) {
	globalManager.RecordSelection(scores, elapsed)
}

// UpdateChosenK sets the cluster count of the latest final fit.
func UpdateChosenK(k int) {
	if globalManager.enabled {
		globalManager.chosenK.Set(float64(k))
	}
}

// RecordAnalysis counts a finished analysis by status.
func RecordAnalysis(status string) {
	if globalManager.enabled {
		globalManager.analyses.WithLabelValues(status).Inc()
	}
}

// RecordAnalysisDuplicate counts a duplicate submission.
func RecordAnalysisDuplicate() {
	if globalManager.enabled {
		globalManager.analysesDuplicate.Inc()
	}
}

// UpdateStoreRecords sets the number of stored analysis records.
func UpdateStoreRecords(count int) {
	if globalManager.enabled {
		globalManager.storeRecords.Set(float64(count))
	}
}

// UpdateQueueSize sets the current queue backlog.
func UpdateQueueSize(size int) {
	if globalManager.enabled {
		globalManager.queueSize.Set(float64(size))
	}
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	if globalManager.enabled {
		globalManager.queueCapacity.Set(float64(capacity))
	}
}

// RecordQueueEnqueue counts an accepted analysis.
func RecordQueueEnqueue() {
	if globalManager.enabled {
		globalManager.queueEnqueue.Inc()
	}
}

// RecordQueueDequeue counts an analysis taken by a worker.
func RecordQueueDequeue() {
	if globalManager.enabled {
		globalManager.queueDequeue.Inc()
	}
}

// RecordQueueEnqueueError counts a refused analysis.
func RecordQueueEnqueueError() {
	if globalManager.enabled {
		globalManager.queueEnqueueErrors.Inc()
	}
}

// UpdateWorkerCount sets the number of configured workers.
func UpdateWorkerCount(count int) {
	if globalManager.enabled {
		globalManager.workerCount.Set(float64(count))
	}
}

// AddWorkerActive moves the busy-worker gauge by delta.
func AddWorkerActive(delta int) {
	if globalManager.enabled {
		globalManager.workerActiveCount.Add(float64(delta))
	}
}

// RecordWorkerProcessingLatency records analysis time in milliseconds.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if globalManager.enabled {
		globalManager.workerProcessingLatency.Observe(latencyMs)
	}
}

// RecordWorkerError counts a failed analysis.
func RecordWorkerError() {
	if globalManager.enabled {
		globalManager.workerErrors.Inc()
	}
}

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if globalManager.enabled {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if globalManager.enabled {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// RecordErrorByComponent counts an error of errorType in component.
func RecordErrorByComponent(component, errorType string) {
	if globalManager.enabled {
		globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// UpdateSystemMetrics samples memory, goroutine and GC statistics.
func UpdateSystemMetrics() {
	if !globalManager.enabled {
		return
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	globalManager.memoryUsage.Set(float64(ms.Alloc))
	globalManager.goroutineCount.Set(float64(runtime.NumGoroutine()))
	if ms.NumGC > 0 {
		globalManager.gcPauseTime.Set(float64(ms.PauseTotalNs) / float64(ms.NumGC) / float64(time.Millisecond))
	}
}

// GetRegistry returns the registry the global manager reports to.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
