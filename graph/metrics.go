package graph

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects engine metrics for Prometheus scraping.
//
// Metrics exposed (all namespaced with "loopgraph_"):
//
//  1. step_latency_ms (histogram): Node execution duration in milliseconds.
//     Labels: graph, node_id, status (success/error/suspend).
//  2. node_failures_total (counter): Node executions that failed.
//     Labels: graph, node_id.
//  3. suspensions_total (counter): Sessions suspended at an interrupt node.
//     Labels: graph, node_id.
//  4. resumes_total (counter): Checkpoints resumed successfully.
//     Labels: graph.
//  5. duplicate_resumes_total (counter): Resumes rejected because the
//     checkpoint was already consumed. Labels: graph.
//  6. history_records_total (counter): Loop iterations folded into History.
//     Labels: graph, result (appended/duplicate).
//  7. iterations_total (counter): Loop iterations started after the first.
//     Labels: graph.
//  8. active_sessions (gauge): Sessions currently executing.
//
// Labels deliberately exclude session IDs to keep cardinality bounded.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine, err := graph.New(g, bindings, policy, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	stepLatency      *prometheus.HistogramVec
	nodeFailures     *prometheus.CounterVec
	suspensions      *prometheus.CounterVec
	resumes          *prometheus.CounterVec
	duplicateResumes *prometheus.CounterVec
	historyRecords   *prometheus.CounterVec
	iterations       *prometheus.CounterVec
	activeSessions   prometheus.Gauge

	enabled atomic.Bool
}

// NewPrometheusMetrics creates and registers all engine metrics with the
// provided registry. A nil registry means prometheus.DefaultRegisterer.
//
// Registering twice on the same registry panics, so create one
// PrometheusMetrics per registry and share it between engines.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	pm := &PrometheusMetrics{}
	pm.enabled.Store(true)

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "loopgraph",
		Name:      "step_latency_ms",
		Help:      "Node execution duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
	}, []string{"graph", "node_id", "status"})

	pm.nodeFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loopgraph",
		Name:      "node_failures_total",
		Help:      "Node executions that failed, timed out or panicked",
	}, []string{"graph", "node_id"})

	pm.suspensions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loopgraph",
		Name:      "suspensions_total",
		Help:      "Sessions suspended at an interrupt node",
	}, []string{"graph", "node_id"})

	pm.resumes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loopgraph",
		Name:      "resumes_total",
		Help:      "Checkpoints resumed successfully",
	}, []string{"graph"})

	pm.duplicateResumes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loopgraph",
		Name:      "duplicate_resumes_total",
		Help:      "Resumes rejected because the checkpoint was already consumed",
	}, []string{"graph"})

	pm.historyRecords = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loopgraph",
		Name:      "history_records_total",
		Help:      "Loop iteration records reduced into History",
	}, []string{"graph", "result"})

	pm.iterations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loopgraph",
		Name:      "iterations_total",
		Help:      "Loop iterations started after the first",
	}, []string{"graph"})

	pm.activeSessions = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "loopgraph",
		Name:      "active_sessions",
		Help:      "Sessions currently executing supersteps",
	})

	return pm
}

// RecordStepLatency records the execution duration of a node.
func (pm *PrometheusMetrics) RecordStepLatency(graph, nodeID string, latency time.Duration, status string) {
	if pm == nil || !pm.enabled.Load() {
		return
	}
	pm.stepLatency.WithLabelValues(graph, nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementNodeFailures counts a failed node execution.
func (pm *PrometheusMetrics) IncrementNodeFailures(graph, nodeID string) {
	if pm == nil || !pm.enabled.Load() {
		return
	}
	pm.nodeFailures.WithLabelValues(graph, nodeID).Inc()
}

// IncrementSuspensions counts a suspension at an interrupt node.
func (pm *PrometheusMetrics) IncrementSuspensions(graph, nodeID string) {
	if pm == nil || !pm.enabled.Load() {
		return
	}
	pm.suspensions.WithLabelValues(graph, nodeID).Inc()
}

// IncrementResumes counts a successful checkpoint claim.
func (pm *PrometheusMetrics) IncrementResumes(graph string) {
	if pm == nil || !pm.enabled.Load() {
		return
	}
	pm.resumes.WithLabelValues(graph).Inc()
}

// IncrementDuplicateResumes counts a rejected second resume.
func (pm *PrometheusMetrics) IncrementDuplicateResumes(graph string) {
	if pm == nil || !pm.enabled.Load() {
		return
	}
	pm.duplicateResumes.WithLabelValues(graph).Inc()
}

// RecordHistory counts a reduction; appended is false for duplicates.
func (pm *PrometheusMetrics) RecordHistory(graph string, appended bool) {
	if pm == nil || !pm.enabled.Load() {
		return
	}
	result := "appended"
	if !appended {
		result = "duplicate"
	}
	pm.historyRecords.WithLabelValues(graph, result).Inc()
}

// IncrementIterations counts the start of a new loop iteration.
func (pm *PrometheusMetrics) IncrementIterations(graph string) {
	if pm == nil || !pm.enabled.Load() {
		return
	}
	pm.iterations.WithLabelValues(graph).Inc()
}

// SessionStarted and SessionStopped track the active_sessions gauge
// around each Start or Resume call.
func (pm *PrometheusMetrics) SessionStarted() {
	if pm == nil || !pm.enabled.Load() {
		return
	}
	pm.activeSessions.Inc()
}

func (pm *PrometheusMetrics) SessionStopped() {
	if pm == nil || !pm.enabled.Load() {
		return
	}
	pm.activeSessions.Dec()
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.enabled.Store(false)
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.enabled.Store(true)
}

// Reset drops every recorded series and zeroes the gauge.
func (pm *PrometheusMetrics) Reset() {
	pm.stepLatency.Reset()
	pm.nodeFailures.Reset()
	pm.suspensions.Reset()
	pm.resumes.Reset()
	pm.duplicateResumes.Reset()
	pm.historyRecords.Reset()
	pm.iterations.Reset()
	pm.activeSessions.Set(0)
}
