// Package metrics exposes run metrics for the dispatch engine.
//
// Each run owns a private Prometheus registry. Nothing is served over the
// network; WriteTextfile exports the registry in the text exposition format
// (node_exporter textfile collector layout) after the run drains.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors of a single run.
type Metrics struct {
	registry *prometheus.Registry

	// JobsSubmitted counts jobs pushed onto the queue by the dispatcher.
	JobsSubmitted prometheus.Counter

	// JobsCompleted counts jobs a worker finished executing.
	JobsCompleted prometheus.Counter

	// ActionsExecuted counts executed actions by kind (repeat bodies count per iteration).
	ActionsExecuted *prometheus.CounterVec

	// Barriers counts dispatcher barriers, including the implicit final one.
	Barriers prometheus.Counter

	// BarrierWait observes how long the dispatcher blocked on each barrier.
	BarrierWait prometheus.Histogram

	// JobDuration observes wall time of job execution on a worker.
	JobDuration prometheus.Histogram

	// QueueDepth tracks jobs waiting in the queue.
	QueueDepth prometheus.Gauge

	// ActiveWorkers tracks workers currently executing a job.
	ActiveWorkers prometheus.Gauge
}

// New creates a Metrics instance backed by its own registry.
// runID is attached to every series as a constant label.
func New(runID string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"run_id": runID}

	return &Metrics{
		registry: reg,
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name:        "tally_jobs_submitted_total",
			Help:        "Total number of jobs submitted by the dispatcher.",
			ConstLabels: labels,
		}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name:        "tally_jobs_completed_total",
			Help:        "Total number of jobs executed by workers.",
			ConstLabels: labels,
		}),
		ActionsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "tally_actions_executed_total",
			Help:        "Total number of actions executed, by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		Barriers: factory.NewCounter(prometheus.CounterOpts{
			Name:        "tally_barriers_total",
			Help:        "Total number of dispatcher barriers.",
			ConstLabels: labels,
		}),
		BarrierWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "tally_barrier_wait_seconds",
			Help:        "Time the dispatcher spent blocked on a barrier.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "tally_job_duration_seconds",
			Help:        "Wall time spent executing a job on a worker.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 12),
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "tally_queue_depth",
			Help:        "Jobs waiting in the queue.",
			ConstLabels: labels,
		}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "tally_active_workers",
			Help:        "Workers currently executing a job.",
			ConstLabels: labels,
		}),
	}
}

// Registry returns the underlying registry (for tests and gathering).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// JobSubmitted records a push onto the queue.
func (m *Metrics) JobSubmitted() {
	if m == nil {
		return
	}
	m.JobsSubmitted.Inc()
	m.QueueDepth.Inc()
}

// JobStarted records a worker picking a job off the queue.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.QueueDepth.Dec()
	m.ActiveWorkers.Inc()
}

// JobFinished records a completed job and its execution time.
func (m *Metrics) JobFinished(d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveWorkers.Dec()
	m.JobsCompleted.Inc()
	m.JobDuration.Observe(d.Seconds())
}

// AddActions adds n executed actions of the given kind.
func (m *Metrics) AddActions(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ActionsExecuted.WithLabelValues(kind).Add(float64(n))
}

// BarrierDone records one barrier and how long the dispatcher waited.
func (m *Metrics) BarrierDone(wait time.Duration) {
	if m == nil {
		return
	}
	m.Barriers.Inc()
	m.BarrierWait.Observe(wait.Seconds())
}

// WriteTextfile writes every collected series to path in the Prometheus
// text format. Called once after the run.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
