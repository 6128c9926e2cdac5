// Package metrics exposes wikigraph's Prometheus instrumentation and the
// read-only derived-metrics projection over the graph store.
//
// Two kinds of instrumentation live here:
//   - Metrics: counters and histograms updated by the runtime as events are
//     processed, sweeps run and analytics complete
//   - Collector: gauges computed on scrape from store.Stats(), so they always
//     reflect the current graph without any bookkeeping on the hot path
//
// Summarize builds the aggregate view (rates, top-N, bursts, edit-war
// candidates) a dashboard or fan-out layer formats and ships.
//
// Example Usage:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.NewMetrics(reg)
//	reg.MustRegister(metrics.NewCollector(store, clock))
//
//	m.ObserveEvent()
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/orneryd/wikigraph/pkg/storage"
)

const namespace = "wikigraph"

// Analytics run outcomes used as the "status" label.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Metrics holds the counters updated by the running components. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	EventsProcessed   prometheus.Counter
	Sweeps            *prometheus.CounterVec
	EvictedNodes      prometheus.Counter
	EvictedEdges      prometheus.Counter
	SweepDuration     prometheus.Histogram
	AnalyticsRuns     *prometheus.CounterVec
	AnalyticsDuration prometheus.Histogram
}

// NewMetrics creates the metric set and registers it with reg. A nil reg
// leaves the metrics unregistered, which tests use to read values directly.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Edit events applied to the graph store",
		}),
		Sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Retention sweeps by status",
		}, []string{"status"}),
		EvictedNodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_nodes_total",
			Help:      "Nodes removed by retention sweeps",
		}),
		EvictedEdges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_edges_total",
			Help:      "Edges removed by retention sweeps",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Time spent in one retention sweep",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		AnalyticsRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_runs_total",
			Help:      "Analytics runs by status",
		}, []string{"status"}),
		AnalyticsDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analytics_duration_seconds",
			Help:      "Time spent computing one analytics result",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.EventsProcessed, m.Sweeps, m.EvictedNodes, m.EvictedEdges,
			m.SweepDuration, m.AnalyticsRuns, m.AnalyticsDuration,
		)
	}
	return m
}

// ObserveEvent counts one processed event.
func (m *Metrics) ObserveEvent() {
	if m == nil {
		return
	}
	m.EventsProcessed.Inc()
}

// ObserveSweep records one sweep outcome. ev is ignored when err is non-nil.
func (m *Metrics) ObserveSweep(ev storage.Eviction, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
	if err != nil {
		m.Sweeps.WithLabelValues(StatusFailed).Inc()
		return
	}
	m.Sweeps.WithLabelValues(StatusSuccess).Inc()
	m.EvictedNodes.Add(float64(len(ev.RemovedNodes)))
	m.EvictedEdges.Add(float64(len(ev.RemovedEdges)))
}

// ObserveAnalytics records one analytics run. Duration is only observed for
// runs that computed something.
func (m *Metrics) ObserveAnalytics(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.AnalyticsRuns.WithLabelValues(status).Inc()
	if status != StatusSkipped {
		m.AnalyticsDuration.Observe(d.Seconds())
	}
}
