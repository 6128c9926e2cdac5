package metrics

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/orneryd/wikigraph/pkg/storage"
)

// StatsSource is the part of the store the collector reads on scrape.
type StatsSource interface {
	Stats() storage.Stats
	EditTimes(from time.Time) []time.Time
}

// Collector exports live graph gauges computed from the store at scrape time.
type Collector struct {
	src   StatsSource
	clock clockwork.Clock

	nodes       *prometheus.Desc
	edges       *prometheus.Desc
	editsPerMin *prometheus.Desc
	timestamps  *prometheus.Desc
	articles    *prometheus.Desc
	buffered    *prometheus.Desc
}

// NewCollector creates a collector over src. A nil clock uses the real clock.
func NewCollector(src StatsSource, clock clockwork.Clock) *Collector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Collector{
		src:   src,
		clock: clock,
		nodes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "graph", "nodes"),
			"Live nodes by kind", []string{"kind"}, nil),
		edges: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "graph", "edges"),
			"Live edges by view", []string{"view"}, nil),
		editsPerMin: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "edits_per_minute"),
			"Edits received in the trailing minute", nil, nil),
		timestamps: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "recency", "edit_timestamps"),
			"Tracked global edit timestamps", nil, nil),
		articles: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "recency", "tracked_articles"),
			"Articles with at least one tracked edit timestamp", nil, nil),
		buffered: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "recency", "buffered_events"),
			"Raw events held in the ring buffer", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.nodes
	ch <- c.edges
	ch <- c.editsPerMin
	ch <- c.timestamps
	ch <- c.articles
	ch <- c.buffered
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	for _, kind := range []storage.Kind{storage.KindEditor, storage.KindArticle, storage.KindWiki} {
		ch <- prometheus.MustNewConstMetric(c.nodes, prometheus.GaugeValue, float64(s.NodesByKind[kind]), string(kind))
	}
	for _, view := range storage.Views {
		ch <- prometheus.MustNewConstMetric(c.edges, prometheus.GaugeValue, float64(s.EdgesByView[view]), string(view))
	}
	recent := c.src.EditTimes(c.clock.Now().Add(-time.Minute))
	ch <- prometheus.MustNewConstMetric(c.editsPerMin, prometheus.GaugeValue, float64(len(recent)))
	ch <- prometheus.MustNewConstMetric(c.timestamps, prometheus.GaugeValue, float64(s.EditTimestamps))
	ch <- prometheus.MustNewConstMetric(c.articles, prometheus.GaugeValue, float64(s.TrackedArticles))
	ch <- prometheus.MustNewConstMetric(c.buffered, prometheus.GaugeValue, float64(s.BufferedEvents))
}
