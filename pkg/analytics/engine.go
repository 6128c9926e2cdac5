// Package analytics periodically derives communities, influence ranking, hubs
// and anomalies from the live graph.
//
// Each run:
//  1. Checks the size guard: node count outside [MinNodes, MaxNodes] skips
//     the run entirely
//  2. Copies the graph with store.Read(), holding the store's read lock only
//     for the copy
//  3. Runs the four algorithms from pkg/algo against the copy
//  4. Atomically swaps the cached *MLData
//
// A failed or panicking run is logged and leaves the previous result in
// place. Readers call MLData() without locking.
//
// Example Usage:
//
//	engine, err := analytics.NewEngine(store, analytics.DefaultOptions())
//	if err != nil {
//		log.Fatal(err)
//	}
//	go engine.Run(ctx)
//
//	if data := engine.MLData(); data != nil {
//		fmt.Printf("%d communities\n", data.Evaluation.Community.NumCommunities)
//	}
package analytics

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/orneryd/wikigraph/pkg/algo"
	"github.com/orneryd/wikigraph/pkg/logging"
	"github.com/orneryd/wikigraph/pkg/metrics"
	"github.com/orneryd/wikigraph/pkg/storage"
)

// Errors returned by the engine.
var (
	ErrInvalidOptions = errors.New("invalid analytics options")
	ErrComputePanic   = errors.New("analytics computation panicked")
)

// Source is the part of the graph store the engine reads.
type Source interface {
	NodeCount() int
	Read() storage.GraphView
}

// MLData is one complete analytics result.
type MLData struct {
	RunID      string        `json:"runId"`
	ComputedAt time.Time     `json:"computedAt"`
	Duration   time.Duration `json:"duration"`
	NodeCount  int           `json:"nodeCount"`
	EdgeCount  int           `json:"edgeCount"`

	Communities map[storage.NodeID]int          `json:"communities"`
	PageRank    map[storage.NodeID]float64      `json:"pagerank"`
	Hubs        []algo.Hub                      `json:"hubs"`
	Centrality  map[storage.NodeID]float64      `json:"centrality"`
	Anomalies   map[storage.NodeID]algo.Anomaly `json:"anomalies"`
	Evaluation  Evaluation                      `json:"evaluation"`
}

// Options configures an Engine.
type Options struct {
	// Interval is the period between runs.
	Interval time.Duration
	// MinNodes and MaxNodes bound the node count for which a run is
	// attempted.
	MinNodes int
	MaxNodes int
	// CommunityBuckets is the number of ids shared by small communities.
	CommunityBuckets int
	// Anomaly holds the anomaly thresholds and trailing window.
	Anomaly algo.AnomalyOptions

	Clock clockwork.Clock
	// NewRand returns the generator for one run's label propagation. The
	// default seeds from the clock, so production runs shuffle differently
	// each time.
	NewRand func() *rand.Rand
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns a 15 second interval and a [3, 5000] size guard.
func DefaultOptions() Options {
	return Options{
		Interval:         15 * time.Second,
		MinNodes:         3,
		MaxNodes:         5000,
		CommunityBuckets: algo.DefaultCommunityBuckets,
		Anomaly:          algo.DefaultAnomalyOptions(),
	}
}

// Validate checks that the options are usable.
func (o Options) Validate() error {
	if o.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidOptions, o.Interval)
	}
	if o.MinNodes < 0 || o.MaxNodes < o.MinNodes {
		return fmt.Errorf("%w: size guard [%d, %d]", ErrInvalidOptions, o.MinNodes, o.MaxNodes)
	}
	if o.Anomaly.Window <= 0 {
		return fmt.Errorf("%w: anomaly window must be positive, got %s", ErrInvalidOptions, o.Anomaly.Window)
	}
	return nil
}

// Engine computes and caches analytics.
type Engine struct {
	src     Source
	opts    Options
	clock   clockwork.Clock
	newRand func() *rand.Rand
	logger  zerolog.Logger
	metrics *metrics.Metrics

	cache atomic.Pointer[MLData]
}

// NewEngine creates an engine over src.
func NewEngine(src Source, opts Options) (*Engine, error) {
	if src == nil {
		return nil, errors.New("analytics: nil source")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	newRand := opts.NewRand
	if newRand == nil {
		newRand = func() *rand.Rand { return rand.New(rand.NewSource(clock.Now().UnixNano())) }
	}
	return &Engine{
		src:     src,
		opts:    opts,
		clock:   clock,
		newRand: newRand,
		logger:  logging.Component(opts.Logger, "analytics"),
		metrics: opts.Metrics,
	}, nil
}

// MLData returns the latest successful result, or nil before the first one.
// The returned value must not be modified.
func (e *Engine) MLData() *MLData {
	return e.cache.Load()
}

// RunOnce performs one guarded run. It reports whether a new result was
// cached. A skipped run returns (false, nil); a failed run returns the error
// and keeps the previous result.
func (e *Engine) RunOnce(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	n := e.src.NodeCount()
	if n < e.opts.MinNodes || n > e.opts.MaxNodes {
		e.metrics.ObserveAnalytics(metrics.StatusSkipped, 0)
		e.logger.Debug().
			Int("nodes", n).
			Int("min_nodes", e.opts.MinNodes).
			Int("max_nodes", e.opts.MaxNodes).
			Msg("Analytics skipped by size guard")
		return false, nil
	}

	start := e.clock.Now()
	data, err := e.compute()
	elapsed := e.clock.Since(start)
	if err != nil {
		e.metrics.ObserveAnalytics(metrics.StatusFailed, elapsed)
		return false, err
	}
	data.Duration = elapsed
	e.cache.Store(data)
	e.metrics.ObserveAnalytics(metrics.StatusSuccess, elapsed)
	return true, nil
}

func (e *Engine) compute() (data *MLData, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("%w: %v", ErrComputePanic, r)
		}
	}()

	view := e.src.Read()
	return Compute(view, ComputeOptions{
		Rand:             e.newRand(),
		CommunityBuckets: e.opts.CommunityBuckets,
		Anomaly:          e.opts.Anomaly,
	}), nil
}

// ComputeOptions configures Compute.
type ComputeOptions struct {
	Rand             *rand.Rand
	CommunityBuckets int
	Anomaly          algo.AnomalyOptions
}

// Compute runs all four algorithms and the evaluation against view. The
// anomaly window is anchored at view.TakenAt.
//
// Example:
//
//	data := analytics.Compute(store.Read(), analytics.ComputeOptions{
//		Rand:    rand.New(rand.NewSource(1)),
//		Anomaly: algo.DefaultAnomalyOptions(),
//	})
func Compute(view storage.GraphView, opts ComputeOptions) *MLData {
	g := algo.CommunityGraph(view)
	labels := algo.LabelPropagation(g, opts.Rand, algo.MaxCommunityIterations)
	comms := algo.CompactCommunities(labels, opts.CommunityBuckets)

	ranks := algo.PageRank(view, algo.DefaultIterations, algo.DefaultDamping)
	hubs := algo.Hubs(view, algo.DefaultHubFraction)
	anomalies := algo.Anomalies(view, view.TakenAt, opts.Anomaly)

	return &MLData{
		RunID:       uuid.NewString(),
		ComputedAt:  view.TakenAt,
		NodeCount:   len(view.Nodes),
		EdgeCount:   len(view.Edges),
		Communities: comms,
		PageRank:    ranks,
		Hubs:        hubs.Hubs,
		Centrality:  hubs.Centrality,
		Anomalies:   anomalies,
		Evaluation: Evaluation{
			Community: EvaluateCommunities(g, comms),
			PageRank:  EvaluatePageRank(ranks),
			Hubs:      EvaluateHubs(hubs.Hubs),
			Anomalies: EvaluateAnomalies(anomalies),
		},
	}
}

// Run computes every Interval until ctx is done. Failures are logged and
// never stop the loop. Run always returns nil once ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := e.clock.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	e.logger.Info().
		Dur("interval", e.opts.Interval).
		Int("min_nodes", e.opts.MinNodes).
		Int("max_nodes", e.opts.MaxNodes).
		Msg("Analytics engine started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Analytics engine stopped")
			return nil
		case <-ticker.Chan():
			ok, err := e.RunOnce(ctx)
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return nil
			case err != nil:
				e.logger.Error().Err(err).Msg("Analytics run failed, keeping previous result")
			case ok:
				data := e.MLData()
				e.logger.Debug().
					Str("run_id", data.RunID).
					Int("nodes", data.NodeCount).
					Int("communities", data.Evaluation.Community.NumCommunities).
					Int("anomalies", len(data.Anomalies)).
					Dur("took", data.Duration).
					Msg("Analytics complete")
			}
		}
	}
}
