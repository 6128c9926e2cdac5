// Package wikigraph wires the graph store, the retention sweeper and the
// analytics engine into one explicitly owned instance.
//
// A DB replaces process-wide singletons: every collaborator is constructed
// in Open from a config.Config and owned by the returned value. Nothing runs
// in the background until Start is called, so tests and batch tools can drive
// sweeps and analytics by hand with Sweep and Analyze.
//
// Architecture:
//   - Store: storage.MemoryStore, the single-writer in-memory graph
//   - Retention: retention.Sweeper, ticking every SweepInterval
//   - Analytics: analytics.Engine, ticking every Analytics.Interval
//   - Metrics: Prometheus counters plus a scrape-time graph collector
//
// Example Usage:
//
//	db, err := wikigraph.Open(wikigraph.Options{Config: cfg, Logger: logger})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	diff, err := db.ProcessEvent(storage.Event{Wiki: "en", User: "Alice", Title: "Go"})
//
// Scaling:
//
// There is no backpressure. Between two sweeps the node, edge and
// co-occurrence maps grow with the event rate, and an editor linked to k
// articles costs O(k) per further edit. Sizing is bounded only by the
// retention window times the feed rate; the design targets a few thousand
// live entities.
package wikigraph

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/orneryd/wikigraph/pkg/algo"
	"github.com/orneryd/wikigraph/pkg/analytics"
	"github.com/orneryd/wikigraph/pkg/config"
	"github.com/orneryd/wikigraph/pkg/logging"
	"github.com/orneryd/wikigraph/pkg/metrics"
	"github.com/orneryd/wikigraph/pkg/retention"
	"github.com/orneryd/wikigraph/pkg/storage"
)

// Errors returned by DB.
var (
	ErrClosed         = errors.New("wikigraph: closed")
	ErrAlreadyStarted = errors.New("wikigraph: already started")
)

// Options configures Open.
type Options struct {
	// Config defaults to config.DefaultConfig().
	Config *config.Config
	// Clock defaults to the real clock.
	Clock  clockwork.Clock
	Logger zerolog.Logger
	// Registerer receives the metric set and the graph collector. Nil skips
	// registration; counters are still updated. Registering two DBs with the
	// same Registerer panics.
	Registerer prometheus.Registerer
	// NewRand seeds label propagation for each analytics run.
	NewRand func() *rand.Rand
}

// DB is a running wiki edit graph.
type DB struct {
	cfg     *config.Config
	clock   clockwork.Clock
	logger  zerolog.Logger
	metrics *metrics.Metrics

	store     *storage.MemoryStore
	sweeper   *retention.Sweeper
	engine    *analytics.Engine
	collector *metrics.Collector

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
	closed  bool
}

// Open builds a DB from opts. The config is validated first.
func Open(opts Options) (*DB, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	db := &DB{
		cfg:     cfg,
		clock:   clock,
		logger:  logging.Component(opts.Logger, "wikigraph"),
		metrics: metrics.NewMetrics(opts.Registerer),
	}

	db.store = storage.NewMemoryStore(&storage.Options{
		Clock:           clock,
		EventBufferSize: cfg.Store.EventBuffer,
	})

	sweeper, err := retention.NewSweeper(db.store, retention.Options{
		Policy: retention.Policy{
			Window:   cfg.Retention.Window,
			Interval: cfg.Retention.SweepInterval,
		},
		Clock:   clock,
		Logger:  opts.Logger,
		Metrics: db.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("creating sweeper: %w", err)
	}
	db.sweeper = sweeper

	anomaly := algo.DefaultAnomalyOptions()
	anomaly.Window = cfg.Analytics.AnomalyWindow
	engine, err := analytics.NewEngine(db.store, analytics.Options{
		Interval:         cfg.Analytics.Interval,
		MinNodes:         cfg.Analytics.MinNodes,
		MaxNodes:         cfg.Analytics.MaxNodes,
		CommunityBuckets: cfg.Analytics.CommunityBuckets,
		Anomaly:          anomaly,
		Clock:            clock,
		NewRand:          opts.NewRand,
		Logger:           opts.Logger,
		Metrics:          db.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("creating analytics engine: %w", err)
	}
	db.engine = engine

	db.collector = metrics.NewCollector(db.store, clock)
	if opts.Registerer != nil {
		if err := opts.Registerer.Register(db.collector); err != nil {
			return nil, fmt.Errorf("registering graph collector: %w", err)
		}
	}

	db.logger.Debug().Str("config", cfg.String()).Msg("Opened")
	return db, nil
}

// Config returns the configuration the DB was opened with.
func (db *DB) Config() *config.Config { return db.cfg }

// Store exposes the underlying graph store for read access.
func (db *DB) Store() *storage.MemoryStore { return db.store }

// ProcessEvent applies one edit event.
func (db *DB) ProcessEvent(ev storage.Event) (storage.Diff, error) {
	if db.isClosed() {
		return storage.Diff{}, ErrClosed
	}
	diff := db.store.ProcessEvent(ev)
	db.metrics.ObserveEvent()
	return diff, nil
}

// GetSnapshot returns every edge of view and the nodes they reference.
func (db *DB) GetSnapshot(view storage.View) storage.Snapshot {
	return db.store.GetSnapshot(view)
}

// MLData returns the latest analytics result, or nil before the first one.
func (db *DB) MLData() *analytics.MLData {
	return db.engine.MLData()
}

// Summary computes the derived metrics projection at the current time.
func (db *DB) Summary(opts metrics.SummaryOptions) metrics.Summary {
	return metrics.Summarize(db.store, db.clock.Now(), opts)
}

// SubscribeDiffs registers h for every event diff.
func (db *DB) SubscribeDiffs(h storage.DiffHandler) (cancel func()) {
	return db.store.Subscribe(h)
}

// SubscribeEvictions registers h for every non-empty sweep result.
func (db *DB) SubscribeEvictions(h retention.EvictionHandler) (cancel func()) {
	return db.sweeper.Subscribe(h)
}

// Sweep runs one retention sweep now.
func (db *DB) Sweep(ctx context.Context) (storage.Eviction, error) {
	if db.isClosed() {
		return storage.Eviction{}, ErrClosed
	}
	return db.sweeper.RunOnce(ctx)
}

// Analyze runs one analytics pass now, subject to the size guard. It reports
// whether a new result was cached.
func (db *DB) Analyze(ctx context.Context) (bool, error) {
	if db.isClosed() {
		return false, ErrClosed
	}
	return db.engine.RunOnce(ctx)
}

// Start launches the sweeper and analytics loops. They stop when ctx is
// cancelled or Close is called.
func (db *DB) Start(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}
	if db.started {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return db.sweeper.Run(groupCtx) })
	group.Go(func() error { return db.engine.Run(groupCtx) })

	db.cancel = cancel
	db.group = group
	db.started = true

	db.logger.Info().
		Dur("window", db.cfg.Retention.Window).
		Dur("sweep_interval", db.cfg.Retention.SweepInterval).
		Dur("analytics_interval", db.cfg.Analytics.Interval).
		Msg("Background jobs started")
	return nil
}

// Close stops the background loops and waits for them to exit. The graph is
// discarded with the DB. Close is idempotent.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	cancel, group := db.cancel, db.group
	db.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		db.logger.Info().Msg("Background jobs stopped")
		return err
	case <-time.After(10 * time.Second):
		return errors.New("wikigraph: timed out waiting for background jobs")
	}
}

func (db *DB) isClosed() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.closed
}
