// Package retention evicts stale graph state on a fixed period.
//
// A Sweeper owns the sliding window: every Interval it computes
// cutoff = now - Window, asks the store to drop everything older, and fans the
// resulting Eviction out to subscribers (typically a real-time fan-out layer
// that tells clients to remove nodes and edges).
//
// Key Features:
//   - Policy validation before start
//   - Injected clock, so tests drive sweeps by advancing virtual time
//   - Panics inside a sweep or a subscriber are recovered at the job boundary
//     and logged; the loop keeps running
//   - Multiple subscribers, each with its own cancel function
//
// Example Usage:
//
//	sweeper, err := retention.NewSweeper(store, retention.Options{
//		Policy: retention.DefaultPolicy(),
//		Logger: logger,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	cancel := sweeper.Subscribe(func(ev storage.Eviction) {
//		broadcast("graph-remove", ev)
//	})
//	defer cancel()
//
//	go sweeper.Run(ctx)
package retention

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/orneryd/wikigraph/pkg/logging"
	"github.com/orneryd/wikigraph/pkg/metrics"
	"github.com/orneryd/wikigraph/pkg/storage"
)

// Errors returned by the sweeper.
var (
	ErrInvalidPolicy = errors.New("invalid retention policy")
	ErrSweepPanic    = errors.New("sweep panicked")
)

// Policy defines the sliding window.
type Policy struct {
	// Window is how long an untouched edge (or unreferenced node) lives.
	Window time.Duration `json:"window"`
	// Interval is the period between sweeps.
	Interval time.Duration `json:"interval"`
}

// DefaultPolicy returns a 10 minute window swept every 30 seconds.
func DefaultPolicy() Policy {
	return Policy{
		Window:   10 * time.Minute,
		Interval: 30 * time.Second,
	}
}

// Validate checks that the policy is usable.
func (p Policy) Validate() error {
	if p.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidPolicy, p.Window)
	}
	if p.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidPolicy, p.Interval)
	}
	return nil
}

// Cutoff returns the oldest LastSeen that survives a sweep at now.
func (p Policy) Cutoff(now time.Time) time.Time {
	return now.Add(-p.Window)
}

// Store is the part of the graph store the sweeper mutates.
type Store interface {
	Sweep(cutoff time.Time) storage.Eviction
}

// EvictionHandler receives the outcome of every sweep that removed something.
type EvictionHandler func(storage.Eviction)

// Options configures a Sweeper. Zero values fall back to defaults.
type Options struct {
	Policy  Policy
	Clock   clockwork.Clock
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Sweeper runs the retention procedure against a Store.
//
// Thread Safety:
//
//	RunOnce may be called concurrently with Run; the store serializes the
//	sweeps themselves. Subscribe and its cancel func are safe at any time.
type Sweeper struct {
	store   Store
	policy  Policy
	clock   clockwork.Clock
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	subs    map[int]EvictionHandler
	nextSub int
}

// NewSweeper creates a sweeper over store. A zero Policy means DefaultPolicy.
func NewSweeper(store Store, opts Options) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("retention: nil store")
	}
	policy := opts.Policy
	if policy == (Policy{}) {
		policy = DefaultPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sweeper{
		store:   store,
		policy:  policy,
		clock:   clock,
		logger:  logging.Component(opts.Logger, "retention"),
		metrics: opts.Metrics,
		subs:    make(map[int]EvictionHandler),
	}, nil
}

// Policy returns the active policy.
func (s *Sweeper) Policy() Policy { return s.policy }

// Subscribe registers h for every non-empty eviction. The returned function
// removes the subscription.
func (s *Sweeper) Subscribe(h EvictionHandler) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = h
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// RunOnce performs one sweep at the current clock time and notifies
// subscribers. A panic inside the store or a subscriber is returned as an
// error wrapping ErrSweepPanic.
//
// Example:
//
//	ev, err := sweeper.RunOnce(ctx)
//	if err == nil {
//		fmt.Printf("evicted %d nodes\n", len(ev.RemovedNodes))
//	}
func (s *Sweeper) RunOnce(ctx context.Context) (ev storage.Eviction, err error) {
	if err := ctx.Err(); err != nil {
		return storage.Eviction{}, err
	}

	start := s.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSweepPanic, r)
		}
		s.metrics.ObserveSweep(ev, s.clock.Since(start), err)
	}()

	ev = s.store.Sweep(s.policy.Cutoff(start))
	if !ev.Empty() {
		s.publish(ev)
	}
	return ev, nil
}

func (s *Sweeper) publish(ev storage.Eviction) {
	s.mu.RLock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]EvictionHandler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, s.subs[id])
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Run sweeps every Interval until ctx is done. Failed sweeps are logged and
// never stop the loop. Run always returns nil once ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.policy.Interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("window", s.policy.Window).
		Dur("interval", s.policy.Interval).
		Msg("Retention sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Retention sweeper stopped")
			return nil
		case <-ticker.Chan():
			ev, err := s.RunOnce(ctx)
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return nil
			case err != nil:
				s.logger.Error().Err(err).Msg("Sweep failed")
			case !ev.Empty():
				s.logger.Debug().
					Int("removed_nodes", len(ev.RemovedNodes)).
					Int("removed_edges", len(ev.RemovedEdges)).
					Time("cutoff", ev.Cutoff).
					Msg("Sweep complete")
			}
		}
	}
}
