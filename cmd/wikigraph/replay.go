package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/orneryd/wikigraph/pkg/analytics"
	"github.com/orneryd/wikigraph/pkg/config"
	"github.com/orneryd/wikigraph/pkg/event"
	"github.com/orneryd/wikigraph/pkg/metrics"
	"github.com/orneryd/wikigraph/pkg/storage"
	"github.com/orneryd/wikigraph/pkg/wikigraph"
)

type replayOptions struct {
	Config *config.Config
	Logger zerolog.Logger
	Seed   int64
	// View, when set, adds that view's final snapshot to the report.
	View storage.View
}

type replayReport struct {
	Events       int               `json:"events"`
	Rejected     int               `json:"rejected"`
	Sweeps       int               `json:"sweeps"`
	EvictedNodes int               `json:"evictedNodes"`
	EvictedEdges int               `json:"evictedEdges"`
	Start        time.Time         `json:"start"`
	End          time.Time         `json:"end"`
	Summary      metrics.Summary   `json:"summary"`
	MLData       *analytics.MLData `json:"mldata"`
	Snapshot     *storage.Snapshot `json:"snapshot,omitempty"`
}

// replay feeds a recorded stream through a DB on virtual time. The clock
// follows event timestamps, so sweeps and analytics fire at the feed-time
// instants they would have fired live. Events without a timestamp are
// applied at the current virtual time.
func replay(ctx context.Context, r io.Reader, opts replayOptions) (*replayReport, error) {
	dec := event.NewDecoder(r)
	report := &replayReport{}

	first, err := next(dec, report, opts.Logger)
	exhausted := errors.Is(err, io.EOF)
	if err != nil && !exhausted {
		return nil, err
	}
	clock := newReplayClock(first)
	report.Start = clock.Now()

	db, err := wikigraph.Open(wikigraph.Options{
		Config:  opts.Config,
		Clock:   clock,
		Logger:  opts.Logger,
		NewRand: func() *rand.Rand { return rand.New(rand.NewSource(opts.Seed)) },
	})
	if err != nil {
		return nil, fmt.Errorf("opening graph: %w", err)
	}
	defer db.Close()

	cfg := db.Config()
	nextSweep := clock.Now().Add(cfg.Retention.SweepInterval)
	nextAnalytics := clock.Now().Add(cfg.Analytics.Interval)

	// advanceTo moves virtual time to target, stopping at every scheduled
	// sweep and analytics instant on the way.
	advanceTo := func(target time.Time) error {
		for {
			due := nextSweep
			if nextAnalytics.Before(due) {
				due = nextAnalytics
			}
			if due.After(target) {
				break
			}
			clock.Advance(due.Sub(clock.Now()))

			if due.Equal(nextSweep) {
				ev, err := db.Sweep(ctx)
				if err != nil {
					return err
				}
				report.Sweeps++
				report.EvictedNodes += len(ev.RemovedNodes)
				report.EvictedEdges += len(ev.RemovedEdges)
				nextSweep = nextSweep.Add(cfg.Retention.SweepInterval)
			}
			if due.Equal(nextAnalytics) {
				if _, err := db.Analyze(ctx); err != nil {
					opts.Logger.Warn().Err(err).Msg("Analytics failed during replay")
				}
				nextAnalytics = nextAnalytics.Add(cfg.Analytics.Interval)
			}
		}
		if target.After(clock.Now()) {
			clock.Advance(target.Sub(clock.Now()))
		}
		return nil
	}

	apply := func(ev storage.Event) error {
		if err := advanceTo(ev.Timestamp); err != nil {
			return err
		}
		if _, err := db.ProcessEvent(ev); err != nil {
			return err
		}
		report.Events++
		return nil
	}

	if !exhausted {
		if err := apply(first); err != nil {
			return nil, err
		}
	}
	for !exhausted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ev, err := next(dec, report, opts.Logger)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := apply(ev); err != nil {
			return nil, err
		}
	}

	if _, err := db.Analyze(ctx); err != nil {
		opts.Logger.Warn().Err(err).Msg("Final analytics failed")
	}

	report.End = clock.Now()
	report.Summary = db.Summary(metrics.DefaultSummaryOptions())
	report.MLData = db.MLData()
	if opts.View != "" {
		snap := db.GetSnapshot(opts.View)
		report.Snapshot = &snap
	}
	return report, nil
}

// next returns the next decodable event, counting and skipping bad records.
func next(dec *event.Decoder, report *replayReport, logger zerolog.Logger) (storage.Event, error) {
	for {
		ev, err := dec.Next()
		if errors.Is(err, event.ErrMalformed) || errors.Is(err, event.ErrMissingField) {
			report.Rejected++
			logger.Warn().Err(err).Msg("Skipping record")
			continue
		}
		return ev, err
	}
}

// newReplayClock starts virtual time at the first event's timestamp, or at
// the Unix epoch when the event carries none, so output does not depend on
// when the replay ran.
func newReplayClock(first storage.Event) *clockwork.FakeClock {
	start := first.Timestamp
	if start.IsZero() {
		start = time.Unix(0, 0).UTC()
	}
	return clockwork.NewFakeClockAt(start)
}
