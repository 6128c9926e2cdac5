package wikigraph

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/wikigraph/pkg/config"
	"github.com/orneryd/wikigraph/pkg/metrics"
	"github.com/orneryd/wikigraph/pkg/storage"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T, reg prometheus.Registerer) (*DB, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	db, err := Open(Options{
		Clock:      clock,
		Registerer: reg,
		NewRand:    func() *rand.Rand { return rand.New(rand.NewSource(1)) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, clock
}

func edit(user, title string) storage.Event {
	return storage.Event{Wiki: "en", User: user, Title: title}
}

func TestOpen(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		db, err := Open(Options{})
		require.NoError(t, err)
		defer db.Close()

		assert.Equal(t, config.DefaultConfig(), db.Config())
		assert.NotNil(t, db.Store())
		assert.Nil(t, db.MLData())
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Retention.Window = 0
		_, err := Open(Options{Config: cfg})
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})

	t.Run("registers metrics", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		db, _ := openTestDB(t, reg)
		_, err := db.ProcessEvent(edit("Alice", "A"))
		require.NoError(t, err)

		families, err := reg.Gather()
		require.NoError(t, err)
		names := make(map[string]bool)
		for _, f := range families {
			names[f.GetName()] = true
		}
		assert.True(t, names["wikigraph_events_processed_total"])
		assert.True(t, names["wikigraph_graph_nodes"])
		assert.True(t, names["wikigraph_edits_per_minute"])
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		openTestDB(t, reg)
		assert.Panics(t, func() {
			Open(Options{Registerer: reg})
		})
	})
}

func TestProcessEvent(t *testing.T) {
	db, _ := openTestDB(t, nil)

	for _, title := range []string{"A", "B", "C"} {
		_, err := db.ProcessEvent(edit("Alice", title))
		require.NoError(t, err)
	}
	diff, err := db.ProcessEvent(edit("Alice", "A"))
	require.NoError(t, err)
	assert.Empty(t, diff.NodesAdded)
	assert.Len(t, diff.EdgesUpdated, 3)

	snap := db.GetSnapshot(storage.ViewCoedit)
	assert.Len(t, snap.Edges, 3)
	assert.Len(t, snap.Nodes, 3)

	assert.Equal(t, 4.0, testutil.ToFloat64(db.metrics.EventsProcessed))
}

func TestSweepAndAnalyze(t *testing.T) {
	db, clock := openTestDB(t, nil)
	ctx := context.Background()

	var evictions []storage.Eviction
	cancel := db.SubscribeEvictions(func(ev storage.Eviction) { evictions = append(evictions, ev) })
	defer cancel()

	var diffs int
	cancelDiffs := db.SubscribeDiffs(func(storage.Diff) { diffs++ })
	defer cancelDiffs()

	for _, user := range []string{"Alice", "Bob"} {
		for _, title := range []string{"A", "B"} {
			_, err := db.ProcessEvent(edit(user, title))
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 4, diffs)

	ok, err := db.Analyze(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	data := db.MLData()
	require.NotNil(t, data)
	assert.Equal(t, 5, data.NodeCount)

	sum := db.Summary(metrics.DefaultSummaryOptions())
	assert.Equal(t, 5, sum.Nodes)
	assert.Equal(t, 4, sum.EditsPerMinute)

	ev, err := db.Sweep(ctx)
	require.NoError(t, err)
	assert.True(t, ev.Empty())
	assert.Empty(t, evictions)

	clock.Advance(11 * time.Minute)
	ev, err = db.Sweep(ctx)
	require.NoError(t, err)
	assert.Len(t, ev.RemovedNodes, 5)
	require.Len(t, evictions, 1)
	assert.Equal(t, ev.RemovedNodes, evictions[0].RemovedNodes)
	assert.Zero(t, db.Store().NodeCount())

	// The cached result outlives the graph until the next successful run.
	ok, err = db.Analyze(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Same(t, data, db.MLData())
}

func TestStartAndClose(t *testing.T) {
	db, clock := openTestDB(t, nil)
	ctx := context.Background()

	for _, title := range []string{"A", "B", "C"} {
		_, err := db.ProcessEvent(edit("Alice", title))
		require.NoError(t, err)
	}

	require.NoError(t, db.Start(ctx))
	assert.ErrorIs(t, db.Start(ctx), ErrAlreadyStarted)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 2), "sweeper and engine tickers")

	clock.Advance(15 * time.Second)
	require.Eventually(t, func() bool { return db.MLData() != nil }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err := db.ProcessEvent(edit("Bob", "A"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = db.Sweep(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = db.Analyze(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, db.Start(ctx), ErrClosed)
}

func TestStartStopsWithParentContext(t *testing.T) {
	db, clock := openTestDB(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, db.Start(ctx))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 2))

	cancel()
	assert.NoError(t, db.Close())
}
