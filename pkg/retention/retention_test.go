package retention

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/wikigraph/pkg/metrics"
	"github.com/orneryd/wikigraph/pkg/storage"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type panicStore struct{}

func (panicStore) Sweep(time.Time) storage.Eviction { panic("index corrupted") }

func newSweeper(t *testing.T) (*Sweeper, *storage.MemoryStore, *clockwork.FakeClock, *metrics.Metrics) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	store := storage.NewMemoryStore(&storage.Options{Clock: clock})
	m := metrics.NewMetrics(nil)
	s, err := NewSweeper(store, Options{Policy: DefaultPolicy(), Clock: clock, Metrics: m})
	require.NoError(t, err)
	return s, store, clock, m
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"default", DefaultPolicy(), false},
		{"zero window", Policy{Window: 0, Interval: time.Second}, true},
		{"negative interval", Policy{Window: time.Minute, Interval: -time.Second}, true},
		{"short", Policy{Window: time.Second, Interval: time.Millisecond}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPolicy)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPolicyCutoff(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, epoch.Add(-10*time.Minute), p.Cutoff(epoch))
}

func TestNewSweeper(t *testing.T) {
	_, err := NewSweeper(nil, Options{})
	assert.Error(t, err)

	_, err = NewSweeper(panicStore{}, Options{Policy: Policy{Window: time.Minute}})
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	s, err := NewSweeper(panicStore{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), s.Policy())
}

func TestRunOnce(t *testing.T) {
	s, store, clock, m := newSweeper(t)

	var got []storage.Eviction
	cancel := s.Subscribe(func(ev storage.Eviction) { got = append(got, ev) })
	defer cancel()

	store.ProcessEvent(storage.Event{Wiki: "en", User: "Alice", Title: "A"})

	ev, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ev.Empty())
	assert.Empty(t, got, "empty evictions are not published")

	clock.Advance(11 * time.Minute)
	ev, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{"article:A", "editor:Alice", "wiki:en"}, ev.RemovedNodes)
	assert.Equal(t, []storage.EdgeID{"editor:Alice|article:A"}, ev.RemovedEdges)
	assert.Equal(t, clock.Now().Add(-10*time.Minute), ev.Cutoff)

	require.Len(t, got, 1)
	assert.Equal(t, ev, got[0])
	assert.Zero(t, store.NodeCount())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Sweeps.WithLabelValues(metrics.StatusSuccess)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EvictedNodes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EvictedEdges))
}

func TestRunOnceCancelledContext(t *testing.T) {
	s, _, _, _ := newSweeper(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubscribeOrderAndCancel(t *testing.T) {
	s, store, clock, _ := newSweeper(t)

	var order []string
	cancelA := s.Subscribe(func(storage.Eviction) { order = append(order, "a") })
	s.Subscribe(func(storage.Eviction) { order = append(order, "b") })

	store.ProcessEvent(storage.Event{Wiki: "en", User: "Alice", Title: "A"})
	clock.Advance(11 * time.Minute)
	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	cancelA()
	cancelA()
	store.ProcessEvent(storage.Event{Wiki: "en", User: "Bob", Title: "B"})
	clock.Advance(11 * time.Minute)
	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "b"}, order)
}

func TestRunOnceRecoversPanics(t *testing.T) {
	t.Run("store", func(t *testing.T) {
		m := metrics.NewMetrics(nil)
		s, err := NewSweeper(panicStore{}, Options{Clock: clockwork.NewFakeClock(), Metrics: m})
		require.NoError(t, err)

		_, err = s.RunOnce(context.Background())
		assert.ErrorIs(t, err, ErrSweepPanic)
		assert.Contains(t, err.Error(), "index corrupted")
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Sweeps.WithLabelValues(metrics.StatusFailed)))
	})

	t.Run("subscriber", func(t *testing.T) {
		s, store, clock, _ := newSweeper(t)
		s.Subscribe(func(storage.Eviction) { panic("subscriber bug") })

		store.ProcessEvent(storage.Event{Wiki: "en", User: "Alice", Title: "A"})
		clock.Advance(11 * time.Minute)

		_, err := s.RunOnce(context.Background())
		assert.ErrorIs(t, err, ErrSweepPanic)
		assert.Zero(t, store.NodeCount(), "eviction is committed before notification")
	})
}

func TestRunTicksOnClock(t *testing.T) {
	s, store, clock, _ := newSweeper(t)

	evictions := make(chan storage.Eviction, 1)
	s.Subscribe(func(ev storage.Eviction) { evictions <- ev })

	store.ProcessEvent(storage.Event{Wiki: "en", User: "Alice", Title: "A"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1), "ticker registered")

	clock.Advance(11 * time.Minute)

	select {
	case ev := <-evictions:
		assert.Len(t, ev.RemovedNodes, 3)
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not run after the ticker fired")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunLogsAsRetentionComponent(t *testing.T) {
	var buf bytes.Buffer
	clock := clockwork.NewFakeClockAt(epoch)
	store := storage.NewMemoryStore(&storage.Options{Clock: clock})
	s, err := NewSweeper(store, Options{
		Policy:  DefaultPolicy(),
		Clock:   clock,
		Metrics: metrics.NewMetrics(nil),
		Logger:  zerolog.New(&buf),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		assert.Equal(t, "retention", entry["component"])
	}
}
