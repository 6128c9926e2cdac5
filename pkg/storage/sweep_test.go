package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const window = 10 * time.Minute

func TestSweepEmptyStore(t *testing.T) {
	store, clock := newTestStore(t)
	ev := store.Sweep(clock.Now().Add(-window))
	assert.True(t, ev.Empty())
	assert.NotNil(t, ev.RemovedNodes)
	assert.NotNil(t, ev.RemovedEdges)
}

func TestSweepEvictsStaleEntities(t *testing.T) {
	store, clock := newTestStore(t)
	store.ProcessEvent(edit("en", "Alice", "A"))

	clock.Advance(5 * time.Minute)
	ev := store.Sweep(clock.Now().Add(-window))
	assert.True(t, ev.Empty(), "nothing is stale yet")

	clock.Advance(6 * time.Minute)
	ev = store.Sweep(clock.Now().Add(-window))

	assert.Equal(t, []EdgeID{"editor:Alice|article:A"}, ev.RemovedEdges)
	assert.Equal(t, []NodeID{"article:A", "editor:Alice", "wiki:en"}, ev.RemovedNodes)
	assert.Zero(t, store.NodeCount())
	assert.Zero(t, store.EdgeCount())

	stats := store.Stats()
	assert.Zero(t, stats.EditTimestamps)
	assert.Zero(t, stats.TrackedArticles)
	assert.Zero(t, stats.BufferedEvents)

	ae, we, ea, ew := store.indexSizes()
	assert.Zero(t, ae)
	assert.Zero(t, we)
	assert.Zero(t, ea)
	assert.Zero(t, ew)
}

func TestSweepRetainsReferencedStaleNode(t *testing.T) {
	store, clock := newTestStore(t)

	store.ProcessEvent(edit("en", "Alice", "A")) // t0
	clock.Advance(6 * time.Minute)
	store.ProcessEvent(edit("en", "Alice", "B")) // t6, co:A|B seen now
	clock.Advance(5 * time.Minute)

	ev := store.Sweep(clock.Now().Add(-window)) // cutoff t1

	assert.Equal(t, []EdgeID{"editor:Alice|article:A"}, ev.RemovedEdges)
	assert.Empty(t, ev.RemovedNodes)

	a, err := store.Node("article:A")
	require.NoError(t, err, "article:A is stale but still referenced by a coedit edge")
	assert.True(t, a.LastSeen.Before(clock.Now().Add(-window)))

	_, err = store.Edge("co:article:A|article:B")
	assert.NoError(t, err)
}

func TestSweepKeepsFreshNodeWithoutEdges(t *testing.T) {
	store, clock := newTestStore(t)

	store.ProcessEvent(edit("en", "Alice", "A"))
	clock.Advance(8 * time.Minute)
	store.ProcessEvent(edit("en", "Bob", "B"))
	clock.Advance(3 * time.Minute)

	ev := store.Sweep(clock.Now().Add(-window))
	assert.Equal(t, []NodeID{"article:A", "editor:Alice"}, ev.RemovedNodes)

	_, err := store.Node("wiki:en")
	assert.NoError(t, err, "wiki nodes have no edges in a single-wiki graph but stay while fresh")
	assert.Empty(t, store.GetSnapshot(ViewWikiDomain).Edges)
}

func TestSweepPrunesCooccurrenceIndices(t *testing.T) {
	store, clock := newTestStore(t)

	store.ProcessEvent(edit("en", "Alice", "A"))
	store.ProcessEvent(edit("fr", "Alice", "B"))

	ae, we, ea, ew := store.indexSizes()
	assert.Equal(t, 2, ae)
	assert.Equal(t, 2, we)
	assert.Equal(t, 1, ea)
	assert.Equal(t, 1, ew)

	clock.Advance(window + time.Second)
	store.Sweep(clock.Now().Add(-window))

	ae, we, ea, ew = store.indexSizes()
	assert.Zero(t, ae+we+ea+ew)

	// A new editor touching the same titles must not resurrect Alice's links.
	diff := store.ProcessEvent(edit("en", "Carol", "A"))
	assert.Len(t, diff.NodesAdded, 3)
	for _, e := range diff.EdgesAdded {
		assert.Equal(t, ViewBipartite, e.View)
	}

	diff = store.ProcessEvent(edit("en", "Carol", "B"))
	co, err := store.Edge("co:article:A|article:B")
	require.NoError(t, err)
	assert.Equal(t, 1, co.Weight)
	assert.Len(t, diff.EdgesAdded, 2)
}

func TestSweepEvictedEditorForgetsArticles(t *testing.T) {
	store, clock := newTestStore(t)

	store.ProcessEvent(edit("en", "Alice", "A"))
	store.ProcessEvent(edit("en", "Bob", "A"))
	clock.Advance(8 * time.Minute)
	store.ProcessEvent(edit("en", "Bob", "B")) // keeps A alive via co:A|B
	clock.Advance(3 * time.Minute)

	ev := store.Sweep(clock.Now().Add(-window))
	assert.Contains(t, ev.RemovedNodes, NodeID("editor:Alice"))
	assert.NotContains(t, ev.RemovedNodes, NodeID("article:A"))

	store.mu.RLock()
	_, aliceOnA := store.articleEditors["article:A"]["editor:Alice"]
	_, bobOnA := store.articleEditors["article:A"]["editor:Bob"]
	_, aliceTracked := store.editorArticles["editor:Alice"]
	store.mu.RUnlock()

	assert.False(t, aliceOnA)
	assert.True(t, bobOnA)
	assert.False(t, aliceTracked)
}

func TestSweepTrimsRecency(t *testing.T) {
	store, clock := newTestStore(t)

	store.ProcessEvent(edit("en", "Alice", "A"))
	clock.Advance(6 * time.Minute)
	store.ProcessEvent(edit("en", "Alice", "B"))
	store.ProcessEvent(edit("en", "Bob", "B"))
	clock.Advance(5 * time.Minute)

	store.Sweep(clock.Now().Add(-window))

	assert.Len(t, store.EditTimes(time.Time{}), 2)
	perArticle := store.ArticleEditTimes(time.Time{})
	assert.NotContains(t, perArticle, NodeID("article:A"))
	assert.Len(t, perArticle["article:B"], 2)

	events := store.RecentEvents()
	require.Len(t, events, 2)
	assert.Equal(t, "B", events[0].Title)
}

func TestTrimBefore(t *testing.T) {
	ts := func(sec int) time.Time { return epoch.Add(time.Duration(sec) * time.Second) }
	seq := []time.Time{ts(1), ts(2), ts(3), ts(4)}

	tests := []struct {
		name   string
		cutoff time.Time
		want   int
	}{
		{"before all", ts(0), 4},
		{"inclusive boundary", ts(2), 3},
		{"middle", ts(3), 2},
		{"after all", ts(5), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, trimBefore(seq, tt.cutoff), tt.want)
		})
	}
}
