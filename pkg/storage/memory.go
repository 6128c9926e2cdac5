package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Options configures a MemoryStore.
type Options struct {
	// Clock supplies receipt timestamps. Defaults to the real clock.
	Clock clockwork.Clock
	// EventBufferSize bounds the raw event ring buffer.
	EventBufferSize int
}

// DefaultOptions returns the options used when NewMemoryStore is given nil.
func DefaultOptions() *Options {
	return &Options{
		Clock:           clockwork.NewRealClock(),
		EventBufferSize: 1000,
	}
}

type idSet map[NodeID]struct{}

// MemoryStore is the authoritative in-memory graph.
//
// Features:
//   - Idempotent upserts: re-processing an event for the same (wiki, user,
//     title) triad touches the same node and edge ids
//   - Three coupled edge views derived from one event
//   - Co-occurrence indices kept consistent with node eviction
//   - Value-copy reads: Diff, Snapshot and GraphView never alias store state
//
// Performance Characteristics:
//   - ProcessEvent: O(a + w) where a, w = articles/wikis already linked to the editor
//   - GetSnapshot: O(edges + nodes in view)
//   - Sweep: O(edges + nodes + tracked timestamps)
//
// Thread Safety:
//
//	ProcessEvent and Sweep take the write lock; every read takes the read lock
//	and returns copies. Diffs are queued in apply order while the write lock is
//	held and delivered after it is released, one at a time, by whichever
//	ProcessEvent caller finds the queue idle. Subscribers may read the store or
//	call ProcessEvent; a diff produced inside a subscriber is delivered after the
//	current one returns.
type MemoryStore struct {
	mu    sync.RWMutex
	clock clockwork.Clock

	nodes map[NodeID]*Node
	edges map[EdgeID]*Edge

	// Co-occurrence indices and their reverse mappings. a ∈ editorArticles[e]
	// iff e ∈ articleEditors[a]; same for wikis.
	articleEditors map[NodeID]idSet
	wikiEditors    map[NodeID]idSet
	editorArticles map[NodeID]idSet
	editorWikis    map[NodeID]idSet

	recency *recency

	// pending holds diffs not yet delivered, in apply order. draining is set
	// while one goroutine is delivering them.
	queueMu  sync.Mutex
	pending  []Diff
	draining bool

	subsMu    sync.RWMutex
	subs      map[int]DiffHandler
	nextSub   int
}

// NewMemoryStore creates an empty store.
//
// Example:
//
//	store := storage.NewMemoryStore(&storage.Options{
//		Clock:           clockwork.NewFakeClock(),
//		EventBufferSize: 500,
//	})
func NewMemoryStore(opts *Options) *MemoryStore {
	defaults := DefaultOptions()
	if opts == nil {
		opts = defaults
	}
	clock := opts.Clock
	if clock == nil {
		clock = defaults.Clock
	}
	bufferSize := opts.EventBufferSize
	if bufferSize <= 0 {
		bufferSize = defaults.EventBufferSize
	}
	return &MemoryStore{
		clock:          clock,
		nodes:          make(map[NodeID]*Node),
		edges:          make(map[EdgeID]*Edge),
		articleEditors: make(map[NodeID]idSet),
		wikiEditors:    make(map[NodeID]idSet),
		editorArticles: make(map[NodeID]idSet),
		editorWikis:    make(map[NodeID]idSet),
		recency:        newRecency(bufferSize),
		subs:           make(map[int]DiffHandler),
	}
}

// ProcessEvent applies one edit event and returns everything it changed.
//
// Steps, applied atomically:
//  1. Record the event in the ring buffer and the timestamp sequences
//  2. Upsert the editor, article and wiki nodes
//  3. Upsert the bipartite editor→article edge
//  4. Upsert a coedit edge between this article and every other article the
//     editor is already linked to, then link the editor to this article
//  5. Same as 4 for wikis, producing wiki-domain edges
//
// Co-occurrence membership is never forgotten while both nodes are live, so a
// repeated edit reinforces every existing coedit edge of that editor, not
// just newly formed ones.
//
// Example:
//
//	store.ProcessEvent(storage.Event{Wiki: "en", User: "Alice", Title: "A"})
//	diff := store.ProcessEvent(storage.Event{Wiki: "en", User: "Alice", Title: "B"})
//	// diff.EdgesAdded contains "editor:Alice|article:B" and "co:article:A|article:B"
func (m *MemoryStore) ProcessEvent(ev Event) Diff {
	m.mu.Lock()
	now := m.clock.Now()

	editorID := EditorID(ev.User)
	articleID := ArticleID(ev.Title)
	wikiID := WikiID(ev.Wiki)

	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	m.recency.record(ev, articleID, now)

	var diff Diff
	m.upsertNode(&diff, editorID, ev.User, EditorAttrs{IsBot: ev.IsBot}, now)
	m.upsertNode(&diff, articleID, ev.Title, ArticleAttrs{Wiki: ev.Wiki, Namespace: ev.Namespace}, now)
	m.upsertNode(&diff, wikiID, ev.Wiki, WikiAttrs{}, now)

	m.upsertEdge(&diff, BipartiteEdgeID(editorID, articleID), editorID, articleID, ViewBipartite, now)

	m.deriveCooccurrence(&diff, editorID, articleID, m.editorArticles, m.articleEditors, ViewCoedit, CoeditEdgeID, now)
	m.deriveCooccurrence(&diff, editorID, wikiID, m.editorWikis, m.wikiEditors, ViewWikiDomain, WikiDomainEdgeID, now)

	m.queueMu.Lock()
	m.pending = append(m.pending, diff)
	m.queueMu.Unlock()
	m.mu.Unlock()

	m.drain()
	return diff
}

// drain delivers queued diffs until the queue is empty. If another goroutine
// is already draining it returns at once and that goroutine delivers the
// caller's diff in turn.
func (m *MemoryStore) drain() {
	m.queueMu.Lock()
	if m.draining {
		m.queueMu.Unlock()
		return
	}
	m.draining = true
	m.queueMu.Unlock()

	done := false
	defer func() {
		if !done {
			// A subscriber panicked; let the next caller resume delivery.
			m.queueMu.Lock()
			m.draining = false
			m.queueMu.Unlock()
		}
	}()

	for {
		m.queueMu.Lock()
		if len(m.pending) == 0 {
			m.draining = false
			m.pending = nil
			m.queueMu.Unlock()
			done = true
			return
		}
		diff := m.pending[0]
		m.pending[0] = Diff{}
		m.pending = m.pending[1:]
		m.queueMu.Unlock()

		m.publish(diff)
	}
}

func (m *MemoryStore) upsertNode(diff *Diff, id NodeID, label string, attrs Attrs, now time.Time) {
	if n, ok := m.nodes[id]; ok {
		n.EditCount++
		n.LastSeen = now
		diff.NodesUpdated = append(diff.NodesUpdated, *n)
		return
	}
	n := &Node{
		ID:        id,
		Kind:      attrs.Kind(),
		Label:     label,
		EditCount: 1,
		LastSeen:  now,
		Attrs:     attrs,
	}
	m.nodes[id] = n
	diff.NodesAdded = append(diff.NodesAdded, *n)
}

func (m *MemoryStore) upsertEdge(diff *Diff, id EdgeID, source, target NodeID, view View, now time.Time) {
	if e, ok := m.edges[id]; ok {
		e.Weight++
		e.LastSeen = now
		diff.EdgesUpdated = append(diff.EdgesUpdated, *e)
		return
	}
	e := &Edge{
		ID:       id,
		Source:   source,
		Target:   target,
		Weight:   1,
		LastSeen: now,
		View:     view,
	}
	m.edges[id] = e
	diff.EdgesAdded = append(diff.EdgesAdded, *e)
}

// deriveCooccurrence links target to every other member already associated
// with editor, then registers editor against target.
func (m *MemoryStore) deriveCooccurrence(
	diff *Diff,
	editor, target NodeID,
	byEditor, byTarget map[NodeID]idSet,
	view View,
	edgeID func(a, b NodeID) EdgeID,
	now time.Time,
) {
	for _, other := range sortedIDs(byEditor[editor]) {
		if other == target {
			continue
		}
		lo, hi := sortedPair(target, other)
		m.upsertEdge(diff, edgeID(lo, hi), lo, hi, view, now)
	}
	addToSet(byTarget, target, editor)
	addToSet(byEditor, editor, target)
}

// GetSnapshot returns every edge of view and every node those edges reference.
// Unknown views yield an empty snapshot.
//
// Example:
//
//	snap := store.GetSnapshot(storage.ViewBipartite)
//	for _, e := range snap.Edges {
//		fmt.Printf("%s -> %s (w=%d)\n", e.Source, e.Target, e.Weight)
//	}
func (m *MemoryStore) GetSnapshot(view View) Snapshot {
	snap := Snapshot{View: view, Nodes: []Node{}, Edges: []Edge{}}
	if !view.Valid() {
		return snap
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[NodeID]struct{})
	for _, e := range m.edges {
		if e.View != view {
			continue
		}
		snap.Edges = append(snap.Edges, *e)
		for _, id := range [2]NodeID{e.Source, e.Target} {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			if n, ok := m.nodes[id]; ok {
				snap.Nodes = append(snap.Nodes, *n)
			}
		}
	}
	sort.Slice(snap.Edges, func(i, j int) bool { return snap.Edges[i].ID < snap.Edges[j].ID })
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	return snap
}

// Read copies the whole graph. The read lock is held only for the copy.
func (m *MemoryStore) Read() GraphView {
	m.mu.RLock()
	view := m.copyGraphLocked()
	m.mu.RUnlock()

	sort.Slice(view.Edges, func(i, j int) bool { return view.Edges[i].ID < view.Edges[j].ID })
	return view
}

func (m *MemoryStore) copyGraphLocked() GraphView {
	view := GraphView{
		Nodes:   make(map[NodeID]Node, len(m.nodes)),
		Edges:   make([]Edge, 0, len(m.edges)),
		TakenAt: m.clock.Now(),
	}
	for id, n := range m.nodes {
		view.Nodes[id] = *n
	}
	for _, e := range m.edges {
		view.Edges = append(view.Edges, *e)
	}
	return view
}

// Node returns a copy of the node with the given id.
func (m *MemoryStore) Node(id NodeID) (Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	if !ok {
		return Node{}, ErrNotFound
	}
	return *n, nil
}

// Edge returns a copy of the edge with the given id.
func (m *MemoryStore) Edge(id EdgeID) (Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.edges[id]
	if !ok {
		return Edge{}, ErrNotFound
	}
	return *e, nil
}

// NodeCount returns the number of live nodes.
func (m *MemoryStore) NodeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// EdgeCount returns the number of live edges across all views.
func (m *MemoryStore) EdgeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.edges)
}

// Stats returns aggregate counters.
func (m *MemoryStore) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statsLocked()
}

func (m *MemoryStore) statsLocked() Stats {
	s := Stats{
		Nodes:           len(m.nodes),
		Edges:           len(m.edges),
		NodesByKind:     make(map[Kind]int, 3),
		EdgesByView:     make(map[View]int, len(Views)),
		EditTimestamps:  len(m.recency.edits),
		TrackedArticles: len(m.recency.articleEdits),
		BufferedEvents:  m.recency.events.size,
	}
	for _, n := range m.nodes {
		s.NodesByKind[n.Kind]++
	}
	for _, e := range m.edges {
		s.EdgesByView[e.View]++
	}
	return s
}

// EditTimes returns the global edit timestamps received at or after from.
func (m *MemoryStore) EditTimes(from time.Time) []time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return since(m.recency.edits, from)
}

// ArticleEditTimes returns, per article, the edit timestamps received at or
// after from. Articles with no such edits are omitted.
func (m *MemoryStore) ArticleEditTimes(from time.Time) map[NodeID][]time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.articleEditTimesLocked(from)
}

func (m *MemoryStore) articleEditTimesLocked(from time.Time) map[NodeID][]time.Time {
	out := make(map[NodeID][]time.Time)
	for id, seq := range m.recency.articleEdits {
		if s := since(seq, from); len(s) > 0 {
			out[id] = s
		}
	}
	return out
}

// RecentEvents returns the raw event ring, oldest first.
func (m *MemoryStore) RecentEvents() []RecordedEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recency.events.items()
}

// Activity copies the graph, its counters and the recency data under a single
// read lock, so every part reflects the same set of applied events.
// EditTimes starts at editsFrom and ArticleEdits at articlesFrom.
func (m *MemoryStore) Activity(editsFrom, articlesFrom time.Time) Activity {
	m.mu.RLock()
	a := Activity{
		Stats:        m.statsLocked(),
		View:         m.copyGraphLocked(),
		EditTimes:    since(m.recency.edits, editsFrom),
		ArticleEdits: m.articleEditTimesLocked(articlesFrom),
		Events:       m.recency.events.items(),
	}
	m.mu.RUnlock()

	sort.Slice(a.View.Edges, func(i, j int) bool { return a.View.Edges[i].ID < a.View.Edges[j].ID })
	return a
}

// Subscribe registers h to receive every subsequent diff. The returned
// function removes the subscription.
func (m *MemoryStore) Subscribe(h DiffHandler) (cancel func()) {
	m.subsMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = h
	m.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, id)
			m.subsMu.Unlock()
		})
	}
}

func (m *MemoryStore) publish(diff Diff) {
	m.subsMu.RLock()
	handlers := make([]DiffHandler, 0, len(m.subs))
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		handlers = append(handlers, m.subs[id])
	}
	m.subsMu.RUnlock()

	for _, h := range handlers {
		h(diff)
	}
}

func addToSet(index map[NodeID]idSet, key, member NodeID) {
	set, ok := index[key]
	if !ok {
		set = make(idSet)
		index[key] = set
	}
	set[member] = struct{}{}
}

func removeFromSet(index map[NodeID]idSet, key, member NodeID) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, member)
	if len(set) == 0 {
		delete(index, key)
	}
}

func sortedIDs(set idSet) []NodeID {
	ids := make([]NodeID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
