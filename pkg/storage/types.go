// Package storage provides the in-memory graph store for wikigraph.
//
// The store maintains a bounded, multi-view graph built from wiki edit events:
//   - Nodes of three kinds: editors, articles and wikis
//   - Edges in three views: bipartite (editor→article), coedit (article↔article)
//     and wiki-domain (wiki↔wiki)
//   - Co-occurrence indices used to derive coedit and wiki-domain edges
//   - Recency tracking (global and per-article edit timestamps, raw event ring)
//
// Design Principles:
//   - Single writer: ProcessEvent and Sweep are serialized by one RWMutex
//   - Readers get value copies and never observe a partially applied event
//   - Deterministic ids: the same natural key always maps to the same node/edge
//
// Example Usage:
//
//	store := storage.NewMemoryStore(nil)
//
//	diff := store.ProcessEvent(storage.Event{
//		Wiki:  "enwiki",
//		User:  "Alice",
//		Title: "Go (programming language)",
//	})
//	fmt.Printf("added %d nodes, %d edges\n", len(diff.NodesAdded), len(diff.EdgesAdded))
//
//	snap := store.GetSnapshot(storage.ViewCoedit)
//	fmt.Printf("coedit view: %d nodes, %d edges\n", len(snap.Nodes), len(snap.Edges))
//
// Scaling:
//
// There is no backpressure. If events arrive faster than the retention sweep
// can evict them, the node/edge maps and co-occurrence indices grow until the
// next sweep. The store targets graphs of a few thousand live entities.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidView = errors.New("invalid view")
)

// NodeID is a strongly-typed unique identifier for graph nodes.
//
// Node ids are derived from the node kind and its natural key:
//
//	storage.EditorID("Alice")   // "editor:Alice"
//	storage.ArticleID("Go")     // "article:Go"
//	storage.WikiID("enwiki")    // "wiki:enwiki"
type NodeID string

// EdgeID is a strongly-typed unique identifier for graph edges.
type EdgeID string

// Kind tags which variant a Node is.
type Kind string

const (
	KindEditor  Kind = "editor"
	KindArticle Kind = "article"
	KindWiki    Kind = "wiki"
)

// View tags which projection an Edge belongs to. A view never changes for the
// lifetime of an edge id.
type View string

const (
	// ViewBipartite holds directed editor→article edges.
	ViewBipartite View = "bipartite"
	// ViewCoedit holds undirected article↔article edges induced by shared editors.
	ViewCoedit View = "coedit"
	// ViewWikiDomain holds undirected wiki↔wiki edges induced by shared editors.
	ViewWikiDomain View = "wiki-domain"
)

// Views lists every known view in a stable order.
var Views = []View{ViewBipartite, ViewCoedit, ViewWikiDomain}

// Valid reports whether v is one of the known views.
func (v View) Valid() bool {
	switch v {
	case ViewBipartite, ViewCoedit, ViewWikiDomain:
		return true
	}
	return false
}

// ParseView converts a view tag into a View.
//
// Example:
//
//	view, err := storage.ParseView("coedit")
//	if errors.Is(err, storage.ErrInvalidView) {
//		// unknown tag
//	}
func ParseView(s string) (View, error) {
	v := View(s)
	if !v.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidView, s)
	}
	return v, nil
}

// Attrs is the kind-specific payload of a Node. The concrete type always
// agrees with Node.Kind.
type Attrs interface {
	Kind() Kind
}

// EditorAttrs is the payload for editor nodes.
type EditorAttrs struct {
	IsBot bool `json:"isBot"`
}

// Kind implements Attrs.
func (EditorAttrs) Kind() Kind { return KindEditor }

// ArticleAttrs is the payload for article nodes.
type ArticleAttrs struct {
	Wiki      string `json:"wiki"`
	Namespace int    `json:"namespace"`
}

// Kind implements Attrs.
func (ArticleAttrs) Kind() Kind { return KindArticle }

// WikiAttrs is the (empty) payload for wiki nodes.
type WikiAttrs struct{}

// Kind implements Attrs.
func (WikiAttrs) Kind() Kind { return KindWiki }

// Node represents a graph vertex.
//
// Every node shares a common base (ID, Kind, Label, EditCount, LastSeen) and
// carries a kind-specific payload in Attrs:
//
//	KindEditor  → EditorAttrs{IsBot}
//	KindArticle → ArticleAttrs{Wiki, Namespace}
//	KindWiki    → WikiAttrs{}
//
// Example:
//
//	node, _ := store.Node(storage.EditorID("Alice"))
//	if editor, ok := node.Editor(); ok && editor.IsBot {
//		fmt.Println("bot account")
//	}
//
// Thread Safety:
//
//	Node values returned by the store are copies and safe to retain.
type Node struct {
	ID        NodeID
	Kind      Kind
	Label     string
	EditCount int
	LastSeen  time.Time
	Attrs     Attrs
}

// Editor returns the editor payload if n is an editor node.
func (n Node) Editor() (EditorAttrs, bool) {
	a, ok := n.Attrs.(EditorAttrs)
	return a, ok
}

// Article returns the article payload if n is an article node.
func (n Node) Article() (ArticleAttrs, bool) {
	a, ok := n.Attrs.(ArticleAttrs)
	return a, ok
}

// MarshalJSON flattens the payload into the node object so downstream
// consumers see one record per node.
func (n Node) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"id":        n.ID,
		"type":      n.Kind,
		"label":     n.Label,
		"editCount": n.EditCount,
		"lastSeen":  n.LastSeen.UnixMilli(),
	}
	switch a := n.Attrs.(type) {
	case EditorAttrs:
		out["isBot"] = a.IsBot
	case ArticleAttrs:
		out["wiki"] = a.Wiki
		out["namespace"] = a.Namespace
	}
	return json.Marshal(out)
}

// Edge represents a weighted relationship inside one view.
//
// Weight counts the events that upserted the edge since it was created. For
// bipartite edges Source is the editor and Target the article; for the
// undirected views Source/Target are the lexicographically sorted endpoints.
type Edge struct {
	ID       EdgeID    `json:"id"`
	Source   NodeID    `json:"source"`
	Target   NodeID    `json:"target"`
	Weight   int       `json:"weight"`
	LastSeen time.Time `json:"-"`
	View     View      `json:"view"`
}

// MarshalJSON encodes LastSeen as epoch milliseconds.
func (e Edge) MarshalJSON() ([]byte, error) {
	type plain Edge
	return json.Marshal(struct {
		plain
		LastSeen int64 `json:"lastSeen"`
	}{plain(e), e.LastSeen.UnixMilli()})
}

// Event is one observed edit. Only Wiki, User and Title are required; the
// remaining fields are optional and default to their zero values.
type Event struct {
	Wiki      string    `json:"wiki"`
	User      string    `json:"user"`
	Title     string    `json:"title"`
	IsBot     bool      `json:"isBot,omitempty"`
	Namespace int       `json:"namespace,omitempty"`
	Timestamp time.Time `json:"-"` // zero when the feed did not provide one
	Comment   string    `json:"comment,omitempty"`
}

// RecordedEvent is a raw event as retained in the ring buffer.
type RecordedEvent struct {
	Event
	ReceivedAt time.Time
}

// Diff enumerates every node and edge that changed as a result of one event.
type Diff struct {
	NodesAdded   []Node `json:"nodesAdded"`
	NodesUpdated []Node `json:"nodesUpdated"`
	EdgesAdded   []Edge `json:"edgesAdded"`
	EdgesUpdated []Edge `json:"edgesUpdated"`
}

// Snapshot is the result of GetSnapshot: every edge of one view and every node
// referenced by at least one of them.
type Snapshot struct {
	View  View   `json:"view"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// GraphView is a point-in-time copy of the whole graph (all views), used by
// the analytics engine so that computation never holds the store lock.
type GraphView struct {
	Nodes   map[NodeID]Node
	Edges   []Edge // sorted by ID
	TakenAt time.Time
}

// EdgesOf returns the edges of one view, preserving ID order.
func (g GraphView) EdgesOf(view View) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.View == view {
			out = append(out, e)
		}
	}
	return out
}

// Label returns the label of id, falling back to the id itself.
func (g GraphView) Label(id NodeID) string {
	if n, ok := g.Nodes[id]; ok && n.Label != "" {
		return n.Label
	}
	return string(id)
}

// Eviction is the outcome of one retention sweep.
type Eviction struct {
	RemovedNodes []NodeID  `json:"removedNodes"`
	RemovedEdges []EdgeID  `json:"removedEdges"`
	Cutoff       time.Time `json:"-"`
}

// Empty reports whether nothing was removed.
func (e Eviction) Empty() bool {
	return len(e.RemovedNodes) == 0 && len(e.RemovedEdges) == 0
}

// Stats holds aggregate counters over the store.
type Stats struct {
	Nodes           int
	Edges           int
	NodesByKind     map[Kind]int
	EdgesByView     map[View]int
	EditTimestamps  int
	TrackedArticles int
	BufferedEvents  int
}

// Activity is one consistent read of the graph and its recency data.
type Activity struct {
	Stats        Stats
	View         GraphView
	EditTimes    []time.Time
	ArticleEdits map[NodeID][]time.Time
	Events       []RecordedEvent
}

// DiffHandler receives diffs in event delivery order.
type DiffHandler func(Diff)
