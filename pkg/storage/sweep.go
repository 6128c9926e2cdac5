package storage

import (
	"sort"
	"time"
)

// Sweep evicts everything that fell out of the retention window.
//
// Procedure:
//  1. Remove every edge with LastSeen before cutoff
//  2. Recompute the set of nodes referenced by surviving edges
//  3. Remove every node that is unreferenced AND has LastSeen before cutoff,
//     pruning its co-occurrence index entries
//  4. Trim the timestamp sequences and the event ring
//
// Edges expire purely on their own LastSeen. A node whose edges all expired
// survives while its own LastSeen is inside the window, even with zero edges.
//
// The removal lists are computed before anything is mutated. Cost is
// O(edges + nodes + tracked timestamps) per call.
//
// Example:
//
//	ev := store.Sweep(clock.Now().Add(-10 * time.Minute))
//	fmt.Printf("evicted %d nodes, %d edges\n", len(ev.RemovedNodes), len(ev.RemovedEdges))
func (m *MemoryStore) Sweep(cutoff time.Time) Eviction {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev := Eviction{Cutoff: cutoff, RemovedNodes: []NodeID{}, RemovedEdges: []EdgeID{}}

	referenced := make(map[NodeID]struct{}, len(m.nodes))
	for id, e := range m.edges {
		if e.LastSeen.Before(cutoff) {
			ev.RemovedEdges = append(ev.RemovedEdges, id)
			continue
		}
		referenced[e.Source] = struct{}{}
		referenced[e.Target] = struct{}{}
	}
	for id, n := range m.nodes {
		if _, ok := referenced[id]; ok {
			continue
		}
		if n.LastSeen.Before(cutoff) {
			ev.RemovedNodes = append(ev.RemovedNodes, id)
		}
	}

	for _, id := range ev.RemovedEdges {
		delete(m.edges, id)
	}
	for _, id := range ev.RemovedNodes {
		m.unindexNode(m.nodes[id])
		delete(m.nodes, id)
	}
	m.recency.trim(cutoff)

	sort.Slice(ev.RemovedNodes, func(i, j int) bool { return ev.RemovedNodes[i] < ev.RemovedNodes[j] })
	sort.Slice(ev.RemovedEdges, func(i, j int) bool { return ev.RemovedEdges[i] < ev.RemovedEdges[j] })
	return ev
}

// unindexNode removes n from the co-occurrence indices.
func (m *MemoryStore) unindexNode(n *Node) {
	switch n.Kind {
	case KindArticle:
		for editor := range m.articleEditors[n.ID] {
			removeFromSet(m.editorArticles, editor, n.ID)
		}
		delete(m.articleEditors, n.ID)
	case KindWiki:
		for editor := range m.wikiEditors[n.ID] {
			removeFromSet(m.editorWikis, editor, n.ID)
		}
		delete(m.wikiEditors, n.ID)
	case KindEditor:
		for article := range m.editorArticles[n.ID] {
			removeFromSet(m.articleEditors, article, n.ID)
		}
		for wiki := range m.editorWikis[n.ID] {
			removeFromSet(m.wikiEditors, wiki, n.ID)
		}
		delete(m.editorArticles, n.ID)
		delete(m.editorWikis, n.ID)
	}
}
