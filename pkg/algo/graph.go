// Package algo provides the graph algorithms behind wikigraph analytics.
//
// Every function is pure: it takes a storage.GraphView (a value copy of the
// store) and returns fresh maps. Nothing here touches the live store, so the
// analytics engine can run these without holding any lock.
//
// Algorithms:
//   - Communities: weighted label propagation with small-community bucketing
//   - PageRank: fixed-iteration power method, max-normalized
//   - Hubs: degree centrality over bipartite edges
//   - Anomalies: count-vs-threshold heuristics over recent bipartite edges
//
// Example Usage:
//
//	view := store.Read()
//	ranks := algo.PageRank(view, algo.DefaultIterations, algo.DefaultDamping)
//	hubs := algo.Hubs(view, algo.DefaultHubFraction)
//	fmt.Printf("%d ranked, top hub %s\n", len(ranks), hubs.Hubs[0].ID)
package algo

import (
	"sort"

	"github.com/orneryd/wikigraph/pkg/storage"
)

// WeightedGraph is an undirected graph with accumulated edge weights. Adding
// the same pair twice sums the weights.
type WeightedGraph struct {
	adj map[storage.NodeID]map[storage.NodeID]float64
}

// NewWeightedGraph creates an empty graph.
func NewWeightedGraph() *WeightedGraph {
	return &WeightedGraph{adj: make(map[storage.NodeID]map[storage.NodeID]float64)}
}

// AddEdge adds w to the weight between a and b. Self loops are ignored.
func (g *WeightedGraph) AddEdge(a, b storage.NodeID, w float64) {
	if a == b {
		return
	}
	g.link(a, b, w)
	g.link(b, a, w)
}

func (g *WeightedGraph) link(from, to storage.NodeID, w float64) {
	nbrs, ok := g.adj[from]
	if !ok {
		nbrs = make(map[storage.NodeID]float64)
		g.adj[from] = nbrs
	}
	nbrs[to] += w
}

// Nodes returns every node with at least one edge, sorted by id.
func (g *WeightedGraph) Nodes() []storage.NodeID {
	ids := make([]storage.NodeID, 0, len(g.adj))
	for id := range g.adj {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Neighbors returns the neighbors of id, sorted by id.
func (g *WeightedGraph) Neighbors(id storage.NodeID) []storage.NodeID {
	nbrs := g.adj[id]
	ids := make([]storage.NodeID, 0, len(nbrs))
	for n := range nbrs {
		ids = append(ids, n)
	}
	sortIDs(ids)
	return ids
}

// Weight returns the accumulated weight between a and b, or 0.
func (g *WeightedGraph) Weight(a, b storage.NodeID) float64 {
	return g.adj[a][b]
}

// NodeCount returns the number of nodes.
func (g *WeightedGraph) NodeCount() int { return len(g.adj) }

// EdgeCount returns the number of distinct undirected pairs.
func (g *WeightedGraph) EdgeCount() int {
	n := 0
	for _, nbrs := range g.adj {
		n += len(nbrs)
	}
	return n / 2
}

// EachEdge calls fn once per undirected pair with a < b, in id order.
func (g *WeightedGraph) EachEdge(fn func(a, b storage.NodeID, w float64)) {
	for _, a := range g.Nodes() {
		for _, b := range g.Neighbors(a) {
			if a < b {
				fn(a, b, g.adj[a][b])
			}
		}
	}
}

// CommunityGraph builds the working graph used for community detection:
//   - coedit edges with their weight
//   - a projection of the bipartite view: for every editor, every pair of
//     articles it touched gets weight 1, accumulated across editors
//   - the bipartite edges themselves with their weight, so editors join the
//     community of their articles
//
// Example:
//
//	g := algo.CommunityGraph(store.Read())
//	fmt.Println(g.NodeCount(), g.EdgeCount())
func CommunityGraph(view storage.GraphView) *WeightedGraph {
	g := NewWeightedGraph()
	byEditor := make(map[storage.NodeID][]storage.NodeID)

	for _, e := range view.Edges {
		switch e.View {
		case storage.ViewCoedit:
			g.AddEdge(e.Source, e.Target, float64(e.Weight))
		case storage.ViewBipartite:
			g.AddEdge(e.Source, e.Target, float64(e.Weight))
			byEditor[e.Source] = append(byEditor[e.Source], e.Target)
		}
	}

	for _, articles := range byEditor {
		for i := 0; i < len(articles); i++ {
			for j := i + 1; j < len(articles); j++ {
				g.AddEdge(articles[i], articles[j], 1)
			}
		}
	}
	return g
}

// bipartiteAdjacency returns each node's distinct neighbors over bipartite
// edges treated as undirected links, neighbor lists sorted by id.
func bipartiteAdjacency(view storage.GraphView) map[storage.NodeID][]storage.NodeID {
	sets := make(map[storage.NodeID]map[storage.NodeID]struct{})
	add := func(a, b storage.NodeID) {
		s, ok := sets[a]
		if !ok {
			s = make(map[storage.NodeID]struct{})
			sets[a] = s
		}
		s[b] = struct{}{}
	}
	for _, e := range view.Edges {
		if e.View != storage.ViewBipartite || e.Source == e.Target {
			continue
		}
		add(e.Source, e.Target)
		add(e.Target, e.Source)
	}

	adj := make(map[storage.NodeID][]storage.NodeID, len(sets))
	for id, s := range sets {
		nbrs := make([]storage.NodeID, 0, len(s))
		for n := range s {
			nbrs = append(nbrs, n)
		}
		sortIDs(nbrs)
		adj[id] = nbrs
	}
	return adj
}

func sortIDs(ids []storage.NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
