package algo

import "github.com/orneryd/wikigraph/pkg/storage"

const (
	// DefaultIterations is the fixed number of PageRank passes.
	DefaultIterations = 20
	// DefaultDamping is the PageRank damping factor.
	DefaultDamping = 0.85
)

// PageRank ranks editors and articles by influence over the bipartite view.
//
// Bipartite edges are treated as undirected links. Every linked node starts
// at 1/N and the update
//
//	score'(v) = (1-d)/N + d * Σ score(u)/deg(u)   for u adjacent to v
//
// runs exactly iterations times; there is no convergence test. The result is
// divided by its maximum, so scores lie in [0,1] and the top node scores
// exactly 1. This is a ranking, not a probability distribution.
//
// Returns an empty map when no bipartite edges exist.
//
// Example:
//
//	ranks := algo.PageRank(store.Read(), algo.DefaultIterations, algo.DefaultDamping)
//	fmt.Printf("%.3f\n", ranks["editor:Alice"])
func PageRank(view storage.GraphView, iterations int, damping float64) map[storage.NodeID]float64 {
	adj := bipartiteAdjacency(view)
	if len(adj) == 0 {
		return map[storage.NodeID]float64{}
	}

	nodes := make([]storage.NodeID, 0, len(adj))
	for id := range adj {
		nodes = append(nodes, id)
	}
	sortIDs(nodes)
	n := float64(len(nodes))

	// Initialize scores
	scores := make(map[storage.NodeID]float64, len(nodes))
	for _, id := range nodes {
		scores[id] = 1.0 / n
	}

	// Iterate
	for iter := 0; iter < iterations; iter++ {
		next := make(map[storage.NodeID]float64, len(nodes))
		for _, id := range nodes {
			sum := 0.0
			for _, u := range adj[id] {
				sum += scores[u] / float64(len(adj[u]))
			}
			next[id] = (1-damping)/n + damping*sum
		}
		scores = next
	}

	maxScore := 0.0
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	if maxScore > 0 {
		for id, s := range scores {
			scores[id] = s / maxScore
		}
	}
	return scores
}
