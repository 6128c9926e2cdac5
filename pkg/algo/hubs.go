package algo

import (
	"math"
	"sort"

	"github.com/orneryd/wikigraph/pkg/storage"
)

// DefaultHubFraction is the share of nodes reported as hubs.
const DefaultHubFraction = 0.1

// Hub is one high-degree node.
type Hub struct {
	ID     storage.NodeID `json:"id"`
	Label  string         `json:"label"`
	Degree int            `json:"degree"`
}

// HubResult holds the hub list and the normalized degree of every node.
type HubResult struct {
	// Hubs is sorted by degree descending, ties by id.
	Hubs []Hub `json:"hubs"`
	// Centrality maps every node with degree > 0 to degree / max degree.
	Centrality map[storage.NodeID]float64 `json:"centrality"`
}

// Degrees counts bipartite edges per node. Nodes without bipartite edges are
// absent.
func Degrees(view storage.GraphView) map[storage.NodeID]int {
	deg := make(map[storage.NodeID]int)
	for _, e := range view.Edges {
		if e.View != storage.ViewBipartite {
			continue
		}
		deg[e.Source]++
		deg[e.Target]++
	}
	return deg
}

// HubCount returns max(1, ceil(fraction·n)) for n > 0 and 0 otherwise.
func HubCount(n int, fraction float64) int {
	if n <= 0 {
		return 0
	}
	k := int(math.Ceil(fraction * float64(n)))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// Hubs returns the top fraction of nodes by bipartite degree.
//
// Example:
//
//	res := algo.Hubs(store.Read(), algo.DefaultHubFraction)
//	for _, h := range res.Hubs {
//		fmt.Printf("%s (%d)\n", h.Label, h.Degree)
//	}
func Hubs(view storage.GraphView, fraction float64) HubResult {
	deg := Degrees(view)
	res := HubResult{Hubs: []Hub{}, Centrality: make(map[storage.NodeID]float64, len(deg))}
	if len(deg) == 0 {
		return res
	}

	ranked := make([]Hub, 0, len(deg))
	maxDeg := 0
	for id, d := range deg {
		ranked = append(ranked, Hub{ID: id, Label: view.Label(id), Degree: d})
		if d > maxDeg {
			maxDeg = d
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Degree != ranked[j].Degree {
			return ranked[i].Degree > ranked[j].Degree
		}
		return ranked[i].ID < ranked[j].ID
	})

	res.Hubs = ranked[:HubCount(len(ranked), fraction)]
	for id, d := range deg {
		res.Centrality[id] = float64(d) / float64(maxDeg)
	}
	return res
}
