package algo

import (
	"math/rand"
	"sort"

	"github.com/orneryd/wikigraph/pkg/storage"
)

const (
	// MaxCommunityIterations caps label propagation passes.
	MaxCommunityIterations = 20
	// DefaultCommunityBuckets is the number of rotating ids shared by small
	// communities.
	DefaultCommunityBuckets = 6
	// smallCommunitySize is the largest community folded into a bucket.
	smallCommunitySize = 2
)

// CommunityOptions configures Communities.
type CommunityOptions struct {
	// Rand shuffles the visit order of every pass. Nil visits nodes in id
	// order, which is deterministic but biases propagation toward low ids.
	Rand *rand.Rand
	// MaxIterations caps the number of passes. Zero means
	// MaxCommunityIterations.
	MaxIterations int
	// Buckets is the number of ids shared by communities of size ≤ 2. Zero
	// means DefaultCommunityBuckets.
	Buckets int
}

// Communities detects communities with weighted label propagation over
// CommunityGraph(view) and compacts the result with CompactCommunities.
//
// Example:
//
//	comms := algo.Communities(store.Read(), algo.CommunityOptions{
//		Rand: rand.New(rand.NewSource(42)),
//	})
//	fmt.Println(comms["article:Go"])
func Communities(view storage.GraphView, opts CommunityOptions) map[storage.NodeID]int {
	g := CommunityGraph(view)
	labels := LabelPropagation(g, opts.Rand, opts.MaxIterations)
	return CompactCommunities(labels, opts.Buckets)
}

// LabelPropagation assigns every node of g a raw community label.
//
// Algorithm:
//  1. Every node starts with a unique label (its index in id order)
//  2. Each pass visits all nodes in a freshly shuffled order
//  3. A node adopts the label with the highest total incident weight among
//     its neighbors' current labels. Ties keep the node's own label if it is
//     among the best, otherwise the smallest label wins
//  4. Stop after a pass with no changes or after maxIter passes
//
// Labels are updated in place, so later nodes in a pass see earlier changes.
// Returned labels are not dense; see CompactCommunities.
func LabelPropagation(g *WeightedGraph, rng *rand.Rand, maxIter int) map[storage.NodeID]int {
	if maxIter <= 0 {
		maxIter = MaxCommunityIterations
	}
	nodes := g.Nodes()
	labels := make(map[storage.NodeID]int, len(nodes))
	for i, id := range nodes {
		labels[id] = i
	}

	order := make([]storage.NodeID, len(nodes))
	copy(order, nodes)

	for iter := 0; iter < maxIter; iter++ {
		if rng != nil {
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		changed := false
		for _, id := range order {
			best, ok := heaviestLabel(g, id, labels)
			if ok && best != labels[id] {
				labels[id] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return labels
}

func heaviestLabel(g *WeightedGraph, id storage.NodeID, labels map[storage.NodeID]int) (int, bool) {
	totals := make(map[int]float64)
	for _, n := range g.Neighbors(id) {
		totals[labels[n]] += g.Weight(id, n)
	}
	if len(totals) == 0 {
		return 0, false
	}

	current := labels[id]
	best, bestWeight := 0, -1.0
	for label, w := range totals {
		switch {
		case w > bestWeight:
			best, bestWeight = label, w
		case w == bestWeight && label < best:
			best = label
		}
	}
	if w, ok := totals[current]; ok && w == bestWeight {
		return current, true
	}
	return best, true
}

// CompactCommunities renumbers raw labels.
//
// Communities with more than two members get dense ids 0..k-1, largest first
// (ties by smallest member id). Communities with one or two members are not
// kept distinct: the i-th of them (ordered by smallest member id) gets
// k + (i mod buckets). This bounds the number of distinct ids a renderer
// must represent.
//
// Example:
//
//	raw := map[storage.NodeID]int{"a": 7, "b": 7, "c": 7, "d": 9}
//	algo.CompactCommunities(raw, 6)
//	// {"a": 0, "b": 0, "c": 0, "d": 1}
func CompactCommunities(labels map[storage.NodeID]int, buckets int) map[storage.NodeID]int {
	if buckets <= 0 {
		buckets = DefaultCommunityBuckets
	}

	members := make(map[int][]storage.NodeID)
	for id, label := range labels {
		members[label] = append(members[label], id)
	}
	groups := make([][]storage.NodeID, 0, len(members))
	for _, ids := range members {
		sortIDs(ids)
		groups = append(groups, ids)
	}
	sort.Slice(groups, func(i, j int) bool {
		if len(groups[i]) != len(groups[j]) {
			return len(groups[i]) > len(groups[j])
		}
		return groups[i][0] < groups[j][0]
	})

	large := 0
	for _, ids := range groups {
		if len(ids) > smallCommunitySize {
			large++
		}
	}
	small := groups[large:]
	sort.Slice(small, func(i, j int) bool { return small[i][0] < small[j][0] })

	out := make(map[storage.NodeID]int, len(labels))
	for i, ids := range groups[:large] {
		for _, id := range ids {
			out[id] = i
		}
	}
	for i, ids := range small {
		for _, id := range ids {
			out[id] = large + i%buckets
		}
	}
	return out
}
