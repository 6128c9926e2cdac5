package analytics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/stat"

	"github.com/orneryd/wikigraph/pkg/algo"
	"github.com/orneryd/wikigraph/pkg/storage"
)

// Evaluation summarizes the quality of one analytics result.
type Evaluation struct {
	Community CommunityEvaluation `json:"community"`
	PageRank  PageRankEvaluation  `json:"pagerank"`
	Hubs      HubEvaluation       `json:"hubs"`
	Anomalies AnomalyEvaluation   `json:"anomalies"`
}

// CommunityEvaluation describes a partition of the community working graph.
type CommunityEvaluation struct {
	// Modularity is Newman's Q over the weighted working graph.
	Modularity float64 `json:"modularity"`
	// NumCommunities counts distinct community ids.
	NumCommunities int `json:"numCommunities"`
	// Coverage is the fraction of working-graph edges inside one community.
	Coverage    float64 `json:"coverage"`
	LargestSize int     `json:"largestSize"`
	MedianSize  int     `json:"medianSize"`
}

// PageRankEvaluation describes how concentrated the ranking is.
type PageRankEvaluation struct {
	Gini float64 `json:"gini"`
	// Entropy is Shannon entropy normalized by log(n), in [0,1].
	Entropy float64 `json:"entropy"`
	// Top10Pct is the share of total score held by the top 10% of nodes.
	Top10Pct  float64 `json:"top10pct"`
	NodeCount int     `json:"nodeCount"`
}

// HubEvaluation describes the hub list.
type HubEvaluation struct {
	HubCount   int     `json:"hubCount"`
	MaxDegree  int     `json:"maxDegree"`
	MeanDegree float64 `json:"meanDegree"`
	// Concentration is the top hub's share of total hub degree.
	Concentration float64 `json:"hubConcentration"`
}

// AnomalyEvaluation counts flagged nodes by rule.
type AnomalyEvaluation struct {
	TotalCount       int     `json:"totalCount"`
	ProlificEditors  int     `json:"prolificEditors"`
	CoordinatedEdits int     `json:"coordinatedEdits"`
	AvgScore         float64 `json:"avgScore"`
}

// EvaluateCommunities scores comms against the working graph g.
func EvaluateCommunities(g *algo.WeightedGraph, comms map[storage.NodeID]int) CommunityEvaluation {
	var ev CommunityEvaluation
	if len(comms) == 0 || g.EdgeCount() == 0 {
		return ev
	}

	nodes := g.Nodes()
	ids := make(map[storage.NodeID]int64, len(nodes))
	wg := simple.NewWeightedUndirectedGraph(0, 0)
	for i, id := range nodes {
		ids[id] = int64(i)
		wg.AddNode(simple.Node(i))
	}
	g.EachEdge(func(a, b storage.NodeID, w float64) {
		wg.SetWeightedEdge(wg.NewWeightedEdge(simple.Node(ids[a]), simple.Node(ids[b]), w))
	})

	members := make(map[int][]graph.Node)
	for _, id := range nodes {
		c, ok := comms[id]
		if !ok {
			continue
		}
		members[c] = append(members[c], simple.Node(ids[id]))
	}
	partition := make([][]graph.Node, 0, len(members))
	sizes := make([]int, 0, len(members))
	for _, m := range members {
		partition = append(partition, m)
		sizes = append(sizes, len(m))
	}

	if q := community.Q(wg, partition, 1); !math.IsNaN(q) {
		ev.Modularity = q
	}
	ev.NumCommunities = len(partition)

	intra, total := 0, 0
	g.EachEdge(func(a, b storage.NodeID, _ float64) {
		total++
		ca, okA := comms[a]
		cb, okB := comms[b]
		if okA && okB && ca == cb {
			intra++
		}
	})
	ev.Coverage = float64(intra) / float64(total)

	sort.Sort(sort.Reverse(sort.IntSlice(sizes)))
	ev.LargestSize = sizes[0]
	ev.MedianSize = median(sizes)
	return ev
}

func median(sorted []int) int {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// EvaluatePageRank measures how unequal the ranking is.
func EvaluatePageRank(ranks map[storage.NodeID]float64) PageRankEvaluation {
	n := len(ranks)
	ev := PageRankEvaluation{NodeCount: n}
	if n == 0 {
		return ev
	}

	values := make([]float64, 0, n)
	for _, v := range ranks {
		values = append(values, v)
	}
	sort.Float64s(values)

	mean := stat.Mean(values, nil)
	total := mean * float64(n)
	if mean > 0 {
		var acc float64
		for i, v := range values {
			acc += float64(2*(i+1)-n-1) * v
		}
		ev.Gini = acc / (float64(n) * float64(n) * mean)
	}

	if total > 0 {
		p := make([]float64, n)
		for i, v := range values {
			p[i] = v / total
		}
		if n > 1 {
			ev.Entropy = stat.Entropy(p) / math.Log(float64(n))
		}

		k := algo.HubCount(n, 0.1)
		var top float64
		for _, v := range values[n-k:] {
			top += v
		}
		ev.Top10Pct = top / total
	}
	return ev
}

// EvaluateHubs summarizes the hub list, which must be sorted by degree.
func EvaluateHubs(hubs []algo.Hub) HubEvaluation {
	var ev HubEvaluation
	if len(hubs) == 0 {
		return ev
	}
	degrees := make([]float64, len(hubs))
	var total float64
	for i, h := range hubs {
		degrees[i] = float64(h.Degree)
		total += degrees[i]
	}
	ev.HubCount = len(hubs)
	ev.MaxDegree = hubs[0].Degree
	ev.MeanDegree = stat.Mean(degrees, nil)
	if total > 0 {
		ev.Concentration = float64(ev.MaxDegree) / total
	}
	return ev
}

// EvaluateAnomalies counts anomalies by type.
func EvaluateAnomalies(anomalies map[storage.NodeID]algo.Anomaly) AnomalyEvaluation {
	ev := AnomalyEvaluation{TotalCount: len(anomalies)}
	if len(anomalies) == 0 {
		return ev
	}
	scores := make([]float64, 0, len(anomalies))
	for _, a := range anomalies {
		switch a.Type {
		case algo.AnomalyProlificEditor:
			ev.ProlificEditors++
		case algo.AnomalyCoordinatedEdit:
			ev.CoordinatedEdits++
		}
		scores = append(scores, a.Score)
	}
	ev.AvgScore = stat.Mean(scores, nil)
	return ev
}
