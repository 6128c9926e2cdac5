package algo

import (
	"fmt"
	"math"
	"time"

	"github.com/orneryd/wikigraph/pkg/storage"
)

// AnomalyType names the rule that flagged a node.
type AnomalyType string

const (
	// AnomalyProlificEditor flags editors touching many articles.
	AnomalyProlificEditor AnomalyType = "prolific_editor"
	// AnomalyCoordinatedEdit flags articles touched by many editors.
	AnomalyCoordinatedEdit AnomalyType = "coordinated_edit"
)

// Anomaly is one flagged node. Score is a bounded severity in [0,1], not a
// probability.
type Anomaly struct {
	Type    AnomalyType `json:"type"`
	Score   float64     `json:"score"`
	Details string      `json:"details"`
}

// AnomalyOptions holds the thresholds. A count must strictly exceed its
// threshold to be flagged, and scores are count/scale capped at 1.
type AnomalyOptions struct {
	Window           time.Duration
	EditorThreshold  int
	EditorScale      float64
	ArticleThreshold int
	ArticleScale     float64
}

// DefaultAnomalyOptions returns the standard thresholds: more than 10
// distinct articles per editor or more than 8 distinct editors per article
// within the trailing 5 minutes.
func DefaultAnomalyOptions() AnomalyOptions {
	return AnomalyOptions{
		Window:           5 * time.Minute,
		EditorThreshold:  10,
		EditorScale:      20,
		ArticleThreshold: 8,
		ArticleScale:     15,
	}
}

// Anomalies applies the threshold heuristics to bipartite edges with
// LastSeen ≥ now - opts.Window.
//
// Each bipartite edge is one distinct (editor, article) pair, so counting
// recent edges per endpoint gives distinct-article counts per editor and
// distinct-editor counts per article. A node appears at most once, under the
// rule for its side of the edge.
//
// Example:
//
//	flagged := algo.Anomalies(view, time.Now(), algo.DefaultAnomalyOptions())
//	for id, a := range flagged {
//		fmt.Printf("%s %s %.2f\n", id, a.Type, a.Score)
//	}
func Anomalies(view storage.GraphView, now time.Time, opts AnomalyOptions) map[storage.NodeID]Anomaly {
	cutoff := now.Add(-opts.Window)
	articlesPerEditor := make(map[storage.NodeID]int)
	editorsPerArticle := make(map[storage.NodeID]int)
	for _, e := range view.Edges {
		if e.View != storage.ViewBipartite || e.LastSeen.Before(cutoff) {
			continue
		}
		articlesPerEditor[e.Source]++
		editorsPerArticle[e.Target]++
	}

	out := make(map[storage.NodeID]Anomaly)
	for id, c := range articlesPerEditor {
		if c > opts.EditorThreshold {
			out[id] = Anomaly{
				Type:    AnomalyProlificEditor,
				Score:   boundedScore(c, opts.EditorScale),
				Details: fmt.Sprintf("%s edited %d articles in the last %s", view.Label(id), c, opts.Window),
			}
		}
	}
	for id, c := range editorsPerArticle {
		if c > opts.ArticleThreshold {
			out[id] = Anomaly{
				Type:    AnomalyCoordinatedEdit,
				Score:   boundedScore(c, opts.ArticleScale),
				Details: fmt.Sprintf("%s edited by %d editors in the last %s", view.Label(id), c, opts.Window),
			}
		}
	}
	return out
}

func boundedScore(count int, scale float64) float64 {
	if scale <= 0 {
		return 1
	}
	return math.Min(float64(count)/scale, 1)
}
