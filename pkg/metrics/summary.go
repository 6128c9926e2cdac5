package metrics

import (
	"sort"
	"strings"
	"time"

	"github.com/orneryd/wikigraph/pkg/storage"
)

// Source is the read-only surface of the store Summarize needs. Activity
// must return a single consistent read.
type Source interface {
	Activity(editsFrom, articlesFrom time.Time) storage.Activity
}

// SummaryOptions tunes the derived heuristics.
type SummaryOptions struct {
	// TopN bounds the article and editor rankings.
	TopN int
	// BurstWindow and BurstThreshold flag articles with at least
	// BurstThreshold edits in the trailing BurstWindow.
	BurstWindow    time.Duration
	BurstThreshold int
	// EditWarWindow is the trailing window scanned for revert comments.
	EditWarWindow time.Duration
	// MinEditors and MinReverts gate edit-war candidates.
	MinEditors int
	MinReverts int
	// RevertKeywords are matched case-insensitively against edit comments.
	RevertKeywords []string
}

// DefaultSummaryOptions returns the standard heuristics.
func DefaultSummaryOptions() SummaryOptions {
	return SummaryOptions{
		TopN:           10,
		BurstWindow:    time.Minute,
		BurstThreshold: 5,
		EditWarWindow:  10 * time.Minute,
		MinEditors:     2,
		MinReverts:     2,
		RevertKeywords: []string{"revert", "undid", "undo", "rv ", "rvv", "rollback"},
	}
}

// Ranked is one entry of a top-N list.
type Ranked struct {
	ID    storage.NodeID `json:"id"`
	Label string         `json:"label"`
	Count int            `json:"count"`
}

// EditWar is an article showing a revert pattern across several editors.
type EditWar struct {
	Article  storage.NodeID `json:"article"`
	Title    string         `json:"title"`
	Editors  []string       `json:"editors"`
	Edits    int            `json:"edits"`
	Reverts  int            `json:"reverts"`
	Severity string         `json:"severity"`
}

// Summary is the aggregate view over the store.
type Summary struct {
	Nodes          int                  `json:"nodes"`
	Edges          int                  `json:"edges"`
	NodesByKind    map[storage.Kind]int `json:"nodesByKind"`
	EdgesByView    map[storage.View]int `json:"edgesByView"`
	EditsPerMinute int                  `json:"editsPerMinute"`
	TopArticles    []Ranked             `json:"topArticles"`
	TopEditors     []Ranked             `json:"topEditors"`
	Bursts         []Ranked             `json:"bursts"`
	EditWars       []EditWar            `json:"editWars"`
	GeneratedAt    time.Time            `json:"generatedAt"`
}

// Summarize computes the derived metrics at now from one Activity read of
// src, so counts, rankings and heuristics agree with each other.
//
// Example:
//
//	sum := metrics.Summarize(store, clock.Now(), metrics.DefaultSummaryOptions())
//	fmt.Printf("%d edits/min, %d bursting\n", sum.EditsPerMinute, len(sum.Bursts))
func Summarize(src Source, now time.Time, opts SummaryOptions) Summary {
	act := src.Activity(now.Add(-time.Minute), now.Add(-opts.BurstWindow))
	stats := act.Stats
	view := act.View

	sum := Summary{
		Nodes:          stats.Nodes,
		Edges:          stats.Edges,
		NodesByKind:    stats.NodesByKind,
		EdgesByView:    stats.EdgesByView,
		EditsPerMinute: len(act.EditTimes),
		GeneratedAt:    now,
	}

	var articles, editors []Ranked
	for id, n := range view.Nodes {
		r := Ranked{ID: id, Label: n.Label, Count: n.EditCount}
		switch n.Kind {
		case storage.KindArticle:
			articles = append(articles, r)
		case storage.KindEditor:
			editors = append(editors, r)
		}
	}
	sum.TopArticles = topN(articles, opts.TopN)
	sum.TopEditors = topN(editors, opts.TopN)

	var bursts []Ranked
	for id, seq := range act.ArticleEdits {
		if len(seq) >= opts.BurstThreshold {
			bursts = append(bursts, Ranked{ID: id, Label: view.Label(id), Count: len(seq)})
		}
	}
	sum.Bursts = topN(bursts, len(bursts))

	sum.EditWars = detectEditWars(act.Events, now.Add(-opts.EditWarWindow), opts)
	return sum
}

func topN(items []Ranked, n int) []Ranked {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return items[i].ID < items[j].ID
	})
	if n < len(items) {
		items = items[:n]
	}
	if items == nil {
		return []Ranked{}
	}
	return items
}

type articleActivity struct {
	title   string
	editors map[string]struct{}
	edits   int
	reverts int
}

func detectEditWars(events []storage.RecordedEvent, cutoff time.Time, opts SummaryOptions) []EditWar {
	byArticle := make(map[storage.NodeID]*articleActivity)
	for _, ev := range events {
		if ev.ReceivedAt.Before(cutoff) {
			continue
		}
		id := storage.ArticleID(ev.Title)
		a, ok := byArticle[id]
		if !ok {
			a = &articleActivity{title: ev.Title, editors: make(map[string]struct{})}
			byArticle[id] = a
		}
		a.edits++
		a.editors[ev.User] = struct{}{}
		if IsRevert(ev.Comment, opts.RevertKeywords) {
			a.reverts++
		}
	}

	wars := []EditWar{}
	for id, a := range byArticle {
		if len(a.editors) < opts.MinEditors || a.reverts < opts.MinReverts {
			continue
		}
		editors := make([]string, 0, len(a.editors))
		for e := range a.editors {
			editors = append(editors, e)
		}
		sort.Strings(editors)
		wars = append(wars, EditWar{
			Article:  id,
			Title:    a.title,
			Editors:  editors,
			Edits:    a.edits,
			Reverts:  a.reverts,
			Severity: Severity(len(editors), a.reverts),
		})
	}
	sort.Slice(wars, func(i, j int) bool {
		if wars[i].Reverts != wars[j].Reverts {
			return wars[i].Reverts > wars[j].Reverts
		}
		return wars[i].Article < wars[j].Article
	})
	return wars
}

// IsRevert reports whether comment contains any of keywords, ignoring case.
func IsRevert(comment string, keywords []string) bool {
	if comment == "" {
		return false
	}
	c := strings.ToLower(comment) + " "
	for _, k := range keywords {
		if strings.Contains(c, k) {
			return true
		}
	}
	return false
}

// Severity grades an edit war by the number of editors and reverts.
func Severity(editors, reverts int) string {
	switch {
	case editors > 5 || reverts > 10:
		return "critical"
	case editors > 3 || reverts > 5:
		return "high"
	case editors > 2 || reverts > 3:
		return "medium"
	default:
		return "low"
	}
}
