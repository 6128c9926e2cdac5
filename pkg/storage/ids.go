package storage

const (
	coeditPrefix     = "co:"
	wikiDomainPrefix = "wd:"
	pairSeparator    = "|"
)

// EditorID returns the node id for a user name.
func EditorID(user string) NodeID { return NodeID("editor:" + user) }

// ArticleID returns the node id for an article title.
func ArticleID(title string) NodeID { return NodeID("article:" + title) }

// WikiID returns the node id for a wiki name.
func WikiID(wiki string) NodeID { return NodeID("wiki:" + wiki) }

// BipartiteEdgeID returns the id of the directed editor→article edge.
func BipartiteEdgeID(editor, article NodeID) EdgeID {
	return EdgeID(string(editor) + pairSeparator + string(article))
}

// CoeditEdgeID returns the id of the undirected article↔article edge.
// The result does not depend on argument order.
func CoeditEdgeID(a, b NodeID) EdgeID {
	return pairID(coeditPrefix, a, b)
}

// WikiDomainEdgeID returns the id of the undirected wiki↔wiki edge.
// The result does not depend on argument order.
func WikiDomainEdgeID(a, b NodeID) EdgeID {
	return pairID(wikiDomainPrefix, a, b)
}

func pairID(prefix string, a, b NodeID) EdgeID {
	lo, hi := sortedPair(a, b)
	return EdgeID(prefix + string(lo) + pairSeparator + string(hi))
}

func sortedPair(a, b NodeID) (NodeID, NodeID) {
	if b < a {
		return b, a
	}
	return a, b
}
