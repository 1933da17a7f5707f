package memory

import "sort"

// rrfK is the Reciprocal Rank Fusion constant from the recall formula:
// score(m) = Σ 1/(k + rank_source(m)).
const rrfK = 60

// fuse merges ranked id lists from independent recall sources (vector
// search, full-text search, ...) into a single ranking via Reciprocal
// Rank Fusion. Each input slice must already be sorted best-first; rank
// is 1-indexed. Ids absent from a source simply contribute 0 from it.
func fuse(rankedLists ...[]string) []string {
	order, _ := fuseScored(rankedLists...)
	return order
}

// fuseScored merges rankedLists via Reciprocal Rank Fusion and returns
// both the fused order and each id's score, so Recall can thread scores
// through filtering without a second pass.
func fuseScored(rankedLists ...[]string) ([]string, map[string]float64) {
	scores := make(map[string]float64)
	order := make([]string, 0)
	seen := make(map[string]bool)

	for _, ranked := range rankedLists {
		for i, id := range ranked {
			rank := i + 1
			scores[id] += 1.0 / float64(rrfK+rank)
			if !seen[id] {
				seen[id] = true
				order = append(order, id)
			}
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})
	return order, scores
}
