package retrieval

import (
	"math"
	"sort"

	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

type candidate struct {
	hit       vectorstore.Hit
	relevance float64
	recency   float64
	total     float64
}

// mmrScore is lambda*total - (1-lambda)*maxSim. For a fixed total it is
// non-increasing in maxSim.
func mmrScore(total, maxSim, lambda float64) float64 {
	return lambda*total - (1-lambda)*maxSim
}

// preferred reports whether a ranks ahead of b on equal primary value:
// larger total, then larger recency, then smaller id.
func preferred(a, b candidate) bool {
	if a.total != b.total {
		return a.total > b.total
	}
	if a.recency != b.recency {
		return a.recency > b.recency
	}
	return a.hit.ID < b.hit.ID
}

// selectMMR greedily picks up to k candidates. The first pick carries no
// similarity penalty. A candidate whose content equals an already picked
// one is dropped.
func selectMMR(pool []candidate, k int, lambda float64) []candidate {
	remaining := make([]candidate, len(pool))
	copy(remaining, pool)

	selected := make([]candidate, 0, min(k, len(pool)))
	seen := make(map[string]bool, k)
	for len(selected) < k && len(remaining) > 0 {
		best, bestVal := -1, 0.0
		for i, c := range remaining {
			sim := 0.0
			if len(selected) > 0 {
				sim = maxSimilarity(c, selected)
			}
			val := mmrScore(c.total, sim, lambda)
			if best < 0 || val > bestVal || (val == bestVal && preferred(c, remaining[best])) {
				best, bestVal = i, val
			}
		}

		pick := remaining[best]
		remaining = append(remaining[:best], remaining[best+1:]...)
		if seen[pick.hit.Content] {
			continue
		}
		seen[pick.hit.Content] = true
		selected = append(selected, pick)
	}
	return selected
}

// maxSimilarity is the raw maximum cosine similarity to the picks, which
// may be negative. It is 0 when nothing is picked yet.
func maxSimilarity(c candidate, selected []candidate) float64 {
	if len(selected) == 0 {
		return 0
	}
	best := math.Inf(-1)
	for _, s := range selected {
		if sim := vectorstore.CosineSimilarity(c.hit.Embedding, s.hit.Embedding); sim > best {
			best = sim
		}
	}
	return best
}

// sortByScore orders picks by total descending with the same tie-breaks
// as selection.
func sortByScore(cs []candidate) {
	sort.SliceStable(cs, func(i, j int) bool { return preferred(cs[i], cs[j]) })
}
