package retrieval

import (
	"testing"

	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cand(id, content string, total, rec float64, emb ...float32) candidate {
	return candidate{
		hit: vectorstore.Hit{
			Document:  vectorstore.Document{ID: id, Content: content},
			Embedding: emb,
		},
		total:   total,
		recency: rec,
	}
}

func ids(cs []candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.hit.ID
	}
	return out
}

func TestSelectMMR_PrefersDiversity(t *testing.T) {
	pool := []candidate{
		cand("a", "espresso every morning", 0.90, 0.5, 1, 0),
		cand("b", "espresso each morning", 0.85, 0.5, 1, 0),
		cand("c", "walks the dog at noon", 0.70, 0.5, 0, 1),
	}
	got := selectMMR(pool, 2, 0.7)
	assert.Equal(t, []string{"a", "c"}, ids(got))

	got = selectMMR(pool, 3, 0.7)
	assert.Equal(t, []string{"a", "c", "b"}, ids(got))
}

func TestSelectMMR_NegativeSimilarityIsNotClamped(t *testing.T) {
	picked := []candidate{cand("a", "likes tea", 0.9, 0.5, 1, 0)}
	assert.InDelta(t, -1.0, maxSimilarity(cand("b", "hates tea", 0.5, 0.5, -1, 0), picked), 1e-9)
	assert.Zero(t, maxSimilarity(cand("b", "hates tea", 0.5, 0.5, -1, 0), nil))

	pool := []candidate{
		picked[0],
		cand("b", "hates tea", 0.50, 0.5, -1, 0),
		cand("c", "walks the dog", 0.55, 0.5, 0, 1),
	}
	got := selectMMR(pool, 2, 0.5)
	assert.Equal(t, []string{"a", "b"}, ids(got))
}

func TestSelectMMR_DropsIdenticalContent(t *testing.T) {
	pool := []candidate{
		cand("a", "likes coffee", 0.9, 0.5, 1, 0),
		cand("b", "likes coffee", 0.8, 0.9, 0, 1),
		cand("c", "likes tea", 0.5, 0.5, 0, 1),
	}
	got := selectMMR(pool, 3, 0.7)
	assert.Equal(t, []string{"a", "c"}, ids(got))
}

func TestSelectMMR_TieBreaks(t *testing.T) {
	t.Run("fresher wins", func(t *testing.T) {
		pool := []candidate{
			cand("a", "one", 0.8, 0.2),
			cand("b", "two", 0.8, 0.9),
		}
		assert.Equal(t, []string{"b", "a"}, ids(selectMMR(pool, 2, 0.7)))
	})
	t.Run("smaller id wins", func(t *testing.T) {
		pool := []candidate{
			cand("b", "one", 0.8, 0.5),
			cand("a", "two", 0.8, 0.5),
		}
		assert.Equal(t, []string{"a", "b"}, ids(selectMMR(pool, 2, 0.7)))
	})
}

func TestSelectMMR_Edges(t *testing.T) {
	assert.Empty(t, selectMMR(nil, 5, 0.7))
	pool := []candidate{cand("a", "x", 0.5, 0.5)}
	require.Len(t, selectMMR(pool, 5, 0.7), 1)
	assert.Empty(t, selectMMR(pool, 0, 0.7))
}

func TestMMRScore_MonotonicInSimilarity(t *testing.T) {
	for _, lambda := range []float64{0, 0.3, 0.7, 1} {
		prev := mmrScore(0.8, 0, lambda)
		for sim := 0.05; sim <= 1.0; sim += 0.05 {
			cur := mmrScore(0.8, sim, lambda)
			assert.LessOrEqual(t, cur, prev, "lambda=%v sim=%v", lambda, sim)
			prev = cur
		}
	}
}

func TestSortByScore(t *testing.T) {
	cs := []candidate{
		cand("c", "", 0.5, 0.1),
		cand("a", "", 0.9, 0.1),
		cand("b", "", 0.5, 0.7),
	}
	sortByScore(cs)
	assert.Equal(t, []string{"a", "b", "c"}, ids(cs))
}
