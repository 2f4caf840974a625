package retrieval

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/record"
	"github.com/fyrsmithlabs/memoryd/internal/reranker"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store *record.Store
	index vectorstore.Index
}

func newHarness(t *testing.T, emb vectorstore.Embedder) *harness {
	t.Helper()
	store, err := record.NewStore(t.TempDir())
	require.NoError(t, err)
	if emb == nil {
		emb = &vectorstore.HashEmbedder{Dim: 1024}
	}
	idx, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{}, emb, nil)
	require.NoError(t, err)
	return &harness{store: store, index: idx}
}

func (h *harness) add(t *testing.T, id, scope string, kind record.Kind, content string, age time.Duration) {
	t.Helper()
	require.NoError(t, h.index.Upsert(context.Background(), []vectorstore.Document{{
		ID: id, Scope: scope, Kind: string(kind), Content: content, CreatedAt: now.Add(-age),
	}}))
}

func (h *harness) engine(scorer reranker.Scorer, mutate func(*Config)) *Engine {
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewEngine(h.store, h.index, scorer, cfg, WithClock(func() time.Time { return now }))
}

const day = 24 * time.Hour

func TestRetrieve_RanksPrunesAndDeduplicates(t *testing.T) {
	h := newHarness(t, nil)
	h.add(t, "f1", "s1", record.KindFact, "coffee preference: espresso", 1*day)
	h.add(t, "f2", "s1", record.KindFact, "user owns a dog", 1*day)
	h.add(t, "f3", "s1", record.KindUserTurn, "any coffee shop downtown?", 2*day)
	h.add(t, "g1", record.GlobalScope, record.KindFact, "coffee preference: espresso", 0)
	h.add(t, "g2", record.GlobalScope, record.KindFact, "coffee preference: flat white", 40*day)

	e := h.engine(reranker.NewLexicalScorer(), func(c *Config) { c.IncludeSummary = false })
	got := e.Retrieve(context.Background(), "coffee preference", "s1", 5)
	require.NotEmpty(t, got)

	ids := map[string]bool{}
	contents := map[string]bool{}
	for i, s := range got {
		assert.False(t, ids[s.Record.ID], "duplicate id %s", s.Record.ID)
		assert.False(t, contents[s.Record.Content], "duplicate content %q", s.Record.Content)
		ids[s.Record.ID] = true
		contents[s.Record.Content] = true

		assert.GreaterOrEqual(t, s.Relevance, 0.35)
		assert.GreaterOrEqual(t, s.Score, 0.0)
		assert.LessOrEqual(t, s.Score, 1.0)
		assert.Equal(t, s.Total, s.Score)
		if i > 0 {
			assert.GreaterOrEqual(t, got[i-1].Score, s.Score)
		}
	}

	assert.False(t, ids["f2"], "irrelevant fact must be pruned")
	assert.True(t, ids["g2"], "global pool must be searched")
	assert.True(t, contents["coffee preference: espresso"])
	assert.LessOrEqual(t, len(got), 5)

	// The fresher copy of identical content wins.
	assert.Equal(t, "g1", got[0].Record.ID)
	assert.Equal(t, record.GlobalScope, got[0].Record.Scope)
}

func TestRetrieve_TopKBound(t *testing.T) {
	h := newHarness(t, nil)
	for i, c := range []string{"coffee beans arabica", "coffee beans robusta", "coffee beans blend", "coffee beans roast"} {
		h.add(t, string(rune('a'+i)), "s1", record.KindFact, c, time.Duration(i)*day)
	}
	e := h.engine(reranker.NewLexicalScorer(), func(c *Config) { c.IncludeSummary = false })

	got := e.Retrieve(context.Background(), "coffee beans", "s1", 2)
	assert.Len(t, got, 2)

	// topK <= 0 uses the configured default.
	got = e.Retrieve(context.Background(), "coffee beans", "s1", 0)
	assert.Len(t, got, 4)
}

func TestRetrieve_AppendsSummary(t *testing.T) {
	h := newHarness(t, nil)
	h.add(t, "f1", "s1", record.KindFact, "coffee preference: espresso", day)
	sum, err := h.store.Create(context.Background(), "s1", record.KindSummary, "the user talks about coffee a lot")
	require.NoError(t, err)

	e := h.engine(reranker.NewLexicalScorer(), nil)
	got := e.Retrieve(context.Background(), "coffee preference", "s1", 3)
	require.Len(t, got, 2)

	last := got[len(got)-1]
	assert.Equal(t, record.KindSummary, last.Record.Kind)
	assert.Equal(t, sum.ID, last.Record.ID)
	assert.Zero(t, last.Score)
}

type failingScorer struct{}

func (failingScorer) Score(context.Context, string, []string) ([]float64, error) {
	return nil, errors.New("reranker unreachable")
}
func (failingScorer) Close() error { return nil }

type shortScorer struct{}

func (shortScorer) Score(context.Context, string, []string) ([]float64, error) {
	return []float64{1}, nil
}
func (shortScorer) Close() error { return nil }

func TestRetrieve_FailsSoft(t *testing.T) {
	t.Run("embedding down", func(t *testing.T) {
		emb := &vectorstore.HashEmbedder{Dim: 64}
		h := newHarness(t, emb)
		h.add(t, "f1", "s1", record.KindFact, "coffee", 0)
		emb.Err = errors.New("tei down")

		e := h.engine(reranker.NewLexicalScorer(), func(c *Config) { c.IncludeSummary = false })
		assert.Empty(t, e.Retrieve(context.Background(), "coffee", "s1", 5))
	})

	t.Run("scorer down", func(t *testing.T) {
		h := newHarness(t, nil)
		h.add(t, "f1", "s1", record.KindFact, "coffee", 0)
		e := h.engine(failingScorer{}, func(c *Config) { c.IncludeSummary = false })
		assert.Empty(t, e.Retrieve(context.Background(), "coffee", "s1", 5))
	})

	t.Run("scorer miscounts", func(t *testing.T) {
		h := newHarness(t, nil)
		h.add(t, "f1", "s1", record.KindFact, "coffee", 0)
		h.add(t, "f2", "s1", record.KindFact, "tea", 0)
		e := h.engine(shortScorer{}, func(c *Config) { c.IncludeSummary = false })
		assert.Empty(t, e.Retrieve(context.Background(), "coffee", "s1", 5))
	})

	t.Run("summary survives failure", func(t *testing.T) {
		h := newHarness(t, nil)
		h.add(t, "f1", "s1", record.KindFact, "coffee", 0)
		_, err := h.store.Create(context.Background(), "s1", record.KindSummary, "summary")
		require.NoError(t, err)
		e := h.engine(failingScorer{}, nil)
		got := e.Retrieve(context.Background(), "coffee", "s1", 5)
		require.Len(t, got, 1)
		assert.Equal(t, record.KindSummary, got[0].Record.Kind)
	})
}

func TestCandidates_MergesScopesByID(t *testing.T) {
	h := newHarness(t, nil)
	h.add(t, "x", "s1", record.KindFact, "coffee", 0)
	h.add(t, "x", record.GlobalScope, record.KindFact, "coffee", 0)
	h.add(t, "y", "s1", record.KindSummary, "coffee summary", 0)
	h.add(t, "z", "s1", record.KindAssistantTurn, "coffee is great", 0)

	e := h.engine(reranker.NewLexicalScorer(), nil)
	hits, err := e.Candidates(context.Background(), "coffee", "s1", 10, record.KindFact, record.KindAssistantTurn)
	require.NoError(t, err)

	var ids []string
	for _, hit := range hits {
		ids = append(ids, hit.ID)
	}
	assert.ElementsMatch(t, []string{"x", "z"}, ids)
}

func TestRecency(t *testing.T) {
	assert.InDelta(t, 1.0, recency(now, now, 30), 1e-12)
	assert.InDelta(t, math.Exp(-1), recency(now, now.Add(-30*day), 30), 1e-9)
	assert.InDelta(t, 1.0, recency(now, now.Add(time.Hour), 30), 1e-12)
	assert.Greater(t, recency(now, now.Add(-day), 30), recency(now, now.Add(-2*day), 30))
}
