// Package retrieval ranks stored memories for an in-flight conversation
// turn. Candidates come from dense search over the turn's scope and the
// global scope, are scored by a cross-encoder, blended with recency and
// finally picked with maximal marginal relevance so near-duplicates do not
// crowd the context window.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/record"
	"github.com/fyrsmithlabs/memoryd/internal/reranker"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("memoryd.retrieval")

// rankedKinds are the kinds eligible for scoring. Summaries are appended
// separately.
var rankedKinds = []record.Kind{record.KindFact, record.KindUserTurn, record.KindAssistantTurn}

// Config holds ranking parameters.
type Config struct {
	TopK                int
	CandidateMultiplier int
	RelevanceThreshold  float64
	RecencyDecayDays    float64
	RecencyWeight       float64
	MMRLambda           float64
	IncludeSummary      bool
}

// DefaultConfig returns the stock ranking parameters.
func DefaultConfig() Config {
	return Config{
		TopK:                5,
		CandidateMultiplier: 3,
		RelevanceThreshold:  0.35,
		RecencyDecayDays:    30,
		RecencyWeight:       0.2,
		MMRLambda:           0.7,
		IncludeSummary:      true,
	}
}

// FromAppConfig converts the application config section.
func FromAppConfig(c config.RetrievalConfig) Config {
	return Config{
		TopK:                c.TopK,
		CandidateMultiplier: c.CandidateMultiplier,
		RelevanceThreshold:  c.RelevanceThreshold,
		RecencyDecayDays:    c.RecencyDecayDays,
		RecencyWeight:       c.RecencyWeight,
		MMRLambda:           c.MMRLambda,
		IncludeSummary:      c.IncludeSummary,
	}
}

// Scored is a ranked record. Score equals Total for ranked entries and is
// zero for an appended summary.
type Scored struct {
	Record    *record.Record
	Relevance float64
	Recency   float64
	Total     float64
	Score     float64
}

// Engine ranks memories.
type Engine struct {
	store   *record.Store
	index   vectorstore.Index
	scorer  reranker.Scorer
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
	metrics *metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the clock used for recency.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine.
func NewEngine(store *record.Store, index vectorstore.Index, scorer reranker.Scorer, cfg Config, opts ...Option) *Engine {
	d := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = d.TopK
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = d.CandidateMultiplier
	}
	if cfg.RecencyDecayDays <= 0 {
		cfg.RecencyDecayDays = d.RecencyDecayDays
	}
	e := &Engine{
		store:   store,
		index:   index,
		scorer:  scorer,
		cfg:     cfg,
		logger:  zap.NewNop(),
		now:     time.Now,
		metrics: newMetrics(otel.Meter(instrumentationName)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve returns at most topK ranked records for query, followed by the
// scope's live summary when enabled. topK <= 0 selects the configured
// default. Collaborator failures are logged and yield no ranked entries;
// this method never fails.
func (e *Engine) Retrieve(ctx context.Context, query, scope string, topK int) []Scored {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Engine.Retrieve")
	defer span.End()

	if topK <= 0 {
		topK = e.cfg.TopK
	}
	span.SetAttributes(attribute.String("scope", scope), attribute.Int("top_k", topK))

	ranked, candidates, err := e.rank(ctx, query, scope, topK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("retrieval degraded to empty result",
			zap.String("scope", scope),
			zap.String("operation", "retrieve"),
			zap.Error(err))
		ranked = nil
	}

	if e.cfg.IncludeSummary {
		if sum := e.summary(scope); sum != nil {
			ranked = append(ranked, Scored{Record: sum})
		}
	}

	e.metrics.record(ctx, scope, time.Since(start), candidates, len(ranked), err)
	span.SetAttributes(attribute.Int("results_count", len(ranked)))
	return ranked
}

// Candidates runs plain similarity search over scope and, when different,
// the global scope, k hits each, merged and deduplicated by id with the
// higher similarity kept. Results are ordered by similarity.
func (e *Engine) Candidates(ctx context.Context, query, scope string, k int, kinds ...record.Kind) ([]vectorstore.Hit, error) {
	kindNames := make([]string, len(kinds))
	for i, kd := range kinds {
		kindNames[i] = string(kd)
	}

	scopes := []string{scope}
	if scope != record.GlobalScope {
		scopes = append(scopes, record.GlobalScope)
	}

	byID := make(map[string]vectorstore.Hit)
	for _, s := range scopes {
		hits, err := e.index.Search(ctx, s, query, k, kindNames...)
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", s, err)
		}
		for _, h := range hits {
			if prev, ok := byID[h.ID]; ok && prev.Similarity >= h.Similarity {
				continue
			}
			byID[h.ID] = h
		}
	}

	out := make([]vectorstore.Hit, 0, len(byID))
	for _, h := range byID {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (e *Engine) rank(ctx context.Context, query, scope string, topK int) ([]Scored, int, error) {
	hits, err := e.Candidates(ctx, query, scope, topK*e.cfg.CandidateMultiplier, rankedKinds...)
	if err != nil {
		return nil, 0, err
	}
	if len(hits) == 0 {
		return nil, 0, nil
	}

	docs := make([]string, len(hits))
	for i, h := range hits {
		docs[i] = h.Content
	}
	logits, err := e.scorer.Score(ctx, query, docs)
	if err != nil {
		return nil, len(hits), fmt.Errorf("score candidates: %w", err)
	}
	if len(logits) != len(hits) {
		return nil, len(hits), errors.New("score candidates: scorer returned wrong number of scores")
	}

	now := e.now()
	w := e.cfg.RecencyWeight
	pool := make([]candidate, 0, len(hits))
	for i, h := range hits {
		rel := reranker.Sigmoid(logits[i])
		if rel < e.cfg.RelevanceThreshold {
			continue
		}
		rec := recency(now, h.CreatedAt, e.cfg.RecencyDecayDays)
		pool = append(pool, candidate{
			hit:       h,
			relevance: rel,
			recency:   rec,
			total:     (1-w)*rel + w*rec,
		})
	}

	picked := selectMMR(pool, topK, e.cfg.MMRLambda)
	sortByScore(picked)

	out := make([]Scored, len(picked))
	for i, c := range picked {
		out[i] = Scored{
			Record:    hitRecord(c.hit),
			Relevance: c.relevance,
			Recency:   c.recency,
			Total:     c.total,
			Score:     c.total,
		}
	}
	return out, len(hits), nil
}

// summary returns the newest live summary in scope, or nil.
func (e *Engine) summary(scope string) *record.Record {
	sums, err := e.store.List(scope, record.KindSummary)
	if err != nil {
		e.logger.Warn("listing summaries", zap.String("scope", scope), zap.Error(err))
		return nil
	}
	if len(sums) == 0 {
		return nil
	}
	return sums[len(sums)-1]
}

// recency is exp(-age_days/decayDays). Future timestamps count as age 0.
func recency(now, created time.Time, decayDays float64) float64 {
	age := now.Sub(created).Hours() / 24
	if age < 0 {
		age = 0
	}
	return math.Exp(-age / decayDays)
}

func hitRecord(h vectorstore.Hit) *record.Record {
	return &record.Record{
		ID:        h.ID,
		Scope:     h.Scope,
		Kind:      record.Kind(h.Kind),
		CreatedAt: h.CreatedAt,
		Content:   h.Content,
	}
}
