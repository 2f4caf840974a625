package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/record"
	"go.uber.org/zap"
)

// Indexer keeps the vector index in step with the store.
type Indexer interface {
	Apply(ctx context.Context, rec *record.Record) error
	Remove(ctx context.Context, scope, id string) error
}

// Roller maintains the single rolling summary of a scope.
type Roller struct {
	store  *record.Store
	index  Indexer
	engine *Engine
	logger *zap.Logger
}

// NewRoller creates a Roller.
func NewRoller(store *record.Store, index Indexer, engine *Engine, logger *zap.Logger) *Roller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Roller{store: store, index: index, engine: engine, logger: logger}
}

var rollKinds = []record.Kind{record.KindUserTurn, record.KindAssistantTurn, record.KindFact}

// Roll summarizes the live turns and facts of scope into a new summary
// record that supersedes the previous one. It returns nil when the scope
// has nothing to summarize. On error the previous summary stays live.
func (r *Roller) Roll(ctx context.Context, scope string) (*record.Record, error) {
	recs, err := r.store.List(scope, rollKinds...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	priors, err := r.store.List(scope, record.KindSummary)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	var prior string
	if len(priors) > 0 {
		prior = priors[len(priors)-1].Content
	}

	res, err := r.engine.Summarize(ctx, transcript(recs), prior, 0)
	if err != nil {
		return nil, err
	}

	next, err := r.store.Create(ctx, scope, record.KindSummary, res.Summary)
	if err != nil {
		return nil, fmt.Errorf("create summary: %w", err)
	}
	for _, old := range priors {
		if err := r.index.Remove(ctx, scope, old.ID); err != nil {
			r.logger.Warn("deindexing old summary",
				zap.String("scope", scope),
				zap.String("id", old.ID),
				zap.Error(err))
		}
		if _, err := r.store.Tombstone(ctx, scope, old.ID, next.ID); err != nil {
			r.logger.Warn("tombstoning old summary",
				zap.String("scope", scope),
				zap.String("id", old.ID),
				zap.Error(err))
		}
	}
	if err := r.index.Apply(ctx, next); err != nil {
		r.logger.Warn("indexing summary",
			zap.String("scope", scope),
			zap.String("id", next.ID),
			zap.Error(err))
	}

	r.logger.Info("summary rolled",
		zap.String("scope", scope),
		zap.String("id", next.ID),
		zap.Int("records", len(recs)),
		zap.Int("input_tokens", res.InputTokens),
		zap.Int("output_tokens", res.OutputTokens),
		zap.Int("collapse_depth", res.CollapseDepth),
		zap.Float64("compression_ratio", res.CompressionRatio))
	return next, nil
}

func transcript(recs []*record.Record) string {
	var b strings.Builder
	for i, rec := range recs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch rec.Kind {
		case record.KindUserTurn:
			b.WriteString("user: ")
		case record.KindAssistantTurn:
			b.WriteString("assistant: ")
		case record.KindFact:
			b.WriteString("fact: ")
		}
		b.WriteString(rec.Content)
	}
	return b.String()
}
