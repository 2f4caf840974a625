// Package eviction bounds the number of live records per scope.
package eviction

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/memoryd/internal/record"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/memoryd/internal/eviction"
	defaultMaxEntries   = 500
)

var evictable = []record.Kind{record.KindFact, record.KindUserTurn, record.KindAssistantTurn}

// Indexer removes records from the vector index.
type Indexer interface {
	Remove(ctx context.Context, scope, id string) error
}

// Manager evicts the oldest non-summary records of a scope once it holds
// more than MaxEntries of them.
type Manager struct {
	store      *record.Store
	index      Indexer
	maxEntries int
	logger     *zap.Logger
	evicted    metric.Int64Counter
}

// New creates a Manager. maxEntries <= 0 selects 500.
func New(store *record.Store, index Indexer, maxEntries int, logger *zap.Logger) *Manager {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	counter, _ := otel.Meter(instrumentationName).Int64Counter(
		"memoryd.eviction.evicted_total",
		metric.WithDescription("Records tombstoned by capacity eviction"),
	)
	return &Manager{
		store:      store,
		index:      index,
		maxEntries: maxEntries,
		logger:     logger,
		evicted:    counter,
	}
}

// Evict tombstones the oldest overflow and returns the evicted ids.
// Summaries are neither counted nor evicted. A record that fails to evict
// is logged and the next oldest is taken in its place.
func (m *Manager) Evict(ctx context.Context, scope string) ([]string, error) {
	n, err := m.store.Count(scope, evictable...)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	if n <= m.maxEntries {
		return nil, nil
	}

	recs, err := m.store.List(scope, evictable...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	overflow := len(recs) - m.maxEntries
	if overflow <= 0 {
		return nil, nil
	}

	evicted := make([]string, 0, overflow)
	for _, rec := range recs {
		if len(evicted) == overflow {
			break
		}
		if err := ctx.Err(); err != nil {
			return evicted, err
		}
		if err := m.index.Remove(ctx, scope, rec.ID); err != nil {
			m.logger.Warn("evict: deindex failed",
				zap.String("scope", scope),
				zap.String("id", rec.ID),
				zap.Error(err))
			continue
		}
		if _, err := m.store.Tombstone(ctx, scope, rec.ID, ""); err != nil {
			m.logger.Warn("evict: tombstone failed",
				zap.String("scope", scope),
				zap.String("id", rec.ID),
				zap.Error(err))
			continue
		}
		evicted = append(evicted, rec.ID)
	}

	if m.evicted != nil {
		m.evicted.Add(ctx, int64(len(evicted)), metric.WithAttributes(attribute.String("scope", scope)))
	}
	m.logger.Info("evicted records",
		zap.String("scope", scope),
		zap.Int("evicted", len(evicted)),
		zap.Int("max_entries", m.maxEntries))
	return evicted, nil
}
