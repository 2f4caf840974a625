package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/memoryd/internal/embeddings"

// Metrics holds embedding latency, batch size and error instruments.
type Metrics struct {
	meter     metric.Meter
	logger    *zap.Logger
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
	cacheHits metric.Int64Counter
}

// NewMetrics creates a new Metrics instance using the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(instrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{meter: meter, logger: logger}

	var err error
	m.duration, err = meter.Float64Histogram(
		"memoryd.embedding.generation_duration_seconds",
		metric.WithDescription("Duration of embedding generation in seconds by model and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = meter.Int64Histogram(
		"memoryd.embedding.batch_size",
		metric.WithDescription("Number of texts per embedding request"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250, 500),
	)
	if err != nil {
		logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"memoryd.embedding.errors_total",
		metric.WithDescription("Total embedding generation errors by model and operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn("failed to create errors counter", zap.Error(err))
	}

	m.cacheHits, err = meter.Int64Counter(
		"memoryd.embedding.cache_hits_total",
		metric.WithDescription("Query embeddings served from the in-memory cache"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		logger.Warn("failed to create cache hits counter", zap.Error(err))
	}
	return m
}

// RecordGeneration records embedding generation metrics.
func (m *Metrics) RecordGeneration(ctx context.Context, model, operation string, duration time.Duration, batchSize int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
	)

	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if batchSize > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batchSize), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// RecordCacheHit counts one query served from cache.
func (m *Metrics) RecordCacheHit(ctx context.Context) {
	if m.cacheHits != nil {
		m.cacheHits.Add(ctx, 1)
	}
}
