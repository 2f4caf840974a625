package retrieval

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/memoryd/internal/retrieval"

type metrics struct {
	duration   metric.Float64Histogram
	candidates metric.Int64Counter
	selected   metric.Int64Counter
	failures   metric.Int64Counter
}

func newMetrics(meter metric.Meter) *metrics {
	m := &metrics{}
	// Instrument creation only fails on invalid names; nil instruments are
	// skipped when recording.
	m.duration, _ = meter.Float64Histogram(
		"memoryd.retrieval.duration_seconds",
		metric.WithDescription("End-to-end retrieval latency"),
		metric.WithUnit("s"),
	)
	m.candidates, _ = meter.Int64Counter(
		"memoryd.retrieval.candidates_total",
		metric.WithDescription("Candidates produced by dense search"),
	)
	m.selected, _ = meter.Int64Counter(
		"memoryd.retrieval.selected_total",
		metric.WithDescription("Records returned to callers, summaries included"),
	)
	m.failures, _ = meter.Int64Counter(
		"memoryd.retrieval.failures_total",
		metric.WithDescription("Retrievals that degraded to an empty result"),
	)
	return m
}

func (m *metrics) record(ctx context.Context, scope string, d time.Duration, candidates, selected int, err error) {
	attrs := metric.WithAttributes(attribute.String("scope", scope))
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if m.candidates != nil {
		m.candidates.Add(ctx, int64(candidates), attrs)
	}
	if m.selected != nil {
		m.selected.Add(ctx, int64(selected), attrs)
	}
	if err != nil && m.failures != nil {
		m.failures.Add(ctx, 1, attrs)
	}
}
