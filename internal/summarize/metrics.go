package summarize

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/memoryd/internal/summarize"

type metrics struct {
	duration    metric.Float64Histogram
	compression metric.Float64Histogram
	depth       metric.Int64Histogram
}

func newMetrics(meter metric.Meter) *metrics {
	m := &metrics{}
	m.duration, _ = meter.Float64Histogram(
		"memoryd.summarization.duration_seconds",
		metric.WithDescription("Summarization latency"),
		metric.WithUnit("s"),
	)
	m.compression, _ = meter.Float64Histogram(
		"memoryd.summarization.compression_ratio",
		metric.WithDescription("Output tokens divided by input tokens"),
	)
	m.depth, _ = meter.Int64Histogram(
		"memoryd.summarization.collapse_depth",
		metric.WithDescription("Reduce passes needed to fit the target"),
	)
	return m
}

func (m *metrics) record(ctx context.Context, res Result, d time.Duration) {
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds())
	}
	if m.compression != nil {
		m.compression.Record(ctx, res.CompressionRatio)
	}
	if m.depth != nil {
		m.depth.Record(ctx, int64(res.CollapseDepth))
	}
}
