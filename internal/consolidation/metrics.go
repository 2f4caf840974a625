package consolidation

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/memoryd/internal/consolidation"

type metrics struct {
	decisions metric.Int64Counter
	fallbacks metric.Int64Counter
}

func newMetrics(meter metric.Meter) *metrics {
	m := &metrics{}
	m.decisions, _ = meter.Int64Counter(
		"memoryd.consolidation.decisions_total",
		metric.WithDescription("Consolidation decisions by event"),
	)
	m.fallbacks, _ = meter.Int64Counter(
		"memoryd.consolidation.fallbacks_total",
		metric.WithDescription("Consolidations that kept every new fact verbatim"),
	)
	return m
}

func (m *metrics) recordPlan(ctx context.Context, plan Plan) {
	if m.decisions != nil {
		for _, d := range plan.Decisions {
			m.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("event", string(d.Event))))
		}
	}
	if plan.Fallback && m.fallbacks != nil {
		m.fallbacks.Add(ctx, 1)
	}
}
