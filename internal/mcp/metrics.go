package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/orchestrator"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "memoryd.mcp"

// Metrics holds the tool call instruments.
type Metrics struct {
	meter          metric.Meter
	logger         *zap.Logger
	invocations    metric.Int64Counter
	duration       metric.Float64Histogram
	errors         metric.Int64Counter
	activeRequests metric.Int64UpDownCounter
}

// NewMetrics creates tool metrics on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.invocations, err = m.meter.Int64Counter(
		"memoryd.mcp.tool.invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		m.logger.Warn("failed to create invocations counter", zap.Error(err))
	}

	m.duration, err = m.meter.Float64Histogram(
		"memoryd.mcp.tool.duration_seconds",
		metric.WithDescription("Duration of MCP tool invocations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"memoryd.mcp.tool.errors_total",
		metric.WithDescription("Total number of MCP tool errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"memoryd.mcp.tool.active_requests",
		metric.WithDescription("Number of MCP tool calls in progress"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active requests gauge", zap.Error(err))
	}
}

// track marks a tool call as active and returns the function that records
// its outcome.
func (m *Metrics) track(ctx context.Context, tool string) func(err error) {
	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	if m.activeRequests != nil {
		m.activeRequests.Add(ctx, 1, attrs)
	}
	return func(err error) {
		if m.activeRequests != nil {
			m.activeRequests.Add(ctx, -1, attrs)
		}
		m.RecordInvocation(ctx, tool, time.Since(start), err)
	}
}

// RecordInvocation records one finished tool call.
func (m *Metrics) RecordInvocation(ctx context.Context, tool string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{attribute.String("tool", tool)}
	if m.invocations != nil {
		m.invocations.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
	if err != nil && m.errors != nil {
		attrs = append(attrs, attribute.String("reason", errorReason(err)))
		m.errors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal_error"
	}
}
