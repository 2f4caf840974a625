package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// newResource describes the service. It is built standalone so its schema
// URL cannot conflict with resource.Default().
func newResource(cfg *Config) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)
}

func newSpanExporter(ctx context.Context, cfg *Config) (trace.SpanExporter, error) {
	if cfg.Protocol == "http/protobuf" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(stripScheme(cfg.Endpoint))}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(stripScheme(cfg.Endpoint))}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

// sampler maps the configured rate onto a parent-based sampler.
func sampler(rate float64) trace.Sampler {
	var s trace.Sampler
	switch {
	case rate >= 1:
		s = trace.AlwaysSample()
	case rate <= 0:
		s = trace.NeverSample()
	default:
		s = trace.TraceIDRatioBased(rate)
	}
	return trace.ParentBased(s)
}

func newTracerProvider(ctx context.Context, cfg *Config, res *resource.Resource, o providerOptions) (*trace.TracerProvider, error) {
	exporter := o.spanExporter
	if exporter == nil {
		var err error
		exporter, err = newSpanExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("creating trace exporter: %w", err)
		}
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(sampler(cfg.SampleRate)),
	), nil
}

// cumulative keeps Prometheus-compatible backends happy regardless of the
// OTEL_EXPORTER_OTLP_METRICS_TEMPORALITY_PREFERENCE environment.
func cumulative(metric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func newMetricExporter(ctx context.Context, cfg *Config) (metric.Exporter, error) {
	if cfg.Protocol == "http/protobuf" {
		opts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(stripScheme(cfg.Endpoint)),
			otlpmetrichttp.WithTemporalitySelector(cumulative),
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	}
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(stripScheme(cfg.Endpoint)),
		otlpmetricgrpc.WithTemporalitySelector(cumulative),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func newMeterProvider(ctx context.Context, cfg *Config, res *resource.Resource, o providerOptions) (*metric.MeterProvider, error) {
	reader := o.metricReader
	if reader == nil {
		exporter, err := newMetricExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("creating metric exporter: %w", err)
		}
		reader = metric.NewPeriodicReader(exporter, metric.WithInterval(cfg.ExportInterval))
	}
	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(reader),
	), nil
}

// stripScheme removes http:// or https:// from an endpoint URL. The OTLP
// exporters expect host:port.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return endpoint
}

// Option configures provider construction.
type Option func(*providerOptions)

type providerOptions struct {
	spanExporter trace.SpanExporter
	metricReader metric.Reader
}

// WithSpanExporter replaces the OTLP trace exporter, for tests.
func WithSpanExporter(exp trace.SpanExporter) Option {
	return func(o *providerOptions) { o.spanExporter = exp }
}

// WithMetricReader replaces the OTLP periodic reader, for tests.
func WithMetricReader(r metric.Reader) Option {
	return func(o *providerOptions) { o.metricReader = r }
}
