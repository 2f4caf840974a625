package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type scopeCtxKey struct{}
type operationCtxKey struct{}
type requestCtxKey struct{}

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if scope := ScopeFromContext(ctx); scope != "" {
		fields = append(fields, zap.String("scope", scope))
	}
	if op := OperationFromContext(ctx); op != "" {
		fields = append(fields, zap.String("operation", op))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	return fields
}

// WithScope tags ctx with a memory scope.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeCtxKey{}, scope)
}

// ScopeFromContext returns the scope stored by WithScope.
func ScopeFromContext(ctx context.Context) string {
	s, _ := ctx.Value(scopeCtxKey{}).(string)
	return s
}

// WithOperation tags ctx with the maintenance or request operation name.
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationCtxKey{}, op)
}

// OperationFromContext returns the operation stored by WithOperation.
func OperationFromContext(ctx context.Context) string {
	s, _ := ctx.Value(operationCtxKey{}).(string)
	return s
}

// WithRequestID tags ctx with an inbound request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the id stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestCtxKey{}).(string)
	return s
}

// Fields is ContextFields followed by extra, for call sites that log through
// a plain *zap.Logger.
func Fields(ctx context.Context, extra ...zap.Field) []zap.Field {
	return append(ContextFields(ctx), extra...)
}
