package monitoring

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracingManager starts spans on the globally registered tracer provider.
// Without an SDK provider installed every span is a no-op.
type TracingManager struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewTracingManager creates a tracing manager for serviceName
func NewTracingManager(serviceName string) *TracingManager {
	return &TracingManager{
		tracer: otel.Tracer(serviceName),
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}
}

// StartSpan starts a new span
func (tm *TracingManager) StartSpan(ctx context.Context, operationName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, operationName, opts...)
}

// StartDrainSpan starts the span covering one drain pass
func (tm *TracingManager) StartDrainSpan(ctx context.Context) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "sync.drain", trace.WithSpanKind(trace.SpanKindInternal))
}

// StartReplaySpan starts the span covering one remote replay
func (tm *TracingManager) StartReplaySpan(ctx context.Context, entryID, operation, entity string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "sync.replay",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("sync.entry_id", entryID),
			attribute.String("sync.operation", operation),
			attribute.String("sync.entity", entity),
		),
	)
}

// RecordError records an error in the span
func (tm *TracingManager) RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// InjectTraceContext writes the span context of ctx into outgoing headers
func (tm *TracingManager) InjectTraceContext(ctx context.Context, headers http.Header) {
	tm.propagator.Inject(ctx, propagation.HeaderCarrier(headers))
}

// HTTPMiddleware starts a server span per request, continuing any trace
// context sent by the caller.
func (tm *TracingManager) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tm.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctx, span := tm.tracer.Start(ctx, fmt.Sprintf("HTTP %s", r.Method),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			),
		)
		defer span.End()

		rec := NewStatusRecorder(w)
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.StatusCode()))
		if rec.StatusCode() >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", rec.StatusCode()))
		}
	})
}

// TraceIDFromContext extracts trace ID from context
func TraceIDFromContext(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
