package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the mission tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("mission")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartRunSpan starts a span for a whole Run call.
	StartRunSpan(ctx context.Context, mission, runID string) (context.Context, trace.Span)

	// StartTickSpan starts a span for one root tick, usually a child of the run span.
	StartTickSpan(ctx context.Context, tick int) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartRunSpan(ctx context.Context, mission, runID string) (context.Context, trace.Span) {
	return StartRunSpan(ctx, mission, runID)
}

func (m *otelSpanManager) StartTickSpan(ctx context.Context, tick int) (context.Context, trace.Span) {
	return StartTickSpan(ctx, tick)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// StartRunSpan starts a span for a mission run.
// Uses the global OTel tracer.
func StartRunSpan(ctx context.Context, mission, runID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "mission.run",
		trace.WithAttributes(
			attribute.String("mission.name", mission),
			attribute.String("run.id", runID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartTickSpan starts a span for one root tick.
// Uses the global OTel tracer.
func StartTickSpan(ctx context.Context, tick int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "mission.tick",
		trace.WithAttributes(attribute.Int("tick", tick)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
