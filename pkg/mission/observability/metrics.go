package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records mission metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordTick records one root tick and its result.
	RecordTick(ctx context.Context, mission, result string, duration time.Duration)

	// RecordNodeTick records a node tick by node kind and result.
	RecordNodeTick(ctx context.Context, kind, result string)

	// RecordRun records a completed Run call.
	RecordRun(ctx context.Context, mission, result string, duration time.Duration)

	// RecordAdapterError records an adapter operation that failed.
	RecordAdapterError(ctx context.Context, adapter string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	ticks         metric.Int64Counter
	tickLatency   metric.Float64Histogram
	nodeTicks     metric.Int64Counter
	runs          metric.Int64Counter
	runLatency    metric.Float64Histogram
	adapterErrors metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("mission")

	ticks, err := meter.Int64Counter("mission.ticks",
		metric.WithDescription("Number of root ticks"),
	)
	if err != nil {
		return nil, err
	}

	tickLatency, err := meter.Float64Histogram("mission.tick.latency_ms",
		metric.WithDescription("Root tick latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	nodeTicks, err := meter.Int64Counter("mission.node.ticks",
		metric.WithDescription("Number of node ticks"),
	)
	if err != nil {
		return nil, err
	}

	runs, err := meter.Int64Counter("mission.runs",
		metric.WithDescription("Number of mission runs"),
	)
	if err != nil {
		return nil, err
	}

	runLatency, err := meter.Float64Histogram("mission.run.latency_ms",
		metric.WithDescription("Mission run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	adapterErrors, err := meter.Int64Counter("mission.adapter.errors",
		metric.WithDescription("Number of failed adapter operations"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		ticks:         ticks,
		tickLatency:   tickLatency,
		nodeTicks:     nodeTicks,
		runs:          runs,
		runLatency:    runLatency,
		adapterErrors: adapterErrors,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordTick records a root tick.
func (m *otelMetrics) RecordTick(ctx context.Context, mission, result string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("mission", mission),
		attribute.String("result", result),
	)
	m.ticks.Add(ctx, 1, attrs)
	m.tickLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordNodeTick records a node tick.
func (m *otelMetrics) RecordNodeTick(ctx context.Context, kind, result string) {
	m.nodeTicks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result),
	))
}

// RecordRun records a mission run.
func (m *otelMetrics) RecordRun(ctx context.Context, mission, result string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("mission", mission),
		attribute.String("result", result),
	)
	m.runs.Add(ctx, 1, attrs)
	m.runLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordAdapterError records a failed adapter operation.
func (m *otelMetrics) RecordAdapterError(ctx context.Context, adapter string) {
	m.adapterErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("adapter", adapter)))
}
