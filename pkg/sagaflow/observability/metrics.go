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

// MetricsRecorder records sagaflow metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordStepExecution records a step execution with its duration and error status.
	RecordStepExecution(ctx context.Context, step int, duration time.Duration, err error)

	// RecordRun records a saga run completion (Run or ContinueFromLastStep).
	RecordRun(ctx context.Context, success bool, duration time.Duration)

	// RecordLockAcquisition records a lock admission attempt's outcome.
	RecordLockAcquisition(ctx context.Context, state string, admitted bool)

	// RecordResumerPickup records the resumer reclaiming an instance.
	RecordResumerPickup(ctx context.Context, name string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	stepExecutions metric.Int64Counter
	stepLatency    metric.Float64Histogram
	stepErrors     metric.Int64Counter
	runs           metric.Int64Counter
	runLatency     metric.Float64Histogram
	lockAttempts   metric.Int64Counter
	resumerPickups metric.Int64Counter
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
	meter := otel.Meter("sagaflow")

	stepExecutions, err := meter.Int64Counter("sagaflow.step.executions",
		metric.WithDescription("Number of step bodies invoked (excludes skipped/replayed steps)"),
	)
	if err != nil {
		return nil, err
	}

	stepLatency, err := meter.Float64Histogram("sagaflow.step.latency_ms",
		metric.WithDescription("Step body execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	stepErrors, err := meter.Int64Counter("sagaflow.step.errors",
		metric.WithDescription("Number of step body errors"),
	)
	if err != nil {
		return nil, err
	}

	runs, err := meter.Int64Counter("sagaflow.run",
		metric.WithDescription("Number of completed Run/ContinueFromLastStep calls"),
	)
	if err != nil {
		return nil, err
	}

	runLatency, err := meter.Float64Histogram("sagaflow.run.latency_ms",
		metric.WithDescription("Saga run latency in milliseconds, lock acquisition to finalization"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	lockAttempts, err := meter.Int64Counter("sagaflow.lock.acquisitions",
		metric.WithDescription("Number of lock admission attempts, tagged by outcome"),
	)
	if err != nil {
		return nil, err
	}

	resumerPickups, err := meter.Int64Counter("sagaflow.resumer.picked_up",
		metric.WithDescription("Number of instances reclaimed by the resumer"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		stepExecutions: stepExecutions,
		stepLatency:    stepLatency,
		stepErrors:     stepErrors,
		runs:           runs,
		runLatency:     runLatency,
		lockAttempts:   lockAttempts,
		resumerPickups: resumerPickups,
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

// RecordStepExecution records a step execution.
func (m *otelMetrics) RecordStepExecution(ctx context.Context, step int, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.Int("step", step),
	}

	m.stepExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.stepLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.stepErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordRun records a saga run.
func (m *otelMetrics) RecordRun(ctx context.Context, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.runLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordLockAcquisition records a lock admission attempt.
func (m *otelMetrics) RecordLockAcquisition(ctx context.Context, state string, admitted bool) {
	attrs := []attribute.KeyValue{
		attribute.String("lock_state", state),
		attribute.Bool("admitted", admitted),
	}
	m.lockAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordResumerPickup records an instance reclaimed by the resumer.
func (m *otelMetrics) RecordResumerPickup(ctx context.Context, name string) {
	attrs := []attribute.KeyValue{
		attribute.String("name", name),
	}
	m.resumerPickups.Add(ctx, 1, metric.WithAttributes(attrs...))
}
