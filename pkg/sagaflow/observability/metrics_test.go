package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest creates a test meter provider and returns a function to collect metrics.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	// Save the original provider
	originalProvider := otel.GetMeterProvider()

	// Set test provider
	otel.SetMeterProvider(provider)

	// Return cleanup function
	cleanup := func() {
		otel.SetMeterProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	}

	return reader, cleanup
}

// collectMetrics collects all metrics from the reader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)
	return &rm
}

// findMetric finds a metric by name in the collected data.
func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetricsRecorder(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	// NewMetricsRecorder uses the global provider
	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)

	// Should not be a noop (since we set up a real provider)
	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestRecordStepExecution(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("successful execution", func(t *testing.T) {
		m.RecordStepExecution(ctx, 1, 50*time.Millisecond, nil)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "sagaflow.step.executions")
		require.NotNil(t, metric, "Expected sagaflow.step.executions metric")

		sum, ok := metric.Data.(metricdata.Sum[int64])
		require.True(t, ok, "Expected Sum data type")
		require.NotEmpty(t, sum.DataPoints)
		assert.GreaterOrEqual(t, sum.DataPoints[0].Value, int64(1))
	})

	t.Run("records latency histogram", func(t *testing.T) {
		m.RecordStepExecution(ctx, 2, 100*time.Millisecond, nil)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "sagaflow.step.latency_ms")
		require.NotNil(t, metric, "Expected sagaflow.step.latency_ms metric")

		hist, ok := metric.Data.(metricdata.Histogram[float64])
		require.True(t, ok, "Expected Histogram data type")
		require.NotEmpty(t, hist.DataPoints)
	})

	t.Run("failed execution increments error counter", func(t *testing.T) {
		m.RecordStepExecution(ctx, 3, 10*time.Millisecond, errors.New("step failed"))

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "sagaflow.step.errors")
		require.NotNil(t, metric, "Expected sagaflow.step.errors metric")

		sum, ok := metric.Data.(metricdata.Sum[int64])
		require.True(t, ok, "Expected Sum data type")
		require.NotEmpty(t, sum.DataPoints)
		assert.GreaterOrEqual(t, sum.DataPoints[0].Value, int64(1))
	})

	t.Run("success does not increment error counter", func(t *testing.T) {
		before := collectMetrics(t, reader)
		var beforeErrors int64
		if metric := findMetric(before, "sagaflow.step.errors"); metric != nil {
			if sum, ok := metric.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) > 0 {
				beforeErrors = sum.DataPoints[0].Value
			}
		}

		m.RecordStepExecution(ctx, 4, 5*time.Millisecond, nil)

		after := collectMetrics(t, reader)
		metric := findMetric(after, "sagaflow.step.errors")
		if metric != nil {
			sum, ok := metric.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			require.NotEmpty(t, sum.DataPoints)
			assert.Equal(t, beforeErrors, sum.DataPoints[0].Value)
		}
	})
}

func TestRecordRun(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("successful run", func(t *testing.T) {
		m.RecordRun(ctx, true, 500*time.Millisecond)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "sagaflow.run")
		require.NotNil(t, metric, "Expected sagaflow.run metric")

		sum, ok := metric.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		require.NotEmpty(t, sum.DataPoints)
	})

	t.Run("records run latency", func(t *testing.T) {
		m.RecordRun(ctx, false, 250*time.Millisecond)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "sagaflow.run.latency_ms")
		require.NotNil(t, metric, "Expected sagaflow.run.latency_ms metric")

		hist, ok := metric.Data.(metricdata.Histogram[float64])
		require.True(t, ok)
		require.NotEmpty(t, hist.DataPoints)
	})
}

func TestRecordLockAcquisition(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()

	m.RecordLockAcquisition(ctx, "Executing", true)
	m.RecordLockAcquisition(ctx, "Executing", false)
	m.RecordLockAcquisition(ctx, "Finished", true)

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "sagaflow.lock.acquisitions")
	require.NotNil(t, metric, "Expected sagaflow.lock.acquisitions metric")

	sum, ok := metric.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(3), total)
}

func TestRecordResumerPickup(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()

	m.RecordResumerPickup(ctx, "create_full_order")
	m.RecordResumerPickup(ctx, "create_full_order")

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "sagaflow.resumer.picked_up")
	require.NotNil(t, metric, "Expected sagaflow.resumer.picked_up metric")

	sum, ok := metric.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.NotEmpty(t, sum.DataPoints)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}

func TestOtelMetrics_AllMethods(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()

	// All methods should work without panicking
	assert.NotPanics(t, func() {
		m.RecordStepExecution(ctx, 1, time.Millisecond, nil)
		m.RecordStepExecution(ctx, 1, time.Millisecond, errors.New("err"))
		m.RecordRun(ctx, true, time.Second)
		m.RecordRun(ctx, false, time.Second)
		m.RecordLockAcquisition(ctx, "Retry", true)
		m.RecordResumerPickup(ctx, "create_from_existing_order")
	})
}

func TestNewOtelMetrics_Creation(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.NotNil(t, m.stepExecutions)
	assert.NotNil(t, m.stepLatency)
	assert.NotNil(t, m.stepErrors)
	assert.NotNil(t, m.runs)
	assert.NotNil(t, m.runLatency)
	assert.NotNil(t, m.lockAttempts)
	assert.NotNil(t, m.resumerPickups)
}
