// Package observability provides production-grade observability features
// for sagaflow: structured logging, metrics, and distributed tracing.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds saga context to a logger. Returns a new logger with
// saga_id, executor_id, and step fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, sagaID, executorID, 2)
//	enriched.Info("step skipped") // includes saga_id, executor_id, step
func EnrichLogger(logger *slog.Logger, sagaID, executorID string, step int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("saga_id", sagaID),
		slog.String("executor_id", executorID),
		slog.Int("step", step),
	)
}

// LogRunStart logs the start of a saga run or continuation.
func LogRunStart(logger *slog.Logger, sagaID, name string) {
	if logger == nil {
		return
	}
	logger.Info("saga run starting",
		slog.String("saga_id", sagaID),
		slog.String("name", name),
	)
}

// LogRunComplete logs successful saga finalization as Finished.
func LogRunComplete(logger *slog.Logger, sagaID string, durationMs float64, cancelled bool) {
	if logger == nil {
		return
	}
	logger.Info("saga run finished",
		slog.String("saga_id", sagaID),
		slog.Float64("duration_ms", durationMs),
		slog.Bool("cancelled", cancelled),
	)
}

// LogRunError logs saga finalization as Failed.
func LogRunError(logger *slog.Logger, sagaID string, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("saga run failed",
		slog.String("saga_id", sagaID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogStepStart logs a step body about to execute (not a skip).
func LogStepStart(logger *slog.Logger, sagaID string, step uint8) {
	if logger == nil {
		return
	}
	logger.Debug("step starting",
		slog.String("saga_id", sagaID),
		slog.Int("step", int(step)),
	)
}

// LogStepSkipped logs a step whose result was found in the rehydrated
// record and whose body was therefore not invoked.
func LogStepSkipped(logger *slog.Logger, sagaID string, step uint8) {
	if logger == nil {
		return
	}
	logger.Debug("step skipped, replaying persisted result",
		slog.String("saga_id", sagaID),
		slog.Int("step", int(step)),
	)
}

// LogStepError logs a step body failure.
func LogStepError(logger *slog.Logger, sagaID string, step uint8, err error) {
	if logger == nil {
		return
	}
	logger.Error("step failed",
		slog.String("saga_id", sagaID),
		slog.Int("step", int(step)),
		slog.String("error", err.Error()),
	)
}

// LogLockContention logs a failed lock admission attempt.
func LogLockContention(logger *slog.Logger, sagaID, executorID string) {
	if logger == nil {
		return
	}
	logger.Warn("lock admission denied",
		slog.String("saga_id", sagaID),
		slog.String("executor_id", executorID),
	)
}

// LogResumerPickup logs a failed/stalled instance the resumer reclaimed.
func LogResumerPickup(logger *slog.Logger, sagaID, name, newExecutorID string) {
	if logger == nil {
		return
	}
	logger.Info("resumer reclaimed instance",
		slog.String("saga_id", sagaID),
		slog.String("name", name),
		slog.String("executor_id", newExecutorID),
	)
}

// LogResumerDispatchMissing logs a reclaimed instance whose definition name
// has no registered Dispatcher.
func LogResumerDispatchMissing(logger *slog.Logger, name string) {
	if logger == nil {
		return
	}
	logger.Error("resumer has no dispatcher registered for definition",
		slog.String("name", name),
	)
}

// LogResumerDispatchError logs a dispatcher's ContinueFromLastStep failure.
func LogResumerDispatchError(logger *slog.Logger, sagaID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("resumer dispatch failed",
		slog.String("saga_id", sagaID),
		slog.String("error", err.Error()),
	)
}

// LogResumerError logs a GetNextFailed poll failure; the loop continues.
func LogResumerError(logger *slog.Logger, err error) {
	if logger == nil {
		return
	}
	logger.Warn("resumer poll failed",
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
