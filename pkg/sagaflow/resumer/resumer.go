// Package resumer implements the cooperative polling loop that sweeps
// failed or stalled saga instances back into execution, dispatching each
// one by its definition name.
package resumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/joshclark/sagaflow/pkg/sagaflow/observability"
	"github.com/joshclark/sagaflow/pkg/sagaflow/persister"
	"github.com/joshclark/sagaflow/pkg/sagaflow/registry"
)

// Dispatcher rebuilds the Definition matching a saga instance's name and
// calls ContinueFromLastStep on it. The resumer does not know how to
// rebuild a Definition on its own; it hands the name to a Dispatcher
// registered for it.
type Dispatcher func(ctx context.Context, scope persister.LockScope) error

// Config holds the resumer loop's tunables.
type Config struct {
	// RestartWithDuration is the staleness threshold passed to
	// GetNextFailed: a non-Failed lock older than this is also eligible.
	RestartWithDuration time.Duration
	// SleepWhenEmpty is the polling interval used after an empty poll.
	SleepWhenEmpty time.Duration
	// EmptyCountLimit stops the loop after this many consecutive empty
	// polls. Zero means run forever; production deployments leave this at
	// zero, the in-tree demo sets it so it can terminate.
	EmptyCountLimit int
	// MaxAttempts bounds how many times a Failed saga may be retried
	// before the resumer stops picking it up. Zero means unlimited. This
	// is an unenforced extension point in the reference loop: no attempt
	// counter is persisted anywhere in the schema, so enforcing a limit
	// requires a caller-supplied store for it.
	MaxAttempts int
}

// Loop polls store.GetNextFailed every SleepWhenEmpty, looks up a
// Dispatcher by definition name in dispatchers, and hands each hit to its
// own goroutine so that multiple failed sagas progress concurrently — the
// loop itself never awaits a dispatch. It returns when ctx is cancelled or
// when EmptyCountLimit consecutive polls find nothing.
func Loop(
	ctx context.Context,
	store persister.StepPersister,
	dispatchers *registry.Registry[Dispatcher],
	cfg Config,
	logger *slog.Logger,
	metrics observability.MetricsRecorder,
) {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	emptyCount := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		scope, ok, err := store.GetNextFailed(ctx, cfg.RestartWithDuration)
		if err != nil {
			observability.LogResumerError(logger, err)
			emptyCount++
		} else if ok {
			emptyCount = 0
			observability.LogResumerPickup(logger, scope.ID.String(), scope.Name, scope.ExecutorID.String())
			metrics.RecordResumerPickup(ctx, scope.Name)

			dispatch, lookupErr := dispatchers.Lookup(scope.Name)
			if lookupErr != nil {
				observability.LogResumerDispatchMissing(logger, scope.Name)
			} else {
				go func(scope persister.LockScope) {
					if err := dispatch(ctx, scope); err != nil {
						observability.LogResumerDispatchError(logger, scope.ID.String(), err)
					}
				}(scope)
			}
		} else {
			emptyCount++
		}

		if cfg.EmptyCountLimit > 0 && emptyCount >= cfg.EmptyCountLimit {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.SleepWhenEmpty):
		}
	}
}
