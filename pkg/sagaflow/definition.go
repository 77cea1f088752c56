package sagaflow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/joshclark/sagaflow/pkg/sagaflow/observability"
	"github.com/joshclark/sagaflow/pkg/sagaflow/persister"
)

// runtime is the per-execution state threaded through a pipeline: the
// shared state object, the rehydrated saga record consulted for step
// skipping, and the cancellation flag set by a successful compensation.
//
// A runtime is created fresh for every Run / ContinueFromLastStep call and
// discarded afterward; it never outlives one execution.
type runtime[S any] struct {
	state     S
	record    *persister.Record
	cancelled bool
}

// pipelineFunc is the boxed callable threaded through a Definition: each
// Step or OnError call wraps the previous one, preserving T as a static
// type parameter rather than erasing to any.
type pipelineFunc[S, In, T any] func(ctx context.Context, rt *runtime[S], in In) (T, error)

// Definition is a typed, single-shot pipeline: the lock scope it runs
// under, the persister it reads and writes through, and the composed
// step/compensation chain. In is the type of the saga's initial input; T
// is the type the pipeline currently produces, threaded forward by Step
// and left unchanged by OnError.
//
// A Definition is built with New, Step, and OnError, then consumed by
// exactly one call to Run or ContinueFromLastStep.
type Definition[S, In, T any] struct {
	scope       persister.LockScope
	store       persister.Persister
	lockTimeout time.Duration
	nextStep    uint8
	pipeline    pipelineFunc[S, In, T]

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	tracer  observability.SpanManager
}

// Option configures a Definition's observability hooks. Every hook is
// opt-in: a Definition built with no options logs nothing and records no
// metrics or spans, matching the ambient stack's no-overhead-when-disabled
// convention.
type Option func(*observabilityOptions)

type observabilityOptions struct {
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	tracer  observability.SpanManager
}

func defaultObservabilityOptions() observabilityOptions {
	return observabilityOptions{
		metrics: observability.NoopMetrics{},
		tracer:  observability.NoopSpanManager{},
	}
}

// WithLogger attaches a structured logger. def.logger stays nil without
// one, and every observability.Log* call is a no-op against a nil logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *observabilityOptions) { o.logger = logger }
}

// WithMetrics attaches a MetricsRecorder, typically
// observability.NewMetricsRecorder().
func WithMetrics(metrics observability.MetricsRecorder) Option {
	return func(o *observabilityOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithTracing attaches a SpanManager, typically observability.NewSpanManager().
func WithTracing(tracer observability.SpanManager) Option {
	return func(o *observabilityOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// New starts a Definition. stateCtor builds the shared state from the
// initial input that will later be passed to Run (or deserialized from
// step 0 by ContinueFromLastStep) together with data, a construction-time
// seed distinct from that per-run input.
//
// New itself does not touch the persister; step 0's persistence and the
// shared state's construction both happen once, on the first pipeline
// invocation inside Run/ContinueFromLastStep, so that a rehydrated record
// can be consulted first.
func New[S, In, D any](
	scope persister.LockScope,
	store persister.Persister,
	lockTimeout time.Duration,
	data D,
	stateCtor func(initial In, data D) S,
	opts ...Option,
) *Definition[S, In, In] {
	obs := defaultObservabilityOptions()
	for _, opt := range opts {
		opt(&obs)
	}

	root := func(ctx context.Context, rt *runtime[S], in In) (In, error) {
		if _, ok := rt.record.Get(0); !ok {
			raw, err := json.Marshal(in)
			if err != nil {
				return in, &persister.SerializationError{Step: 0, Cause: err}
			}
			if err := store.Store(ctx, scope.ID, 0, string(raw)); err != nil {
				return in, err
			}
		}
		rt.state = stateCtor(in, data)
		return in, nil
	}

	return &Definition[S, In, In]{
		scope:       scope,
		store:       store,
		lockTimeout: lockTimeout,
		nextStep:    1,
		pipeline:    root,
		logger:      obs.logger,
		metrics:     obs.metrics,
		tracer:      obs.tracer,
	}
}

// Step appends a step to def's pipeline. adapter derives the step's input
// from the shared state and the previous step's output; op is the step
// body. Step is a free function, not a method, because a method cannot
// introduce the additional type parameters (StepIn, NewT) this append
// needs while keeping S and In fixed.
//
// At run time: the previous step's result is awaited first; if it errored,
// this step never runs. Otherwise the adapter forms this step's input,
// the rehydrated record is checked for an entry at this step's index — if
// present, it is deserialized and returned without invoking op — and only
// if absent is op invoked, its result serialized, and stored.
func Step[S, In, PrevT, StepIn, NewT any](
	def *Definition[S, In, PrevT],
	adapter func(state *S, prev PrevT) StepIn,
	op func(ctx context.Context, in StepIn) (NewT, error),
) *Definition[S, In, NewT] {
	step := def.nextStep
	prev := def.pipeline
	scope := def.scope
	store := def.store
	logger := def.logger
	metrics := def.metrics
	tracer := def.tracer

	pipeline := func(ctx context.Context, rt *runtime[S], in In) (NewT, error) {
		var zero NewT

		prevOut, err := prev(ctx, rt, in)
		if err != nil {
			return zero, err
		}

		stepIn := adapter(&rt.state, prevOut)

		if raw, ok := rt.record.Get(step); ok {
			observability.LogStepSkipped(logger, scope.ID.String(), step)
			var out NewT
			if err := json.Unmarshal([]byte(raw), &out); err != nil {
				return zero, &persister.SerializationError{Step: step, Cause: err}
			}
			return out, nil
		}

		observability.LogStepStart(logger, scope.ID.String(), step)
		stepCtx, span := tracer.StartStepSpan(ctx, int(step))
		started := time.Now()

		out, opErr := op(stepCtx, stepIn)

		tracer.EndSpanWithError(span, opErr)
		metrics.RecordStepExecution(ctx, int(step), time.Since(started), opErr)

		if opErr != nil {
			observability.LogStepError(logger, scope.ID.String(), step, opErr)
			return zero, &StepError{Step: step, Err: opErr}
		}

		raw, err := json.Marshal(out)
		if err != nil {
			return out, &persister.SerializationError{Step: step, Cause: err}
		}
		if err := store.Store(ctx, scope.ID, step, string(raw)); err != nil {
			return out, err
		}
		return out, nil
	}

	return &Definition[S, In, NewT]{
		scope:       scope,
		store:       store,
		lockTimeout: def.lockTimeout,
		nextStep:    step + 1,
		pipeline:    pipeline,
		logger:      logger,
		metrics:     metrics,
		tracer:      tracer,
	}
}

// OnError attaches a compensation to the pipeline prefix composed so far.
// If that prefix fails, adapter derives the compensation's input from the
// shared state and the error, then comp runs. A successful compensation
// sets the shared cancelled flag (read by Run/ContinueFromLastStep during
// finalization) but does not change the error returned to the caller; a
// failing compensation supersedes the original error.
//
// OnError does not allocate a step index: compensations are not persisted
// per-instance and re-run on every retry until they succeed.
func OnError[S, In, T, CompIn any](
	def *Definition[S, In, T],
	adapter func(state *S, cause error) CompIn,
	comp func(ctx context.Context, in CompIn) error,
) *Definition[S, In, T] {
	prev := def.pipeline

	pipeline := func(ctx context.Context, rt *runtime[S], in In) (T, error) {
		out, err := prev(ctx, rt, in)
		if err == nil {
			return out, nil
		}

		compIn := adapter(&rt.state, err)
		if cerr := comp(ctx, compIn); cerr != nil {
			var zero T
			return zero, &CompensationError{Cause: err, Compensate: cerr}
		}
		rt.cancelled = true
		rt.record.Cancelled = true
		var zero T
		return zero, err
	}

	return &Definition[S, In, T]{
		scope:       def.scope,
		store:       def.store,
		lockTimeout: def.lockTimeout,
		nextStep:    def.nextStep,
		pipeline:    pipeline,
		logger:      def.logger,
		metrics:     def.metrics,
		tracer:      def.tracer,
	}
}

// Scope returns the lock scope the Definition runs under. Callers that
// admit a saga from inside their own business transaction pass it to
// SaveInitialState before Run.
func (def *Definition[S, In, T]) Scope() persister.LockScope {
	return def.scope
}

// Run locks the instance as Executing, rehydrates any existing record
// (so step-skipping applies to retries that reach Run rather than
// ContinueFromLastStep), executes the pipeline against initial, and
// finalizes the lock as Finished (success, or a successful compensation)
// or Failed (everything else).
func (def *Definition[S, In, T]) Run(ctx context.Context, initial In) (T, error) {
	var zero T

	if err := def.lock(ctx, persister.Executing); err != nil {
		return zero, err
	}

	rec, err := def.store.Retrieve(ctx, def.scope.ID)
	if err != nil {
		if errors.Is(err, persister.ErrNotFound) {
			rec = persister.NewRecord(def.scope.ID)
		} else {
			return zero, err
		}
	}

	return def.execute(ctx, initial, rec)
}

// ContinueFromLastStep locks the instance as Executing, retrieves its
// record, deserializes step 0 as the initial input, and resumes the
// pipeline from there. It fails with ErrNotFound if no record (or no
// step-0 entry) exists — there is nothing to continue from.
func (def *Definition[S, In, T]) ContinueFromLastStep(ctx context.Context) (T, error) {
	var zero T

	if err := def.lock(ctx, persister.Executing); err != nil {
		return zero, err
	}

	rec, err := def.store.Retrieve(ctx, def.scope.ID)
	if err != nil {
		return zero, err
	}

	raw, ok := rec.Get(0)
	if !ok {
		return zero, persister.ErrNotFound
	}

	var initial In
	if err := json.Unmarshal([]byte(raw), &initial); err != nil {
		return zero, &persister.SerializationError{Step: 0, Cause: err}
	}

	return def.execute(ctx, initial, rec)
}

func (def *Definition[S, In, T]) execute(ctx context.Context, initial In, rec *persister.Record) (T, error) {
	sagaID := def.scope.ID.String()
	observability.LogRunStart(def.logger, sagaID, def.scope.Name)
	ctx, span := def.tracer.StartRunSpan(ctx, def.scope.Name, sagaID)
	started := time.Now()

	rt := &runtime[S]{record: rec}

	out, runErr := def.pipeline(ctx, rt, initial)

	finalState := persister.Failed
	if runErr == nil || rt.cancelled {
		finalState = persister.Finished
	}
	if lockErr := def.lock(ctx, finalState); lockErr != nil && runErr == nil {
		runErr = lockErr
	}

	duration := time.Since(started)
	def.tracer.EndSpanWithError(span, runErr)
	def.metrics.RecordRun(ctx, runErr == nil, duration)
	if runErr != nil && !rt.cancelled {
		observability.LogRunError(def.logger, sagaID, runErr, float64(duration.Milliseconds()))
	} else {
		observability.LogRunComplete(def.logger, sagaID, float64(duration.Milliseconds()), rt.cancelled)
	}

	return out, runErr
}

// lock transitions the instance's lock to state through the persister,
// recording the admission outcome and logging contention.
func (def *Definition[S, In, T]) lock(ctx context.Context, state persister.LockState) error {
	err := def.store.Lock(ctx, def.scope, state)
	def.metrics.RecordLockAcquisition(ctx, state.String(), err == nil)
	if errors.Is(err, persister.ErrLocked) {
		observability.LogLockContention(def.logger, def.scope.ID.String(), def.scope.ExecutorID.String())
	}
	return err
}
