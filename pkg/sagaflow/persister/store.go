package persister

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LockState is the lifecycle state of a saga's lock row.
type LockState int

const (
	// Initial is the state set by SaveInitialState, before the first
	// Executing transition.
	Initial LockState = iota
	// Executing marks an instance as currently owned by an executor.
	Executing
	// Retry marks an instance re-admitted by GetNextFailed.
	Retry
	// Failed marks an instance that errored without a successful
	// compensation; eligible for GetNextFailed after restart_with_duration.
	Failed
	// Finished is terminal: the saga and lock rows are deleted.
	Finished
)

// String renders the lock state the way it appears in the SQL backend's
// lock_type enum, so callers building DSNs or debug output see the same
// spelling as the database.
func (s LockState) String() string {
	switch s {
	case Initial:
		return "Initial"
	case Executing:
		return "Executing"
	case Retry:
		return "Retry"
	case Failed:
		return "Failed"
	case Finished:
		return "Finished"
	default:
		return fmt.Sprintf("LockState(%d)", int(s))
	}
}

// LockScope names who is attempting what on which instance: the triple a
// caller presents to every persister call.
type LockScope struct {
	ID         uuid.UUID
	ExecutorID uuid.UUID
	Name       string
}

// Lock is an instance's current lock record. MemoryPersister keeps one
// Lock per id and overwrites it on every transition; the SQL backend keeps
// an append-only history in saga_lock instead, where the current lock is
// the row with the greatest dtc.
type Lock struct {
	ID         uuid.UUID
	ExecutorID uuid.UUID
	Name       string
	State      LockState
	Timestamp  time.Time
}

// ErrLocked is returned by Lock when another executor holds a non-expired
// active lock.
var ErrLocked = fmt.Errorf("sagaflow: instance is locked by another executor")

// ErrNotFound is returned by Retrieve when no saga record exists for the
// requested id, and by ContinueFromLastStep when the record has no step-0
// entry.
var ErrNotFound = fmt.Errorf("sagaflow: saga record not found")

// SerializationError wraps a (de)serialization failure of a step result or
// the initial input. Fatal for the instance: the saga is
// marked Failed and will be retried by the resumer until the data or schema
// is fixed.
type SerializationError struct {
	Step  uint8
	Cause error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("sagaflow: serialization failed at step %d: %v", e.Step, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

// ExecutionError wraps a backend I/O failure from a persister operation.
type ExecutionError struct {
	Op     string
	Detail string
	Cause  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("sagaflow: execution error during %s: %s", e.Op, e.Detail)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// StepPersister is the contract used by the Runner while driving a saga:
// lock admission, record retrieval, per-step storage, and the resumer's
// failed-instance scan.
type StepPersister interface {
	// Lock attempts to transition the instance's lock to state. It fails
	// with ErrLocked if another executor currently holds an active lock
	// whose deadline has not lapsed, judged against the lock_timeout the
	// backend was constructed with. Transitioning to Finished deletes the
	// lock and saga rows instead of inserting a new lock row.
	Lock(ctx context.Context, scope LockScope, state LockState) error

	// Retrieve returns the materialized Record for id, or ErrNotFound.
	Retrieve(ctx context.Context, id uuid.UUID) (*Record, error)

	// Store appends or upserts one (step, serialized state) entry.
	Store(ctx context.Context, id uuid.UUID, step uint8, state string) error

	// GetNextFailed finds one instance whose lock is Failed or whose
	// active lock is older than forDuration, atomically re-locks it under
	// a freshly minted executor id in state Retry, and returns its
	// identity. ok is false if no candidate was found.
	GetNextFailed(ctx context.Context, forDuration time.Duration) (scope LockScope, ok bool, err error)
}

// InitialDataPersister is the narrower contract used by callers before
// Run: SaveInitialState atomically stores (id, 0, serialize(state)) and
// transitions the lock to Initial. Neither reference backend accepts a
// caller's transaction: PostgresPersister commits its own transaction from
// the pool, separately from any business write the caller makes.
type InitialDataPersister interface {
	SaveInitialState(ctx context.Context, scope LockScope, state string) error
}

// Persister satisfies both contracts; a backend implementing the full
// surface. Callers should still depend on the narrower interface they
// actually need.
type Persister interface {
	StepPersister
	InitialDataPersister
}
