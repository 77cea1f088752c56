package persister

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// lockTypeValues maps each LockState (by its iota value) to its lock_type
// enum label; the SQL backend stores lock states as their Postgres enum
// name, not as an integer, so the rows match the lock_type enum exactly.
var lockTypeValues = [...]string{
	Initial:   "Initial",
	Executing: "Executing",
	Retry:     "Retry",
	Failed:    "Failed",
	Finished:  "Finished",
}

func parseLockState(s string) (LockState, error) {
	for i, v := range lockTypeValues {
		if v == s {
			return LockState(i), nil
		}
	}
	return 0, fmt.Errorf("sagaflow: unknown lock_type %q", s)
}

// PostgresPersister is a Persister backed by the bit-exact schema: the
// saga_step / saga_lock tables and the lock_type enum. The lock table is
// append-only during execution; the "current" lock for an id is the row
// with the greatest dtc.
type PostgresPersister struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresPersister wraps an existing pool. Callers own the pool's
// lifecycle (construction and Close); lockTimeout governs Lock's admission
// rule for stale owners.
func NewPostgresPersister(pool *pgxpool.Pool, lockTimeout time.Duration) *PostgresPersister {
	return &PostgresPersister{pool: pool, lockTimeout: lockTimeout}
}

// EnsureSchema creates the lock_type enum and the saga_step/saga_lock
// tables if they do not already exist. Postgres has no CREATE TYPE IF NOT
// EXISTS, so the enum is guarded by a pg_type lookup first.
func (p *PostgresPersister) EnsureSchema(ctx context.Context) error {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'lock_type')`).Scan(&exists)
	if err != nil {
		return &ExecutionError{Op: "ensure schema", Detail: "check lock_type", Cause: err}
	}
	if !exists {
		_, err := p.pool.Exec(ctx, `CREATE TYPE lock_type AS ENUM ('Executing','Failed','Finished','Initial','Retry')`)
		if err != nil {
			return &ExecutionError{Op: "ensure schema", Detail: "create lock_type", Cause: err}
		}
	}

	_, err = p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS saga_step (
  id uuid NOT NULL, step smallint NOT NULL, state text NOT NULL,
  dtc timestamp NOT NULL DEFAULT NOW(),
  UNIQUE (id, step)
);
CREATE TABLE IF NOT EXISTS saga_lock (
  id uuid NOT NULL, executor_id uuid NOT NULL, name varchar NOT NULL,
  lock lock_type NOT NULL, dtc timestamp NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS saga_lock_id_idx ON saga_lock(id);
CREATE INDEX IF NOT EXISTS saga_lock_lock_idx ON saga_lock(lock);
CREATE INDEX IF NOT EXISTS saga_lock_dtc_idx ON saga_lock(dtc);
`)
	if err != nil {
		return &ExecutionError{Op: "ensure schema", Detail: "create tables", Cause: err}
	}
	return nil
}

// Lock implements StepPersister.
func (p *PostgresPersister) Lock(ctx context.Context, scope LockScope, state LockState) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return &ExecutionError{Op: "lock", Detail: "begin transaction", Cause: err}
	}
	defer tx.Rollback(ctx)

	if err := lockTx(ctx, tx, scope, state, p.lockTimeout); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return &ExecutionError{Op: "lock", Detail: "commit", Cause: err}
	}
	return nil
}

func lockTx(ctx context.Context, tx pgx.Tx, scope LockScope, state LockState, lockTimeout time.Duration) error {
	var executorID uuid.UUID
	var lockStr string
	var dtc time.Time
	row := tx.QueryRow(ctx,
		`SELECT executor_id, lock, dtc FROM saga_lock WHERE id = $1 ORDER BY dtc DESC LIMIT 1`,
		scope.ID)
	err := row.Scan(&executorID, &lockStr, &dtc)

	admit := true
	switch {
	case err == nil:
		current, perr := parseLockState(lockStr)
		if perr != nil {
			return &ExecutionError{Op: "lock", Detail: "parse lock state", Cause: perr}
		}
		admit = scope.ExecutorID == executorID ||
			current == Failed ||
			time.Now().After(dtc.Add(lockTimeout))
	case errors.Is(err, pgx.ErrNoRows):
		admit = true
	default:
		return &ExecutionError{Op: "lock", Detail: "retrieve lock", Cause: err}
	}

	if !admit {
		return ErrLocked
	}

	if state == Finished {
		if _, err := tx.Exec(ctx, `DELETE FROM saga_lock WHERE id = $1`, scope.ID); err != nil {
			return &ExecutionError{Op: "lock", Detail: "finish: delete lock", Cause: err}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM saga_step WHERE id = $1`, scope.ID); err != nil {
			return &ExecutionError{Op: "lock", Detail: "finish: delete step", Cause: err}
		}
		return nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO saga_lock (id, executor_id, name, lock, dtc) VALUES ($1, $2, $3, $4, $5)`,
		scope.ID, scope.ExecutorID, scope.Name, lockTypeValues[state], time.Now())
	if err != nil {
		return &ExecutionError{Op: "lock", Detail: "insert lock", Cause: err}
	}
	return nil
}

// Retrieve implements StepPersister.
func (p *PostgresPersister) Retrieve(ctx context.Context, id uuid.UUID) (*Record, error) {
	rows, err := p.pool.Query(ctx, `SELECT step, state FROM saga_step WHERE id = $1`, id)
	if err != nil {
		return nil, &ExecutionError{Op: "retrieve", Detail: "query", Cause: err}
	}
	defer rows.Close()

	rec := NewRecord(id)
	found := false
	for rows.Next() {
		var step int16
		var state string
		if err := rows.Scan(&step, &state); err != nil {
			return nil, &ExecutionError{Op: "retrieve", Detail: "scan", Cause: err}
		}
		rec.Set(uint8(step), state)
		found = true
	}
	if err := rows.Err(); err != nil {
		return nil, &ExecutionError{Op: "retrieve", Detail: "iterate", Cause: err}
	}
	if !found {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Store implements StepPersister.
func (p *PostgresPersister) Store(ctx context.Context, id uuid.UUID, step uint8, state string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return &ExecutionError{Op: "store", Detail: "begin transaction", Cause: err}
	}
	defer tx.Rollback(ctx)

	if err := storeTx(ctx, tx, id, step, state); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return &ExecutionError{Op: "store", Detail: "commit", Cause: err}
	}
	return nil
}

func storeTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, step uint8, state string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO saga_step (id, step, state) VALUES ($1, $2, $3)
		 ON CONFLICT (id, step) DO UPDATE SET state = EXCLUDED.state, dtc = NOW()`,
		id, int16(step), state)
	if err != nil {
		return &ExecutionError{Op: "store", Detail: "insert step", Cause: err}
	}
	return nil
}

// SaveInitialState implements InitialDataPersister. It locks and stores
// step 0 inside one transaction that it begins on the pool, so the Initial
// lock and step 0 commit together. It does not join a transaction the
// caller has open: a business write the caller makes commits separately.
func (p *PostgresPersister) SaveInitialState(ctx context.Context, scope LockScope, state string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return &ExecutionError{Op: "save initial state", Detail: "begin transaction", Cause: err}
	}
	defer tx.Rollback(ctx)

	if err := lockTx(ctx, tx, scope, Initial, p.lockTimeout); err != nil {
		return err
	}
	if err := storeTx(ctx, tx, scope.ID, 0, state); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return &ExecutionError{Op: "save initial state", Detail: "commit", Cause: err}
	}
	return nil
}

// GetNextFailed implements StepPersister, matching the resolved predicate
// from the design notes: dtc older than forDuration, or lock already
// Failed — excluding Finished, which has no rows to find in practice since
// Finished deletes them.
func (p *PostgresPersister) GetNextFailed(ctx context.Context, forDuration time.Duration) (LockScope, bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return LockScope{}, false, &ExecutionError{Op: "get next failed", Detail: "begin transaction", Cause: err}
	}
	defer tx.Rollback(ctx)

	var id uuid.UUID
	var name string
	// saga_lock is append-only, so a naive WHERE over every row could match
	// a superseded historical lock even though the id's current lock is
	// healthy. DISTINCT ON (id) ... ORDER BY id, dtc DESC narrows to each
	// id's current lock (greatest dtc) before applying the staleness
	// predicate.
	row := tx.QueryRow(ctx,
		`SELECT id, name FROM (
		   SELECT DISTINCT ON (id) id, name, lock, dtc
		   FROM saga_lock
		   ORDER BY id, dtc DESC
		 ) current_lock
		 WHERE (dtc < $1 OR lock = $2) AND lock != $3
		 ORDER BY dtc DESC LIMIT 1`,
		time.Now().Add(-forDuration), lockTypeValues[Failed], lockTypeValues[Finished])
	err = row.Scan(&id, &name)
	if errors.Is(err, pgx.ErrNoRows) {
		return LockScope{}, false, nil
	}
	if err != nil {
		return LockScope{}, false, &ExecutionError{Op: "get next failed", Detail: "query", Cause: err}
	}

	scope := LockScope{ID: id, ExecutorID: uuid.New(), Name: name}
	if err := lockTx(ctx, tx, scope, Retry, p.lockTimeout); err != nil {
		return LockScope{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return LockScope{}, false, &ExecutionError{Op: "get next failed", Detail: "commit", Cause: err}
	}
	return scope, true, nil
}
