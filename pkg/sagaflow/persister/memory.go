package persister

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryPersister is an in-memory Persister for testing and local demos.
// Data is lost when the process exits.
type MemoryPersister struct {
	mu          sync.RWMutex
	sagas       map[uuid.UUID]*Record
	locks       map[uuid.UUID]Lock
	lockTimeout time.Duration
}

// NewMemoryPersister returns an empty MemoryPersister. lockTimeout governs
// the admission rule's "previous owner has lapsed" branch.
func NewMemoryPersister(lockTimeout time.Duration) *MemoryPersister {
	return &MemoryPersister{
		sagas:       make(map[uuid.UUID]*Record),
		locks:       make(map[uuid.UUID]Lock),
		lockTimeout: lockTimeout,
	}
}

// Lock implements StepPersister.
func (p *MemoryPersister) Lock(_ context.Context, scope LockScope, state LockState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	admit := true
	if cur, ok := p.locks[scope.ID]; ok {
		admit = scope.ExecutorID == cur.ExecutorID ||
			cur.State == Failed ||
			time.Since(cur.Timestamp) > p.lockTimeout
	}
	if !admit {
		return ErrLocked
	}

	if state == Finished {
		delete(p.locks, scope.ID)
		delete(p.sagas, scope.ID)
		return nil
	}

	p.locks[scope.ID] = Lock{
		ID:         scope.ID,
		ExecutorID: scope.ExecutorID,
		Name:       scope.Name,
		State:      state,
		Timestamp:  time.Now(),
	}
	return nil
}

// Retrieve implements StepPersister.
func (p *MemoryPersister) Retrieve(_ context.Context, id uuid.UUID) (*Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, ok := p.sagas[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Store implements StepPersister.
func (p *MemoryPersister) Store(_ context.Context, id uuid.UUID, step uint8, state string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.sagas[id]
	if !ok {
		rec = NewRecord(id)
		p.sagas[id] = rec
	}
	rec.Set(step, state)
	return nil
}

// SaveInitialState implements InitialDataPersister.
// Lock admission runs first, so a call rejected with ErrLocked writes
// nothing.
func (p *MemoryPersister) SaveInitialState(ctx context.Context, scope LockScope, state string) error {
	if err := p.Lock(ctx, scope, Initial); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.sagas[scope.ID]
	if !ok {
		rec = NewRecord(scope.ID)
		p.sagas[scope.ID] = rec
	}
	rec.Set(0, state)
	return nil
}

// GetNextFailed implements StepPersister. It iterates the lock table and
// re-locks the first candidate it finds whose lock is Failed or whose
// active lock predates forDuration; tie-breaking among candidates is
// unspecified beyond "some fair iteration order".
func (p *MemoryPersister) GetNextFailed(ctx context.Context, forDuration time.Duration) (LockScope, bool, error) {
	p.mu.RLock()
	var found *uuid.UUID
	var name string
	for id, lc := range p.locks {
		stale := lc.State != Finished && time.Since(lc.Timestamp) > forDuration
		if lc.State == Failed || stale {
			id := id
			found = &id
			name = lc.Name
			break
		}
	}
	p.mu.RUnlock()

	if found == nil {
		return LockScope{}, false, nil
	}

	scope := LockScope{ID: *found, ExecutorID: uuid.New(), Name: name}
	if err := p.Lock(ctx, scope, Retry); err != nil {
		return LockScope{}, false, err
	}
	return scope, true, nil
}
