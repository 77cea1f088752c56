package persister

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPersister_SameExecutorCanAlwaysLock(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister(10 * time.Millisecond)
	scope := LockScope{ID: uuid.New(), ExecutorID: uuid.New(), Name: "test1"}

	require.NoError(t, p.Lock(ctx, scope, Initial))
	require.NoError(t, p.Lock(ctx, scope, Failed))
	require.NoError(t, p.Lock(ctx, scope, Retry))
	require.NoError(t, p.Lock(ctx, scope, Executing))
	require.NoError(t, p.Lock(ctx, scope, Finished))
}

func TestMemoryPersister_DifferentExecutorCanLockConditionally(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister(10 * time.Millisecond)

	id := uuid.New()
	scope1 := LockScope{ID: id, ExecutorID: uuid.New(), Name: "test1"}
	scope2 := LockScope{ID: id, ExecutorID: uuid.New(), Name: "test1"}

	require.NoError(t, p.Lock(ctx, scope1, Initial))

	err := p.Lock(ctx, scope2, Executing)
	assert.ErrorIs(t, err, ErrLocked)

	time.Sleep(13 * time.Millisecond)

	require.NoError(t, p.Lock(ctx, scope2, Failed))
	require.NoError(t, p.Lock(ctx, scope1, Executing))
}

func TestMemoryPersister_StoreAndRetrieve(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister(time.Second)
	id := uuid.New()

	_, err := p.Retrieve(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, p.Store(ctx, id, 0, `"initial"`))
	require.NoError(t, p.Store(ctx, id, 1, `true`))

	rec, err := p.Retrieve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 1}, rec.Steps())
	v, ok := rec.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "true", v)
}

func TestMemoryPersister_SaveInitialState(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister(time.Second)
	scope := LockScope{ID: uuid.New(), ExecutorID: uuid.New(), Name: "order"}

	require.NoError(t, p.SaveInitialState(ctx, scope, `3`))

	rec, err := p.Retrieve(ctx, scope.ID)
	require.NoError(t, err)
	v, ok := rec.Get(0)
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	err = p.Lock(ctx, LockScope{ID: scope.ID, ExecutorID: uuid.New(), Name: scope.Name}, Executing)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestMemoryPersister_GetNextFailed(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister(5 * time.Millisecond)

	_, ok, err := p.GetNextFailed(ctx, 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	scope := LockScope{ID: uuid.New(), ExecutorID: uuid.New(), Name: "create_full_order"}
	require.NoError(t, p.Lock(ctx, scope, Failed))

	got, ok, err := p.GetNextFailed(ctx, 5*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, scope.ID, got.ID)
	assert.Equal(t, scope.Name, got.Name)
	assert.NotEqual(t, scope.ExecutorID, got.ExecutorID)

	p.mu.RLock()
	lc := p.locks[got.ID]
	p.mu.RUnlock()
	assert.Equal(t, Retry, lc.State)
}

func TestMemoryPersister_FinishedDeletesRows(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister(time.Second)
	scope := LockScope{ID: uuid.New(), ExecutorID: uuid.New(), Name: "order"}

	require.NoError(t, p.SaveInitialState(ctx, scope, `1`))
	require.NoError(t, p.Lock(ctx, scope, Finished))

	_, err := p.Retrieve(ctx, scope.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
