package credential

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dropDatabas3/cartsync/internal/identity"
	"github.com/dropDatabas3/cartsync/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyKV envuelve un kv en memoria e inyecta fallas por operación.
type flakyKV struct {
	kv.Store
	failGet    error
	failSet    error
	failRemove error
	gets       atomic.Int32
}

func (f *flakyKV) Get(ctx context.Context, key string) (string, error) {
	f.gets.Add(1)
	if f.failGet != nil {
		return "", f.failGet
	}
	return f.Store.Get(ctx, key)
}

func (f *flakyKV) Set(ctx context.Context, key, value string) error {
	if f.failSet != nil {
		return f.failSet
	}
	return f.Store.Set(ctx, key, value)
}

func (f *flakyKV) Remove(ctx context.Context, key string) error {
	if f.failRemove != nil {
		return f.failRemove
	}
	return f.Store.Remove(ctx, key)
}

func TestStore_GetCachesAfterFirstRead(t *testing.T) {
	ctx := context.Background()
	backing := &flakyKV{Store: kv.NewMemory("")}
	require.NoError(t, backing.Store.Set(ctx, StorageKey, `{"token":"t1","userId":"u1"}`))

	s := NewStore(backing)
	c, ok := s.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "t1", c.Token)

	_, ok = s.Get(ctx)
	require.True(t, ok)
	assert.EqualValues(t, 1, backing.gets.Load())
}

func TestStore_AbsentIsCachedToo(t *testing.T) {
	ctx := context.Background()
	backing := &flakyKV{Store: kv.NewMemory("")}
	s := NewStore(backing)

	_, ok := s.Get(ctx)
	assert.False(t, ok)
	_, ok = s.Get(ctx)
	assert.False(t, ok)
	assert.EqualValues(t, 1, backing.gets.Load())
}

func TestStore_ReadFailureFailsOpen(t *testing.T) {
	backing := &flakyKV{Store: kv.NewMemory(""), failGet: errors.New("disk on fire")}
	s := NewStore(backing)
	_, ok := s.Get(context.Background())
	assert.False(t, ok)
}

func TestStore_CorruptPayloadFailsOpen(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemory("")
	require.NoError(t, backing.Set(ctx, StorageKey, "not-json"))
	_, ok := NewStore(backing).Get(ctx)
	assert.False(t, ok)
}

func TestStore_SetIsVisibleImmediately(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemory("")
	s := NewStore(backing)

	_, ok := s.Get(ctx)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, identity.Credential{Token: "t2", UserID: "u2"}))
	c, ok := s.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "t2", c.Token)

	raw, err := backing.Get(ctx, StorageKey)
	require.NoError(t, err)
	assert.Contains(t, raw, `"t2"`)

	// sobrevive a un "reinicio"
	c, ok = NewStore(backing).Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "u2", c.UserID)
}

func TestStore_SetFailureSurfacedAndCacheUntouched(t *testing.T) {
	ctx := context.Background()
	backing := &flakyKV{Store: kv.NewMemory("")}
	s := NewStore(backing)
	require.NoError(t, s.Set(ctx, identity.Credential{Token: "old"}))

	backing.failSet = errors.New("quota")
	err := s.Set(ctx, identity.Credential{Token: "new"})
	require.Error(t, err)

	c, ok := s.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "old", c.Token)
}

func TestStore_SetRejectsEmptyToken(t *testing.T) {
	s := NewStore(kv.NewMemory(""))
	assert.Error(t, s.Set(context.Background(), identity.Credential{}))
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	backing := &flakyKV{Store: kv.NewMemory("")}
	s := NewStore(backing)
	require.NoError(t, s.Set(ctx, identity.Credential{Token: "t"}))

	require.NoError(t, s.Clear(ctx))
	_, ok := s.Get(ctx)
	assert.False(t, ok)
	_, err := backing.Store.Get(ctx, StorageKey)
	assert.True(t, kv.IsNotFound(err))
}

func TestStore_ClearFailureSurfacedButProcessLogsOut(t *testing.T) {
	ctx := context.Background()
	backing := &flakyKV{Store: kv.NewMemory("")}
	s := NewStore(backing)
	require.NoError(t, s.Set(ctx, identity.Credential{Token: "t"}))

	backing.failRemove = errors.New("readonly fs")
	require.Error(t, s.Clear(ctx))

	_, ok := s.Get(ctx)
	assert.False(t, ok)
}

func TestStore_ConcurrentColdGets(t *testing.T) {
	ctx := context.Background()
	backing := &flakyKV{Store: kv.NewMemory("")}
	require.NoError(t, backing.Store.Set(ctx, StorageKey, `{"token":"t"}`))
	s := NewStore(backing)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, ok := s.Get(ctx)
			assert.True(t, ok)
			assert.Equal(t, "t", c.Token)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, backing.gets.Load(), int32(32))
}
