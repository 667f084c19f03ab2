package guest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/dropDatabas3/cartsync/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenKV struct {
	kv.Store
	getErr error
	setErr error
}

func (b brokenKV) Get(ctx context.Context, key string) (string, error) {
	if b.getErr != nil {
		return "", b.getErr
	}
	return b.Store.Get(ctx, key)
}

func (b brokenKV) Set(ctx context.Context, key, value string) error {
	if b.setErr != nil {
		return b.setErr
	}
	return b.Store.Set(ctx, key, value)
}

func TestSessionID_CreatesOnceAndPersists(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory("")
	p := NewProvider(store)

	sid, err := p.SessionID(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sid, Prefix))

	again, err := p.SessionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, sid, again)

	persisted, err := store.Get(ctx, StorageKey)
	require.NoError(t, err)
	assert.Equal(t, sid, persisted)

	// un proceso nuevo reutiliza el mismo id
	restarted, err := NewProvider(store).SessionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, sid, restarted)
}

func TestSessionID_UniqueAcrossInstalls(t *testing.T) {
	ctx := context.Background()
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		sid, err := NewProvider(kv.NewMemory("")).SessionID(ctx)
		require.NoError(t, err)
		require.False(t, seen[sid], "duplicate session id %s", sid)
		seen[sid] = true
	}
}

func TestSessionID_ConcurrentCallersShareOneID(t *testing.T) {
	ctx := context.Background()
	p := NewProvider(kv.NewMemory(""))

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid, err := p.SessionID(ctx)
			assert.NoError(t, err)
			ids[i] = sid
		}(i)
	}
	wg.Wait()
	for _, sid := range ids {
		assert.Equal(t, ids[0], sid)
	}
}

func TestSessionID_ReadErrorDoesNotRegenerate(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory("")
	require.NoError(t, store.Set(ctx, StorageKey, "g_existing"))

	p := NewProvider(brokenKV{Store: store, getErr: errors.New("io")})
	_, err := p.SessionID(ctx)
	require.Error(t, err)

	v, _ := store.Get(ctx, StorageKey)
	assert.Equal(t, "g_existing", v)
}

func TestSessionID_PersistFailureSurfaced(t *testing.T) {
	p := NewProvider(brokenKV{Store: kv.NewMemory(""), setErr: errors.New("full")})
	_, err := p.SessionID(context.Background())
	assert.Error(t, err)
}

func TestPeek(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory("")
	p := NewProvider(store)

	_, ok, err := p.Peek(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Get(ctx, StorageKey)
	assert.True(t, kv.IsNotFound(err), "Peek must not create a session id")

	sid, err := p.SessionID(ctx)
	require.NoError(t, err)
	peeked, ok, err := p.Peek(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, sid, peeked)
}
