package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardline/abusegate/pkg/cache"
)

func TestMemoryStore_IncrWithTTL_KeepsOriginalExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	store := cache.NewMemoryStore(&cache.MemoryStoreOpts{
		TimeProvider: func() time.Time { return now },
	})

	ctx := context.Background()
	count, err := store.IncrWithTTL(ctx, "counter", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// A later increment must not slide the expiry forward.
	now = now.Add(5 * time.Second)
	count, err = store.IncrWithTTL(ctx, "counter", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	ttl, err := store.TTL(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, ttl)

	// Past the original window the key is gone and the counter restarts.
	now = now.Add(6 * time.Second)
	count, err = store.IncrWithTTL(ctx, "counter", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryStore_SetNX(t *testing.T) {
	store := cache.NewMemoryStore(nil)
	ctx := context.Background()

	stored, err := store.SetNX(ctx, "lock", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = store.SetNX(ctx, "lock", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, stored)

	value, found, err := store.Get(ctx, "lock")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "a", value)
}

func TestMemoryStore_ExpiredKeyIsAbsent(t *testing.T) {
	now := time.Unix(1700000000, 0)
	store := cache.NewMemoryStore(&cache.MemoryStoreOpts{
		TimeProvider: func() time.Time { return now },
	})
	ctx := context.Background()

	require.NoError(t, store.SetWithTTL(ctx, "flag", "1", time.Second))

	exists, err := store.Exists(ctx, "flag")
	require.NoError(t, err)
	assert.True(t, exists)

	now = now.Add(2 * time.Second)
	exists, err = store.Exists(ctx, "flag")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	store := cache.NewMemoryStore(nil)
	ctx := context.Background()

	const goroutines = 64
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_, _ = store.IncrWithTTL(ctx, "counter", time.Minute)
		}()
	}
	wg.Wait()

	value, found, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "64", value)
}
