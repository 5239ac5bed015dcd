package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/beancrawl/internal/cache"
	"github.com/jonesrussell/beancrawl/internal/domain"
)

func TestComputeHash_Deterministic(t *testing.T) {
	h1 := cache.ComputeHash([]byte("catalog body"))
	h2 := cache.ComputeHash([]byte("catalog body"))
	h3 := cache.ComputeHash([]byte("different body"))

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64, "sha-256 hex")
}

func TestMemoryCache_PutGet(t *testing.T) {
	c := cache.NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "hash1", "catalog", []byte("v1"), time.Hour))

	got, found, err := c.Get(ctx, "hash1", "catalog")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v1"), got)

	// Different field under the same hash is a separate slot.
	_, found, err = c.Get(ctx, "hash1", "other")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_IdempotentPut(t *testing.T) {
	c := cache.NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "hash1", "f", []byte("same"), time.Hour))
	assert.NoError(t, c.Put(ctx, "hash1", "f", []byte("same"), time.Hour))
}

func TestMemoryCache_CollisionIsError(t *testing.T) {
	c := cache.NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "hash1", "f", []byte("one"), time.Hour))

	err := c.Put(ctx, "hash1", "f", []byte("two"), time.Hour)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCacheCollision))

	// The original value survives the rejected write.
	got, found, _ := c.Get(ctx, "hash1", "f")
	assert.True(t, found)
	assert.Equal(t, []byte("one"), got)
}

func TestMemoryCache_ExpiryIsMissAndOverwritable(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := cache.NewMemoryCache().WithClock(func() time.Time { return current })
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "hash1", "f", []byte("old"), time.Minute))

	current = current.Add(2 * time.Minute)

	_, found, err := c.Get(ctx, "hash1", "f")
	require.NoError(t, err)
	assert.False(t, found, "expired entry reads as a miss")

	// A different value can replace the expired entry without a
	// collision error.
	require.NoError(t, c.Put(ctx, "hash1", "f", []byte("new"), time.Minute))

	got, found, _ := c.Get(ctx, "hash1", "f")
	assert.True(t, found)
	assert.Equal(t, []byte("new"), got)
}

func TestMemoryCache_Sweep(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := cache.NewMemoryCache().WithClock(func() time.Time { return current })
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "h1", "f", []byte("a"), time.Minute))
	require.NoError(t, c.Put(ctx, "h2", "f", []byte("b"), time.Hour))
	assert.Equal(t, 2, c.Len())

	current = current.Add(2 * time.Minute)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
}
