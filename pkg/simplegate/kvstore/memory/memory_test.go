package memory_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-gate/pkg/simplegate/kvstore/memory"
	"github.com/tendant/simple-gate/pkg/simplegate/ratelimit"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	store := memory.New(memory.WithClock(func() time.Time { return now }))

	t.Run("Missing", func(t *testing.T) {
		_, ok, err := store.Get(ctx, "absent")
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("SetGet", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "k", []byte("[1,2]"), time.Minute))
		v, ok, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "[1,2]", string(v))
	})

	t.Run("ValueIsCopied", func(t *testing.T) {
		buf := []byte("abc")
		require.NoError(t, store.Set(ctx, "copy", buf, time.Minute))
		buf[0] = 'x'
		v, _, _ := store.Get(ctx, "copy")
		assert.Equal(t, "abc", string(v))
	})

	t.Run("Expiry", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "ttl", []byte("v"), time.Minute))

		now = now.Add(59 * time.Second)
		_, ok, _ := store.Get(ctx, "ttl")
		assert.True(t, ok)

		now = now.Add(time.Second)
		_, ok, _ = store.Get(ctx, "ttl")
		assert.False(t, ok)
	})
}

func TestMemoryStoreWithLimiter(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	limiter := ratelimit.New(memory.New(memory.WithClock(clock)), ratelimit.WithClock(clock))

	for i := 0; i < 5; i++ {
		require.True(t, limiter.Check(ctx, "u1", ratelimit.UploadPolicy).Allowed)
	}
	assert.False(t, limiter.Check(ctx, "u1", ratelimit.UploadPolicy).Allowed)

	now = now.Add(time.Minute)
	assert.True(t, limiter.Check(ctx, "u1", ratelimit.UploadPolicy).Allowed)
}

func TestMemoryStoreSweepsUnreadKeys(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	store := memory.New(memory.WithClock(clock))
	limiter := ratelimit.New(store, ratelimit.WithClock(clock))

	for i := 0; i < 1000; i++ {
		require.True(t, limiter.Check(ctx, fmt.Sprintf("ip_198.51.100.%d", i), ratelimit.DownloadPolicy).Allowed)
	}
	require.Equal(t, 1000, store.Len())

	now = now.Add(time.Hour)
	require.True(t, limiter.Check(ctx, "ip_203.0.113.7", ratelimit.DownloadPolicy).Allowed)

	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreSweepInterval(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	store := memory.New(
		memory.WithClock(func() time.Time { return now }),
		memory.WithSweepInterval(10*time.Minute),
	)

	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, store.Set(ctx, "b", []byte("1"), 0))

	now = now.Add(time.Minute)
	require.NoError(t, store.Set(ctx, "c", []byte("1"), time.Second))
	assert.Equal(t, 3, store.Len(), "no sweep before the interval elapses")

	now = now.Add(10 * time.Minute)
	require.NoError(t, store.Set(ctx, "d", []byte("1"), time.Second))
	assert.Equal(t, 2, store.Len(), "expired a and c are swept, b never expires")
}
