package bolt_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-gate/pkg/simplegate/kvstore/bolt"
	"github.com/tendant/simple-gate/pkg/simplegate/ratelimit"
)

func TestBoltStore(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	path := filepath.Join(t.TempDir(), "nested", "ratelimit.db")

	store, err := bolt.Open(path, bolt.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	_, ok, err := store.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte("[1700000000,1700000001]"), time.Minute))

	v, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, "[1700000000,1700000001]", string(v))

	t.Run("SurvivesReopen", func(t *testing.T) {
		require.NoError(t, store.Close())

		store, err = bolt.Open(path, bolt.WithClock(func() time.Time { return now }))
		require.NoError(t, err)

		v, ok, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.JSONEq(t, "[1700000000,1700000001]", string(v))
	})

	t.Run("Expiry", func(t *testing.T) {
		now = now.Add(time.Minute)
		_, ok, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	require.NoError(t, store.Close())
}

func TestBoltStoreWithLimiter(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	store, err := bolt.Open(filepath.Join(t.TempDir(), "rl.db"), bolt.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	limiter := ratelimit.New(store, ratelimit.WithClock(clock))
	policy := ratelimit.DownloadPolicy.WithLimit(2)

	assert.True(t, limiter.Check(ctx, "ip_192.0.2.1", policy).Allowed)
	assert.True(t, limiter.Check(ctx, "ip_192.0.2.1", policy).Allowed)
	res := limiter.Check(ctx, "ip_192.0.2.1", policy)
	assert.False(t, res.Allowed)
	assert.Equal(t, 2, res.Current)
}

func TestBoltStoreSweepsUnreadKeys(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	path := filepath.Join(t.TempDir(), "rl.db")

	store, err := bolt.Open(path, bolt.WithClock(clock))
	require.NoError(t, err)

	limiter := ratelimit.New(store, ratelimit.WithClock(clock))
	for i := 0; i < 200; i++ {
		require.True(t, limiter.Check(ctx, fmt.Sprintf("ip_198.51.100.%d", i), ratelimit.DownloadPolicy).Allowed)
	}
	n, err := store.Len()
	require.NoError(t, err)
	require.Equal(t, 200, n)

	now = now.Add(time.Hour)
	require.True(t, limiter.Check(ctx, "ip_203.0.113.7", ratelimit.DownloadPolicy).Allowed)

	n, err = store.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	t.Run("OpenSweeps", func(t *testing.T) {
		require.NoError(t, store.Close())

		now = now.Add(time.Hour)
		store, err = bolt.Open(path, bolt.WithClock(clock))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })

		n, err := store.Len()
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}
