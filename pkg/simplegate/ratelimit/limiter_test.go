package ratelimit_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-gate/pkg/simplegate/ratelimit"
)

type mapStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
	setErr error
	sets   int
}

func newMapStore() *mapStore {
	return &mapStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (s *mapStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *mapStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.sets++
	s.data[key] = value
	s.ttls[key] = ttl
	return nil
}

func (s *mapStore) timestamps(t *testing.T, key string) []int64 {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	require.NoError(t, json.Unmarshal(s.data[key], &out))
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClock() *clock {
	return &clock{t: time.Unix(1_700_000_000, 0)}
}

var policy = ratelimit.Config{MaxRequests: 3, Window: 60 * time.Second, KeyPrefix: "rate-limit:test"}

func TestCheckAdmitsExactlyLimit(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	clk := newClock()
	limiter := ratelimit.New(store, ratelimit.WithClock(clk.Now))

	for i := 1; i <= policy.MaxRequests; i++ {
		res := limiter.Check(ctx, "u1", policy)
		require.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, i, res.Current)
		assert.Equal(t, policy.MaxRequests, res.Limit)
		assert.Equal(t, res.Limit, res.Remaining+res.Current)
		clk.Advance(time.Second)
	}

	res := limiter.Check(ctx, "u1", policy)
	assert.False(t, res.Allowed)
	assert.Equal(t, policy.MaxRequests, res.Current)
	assert.Equal(t, 0, res.Remaining)

	assert.Len(t, store.timestamps(t, "rate-limit:test:u1"), policy.MaxRequests, "rejected request is not recorded")
	assert.Equal(t, policy.Window, store.ttls["rate-limit:test:u1"])
}

func TestCheckWindowSlides(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	start := clk.Now().Unix()
	limiter := ratelimit.New(newMapStore(), ratelimit.WithClock(clk.Now))

	for i := 0; i < policy.MaxRequests; i++ {
		require.True(t, limiter.Check(ctx, "u1", policy).Allowed)
		clk.Advance(10 * time.Second)
	}

	res := limiter.Check(ctx, "u1", policy)
	require.False(t, res.Allowed)
	assert.Equal(t, start+60, res.ResetAt, "reset follows the oldest retained entry")

	// At start+60 the first entry is exactly on the window boundary and is pruned.
	clk.Advance(time.Duration(start+60-clk.Now().Unix()) * time.Second)
	res = limiter.Check(ctx, "u1", policy)
	assert.True(t, res.Allowed)
	assert.Equal(t, policy.MaxRequests, res.Current)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, start+10+60, res.ResetAt)
}

func TestCheckFirstRequestResetAt(t *testing.T) {
	clk := newClock()
	limiter := ratelimit.New(newMapStore(), ratelimit.WithClock(clk.Now))

	res := limiter.Check(context.Background(), "u1", policy)
	assert.Equal(t, clk.Now().Unix()+60, res.ResetAt)
}

func TestCheckZeroLimitRejectsWithResetNow(t *testing.T) {
	clk := newClock()
	store := newMapStore()
	limiter := ratelimit.New(store, ratelimit.WithClock(clk.Now))

	res := limiter.Check(context.Background(), "fp_0123456789abcdef", policy.WithLimit(0))
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Current)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, clk.Now().Unix(), res.ResetAt)
	assert.Zero(t, store.sets)
}

func TestCheckIdentifiersAndPrefixesAreIndependent(t *testing.T) {
	ctx := context.Background()
	limiter := ratelimit.New(newMapStore())
	one := policy.WithLimit(1)

	assert.True(t, limiter.Check(ctx, "a", one).Allowed)
	assert.False(t, limiter.Check(ctx, "a", one).Allowed)
	assert.True(t, limiter.Check(ctx, "b", one).Allowed)

	other := one
	other.KeyPrefix = "rate-limit:other"
	assert.True(t, limiter.Check(ctx, "a", other).Allowed)
}

func TestCheckFailsOpen(t *testing.T) {
	clk := newClock()

	t.Run("nil store", func(t *testing.T) {
		limiter := ratelimit.New(nil, ratelimit.WithClock(clk.Now))
		assert.False(t, limiter.Enabled())
		for i := 0; i < 10; i++ {
			res := limiter.Check(context.Background(), "u1", policy)
			assert.True(t, res.Allowed)
			assert.Equal(t, 0, res.Current)
			assert.Equal(t, policy.MaxRequests, res.Remaining)
			assert.Equal(t, clk.Now().Unix()+60, res.ResetAt)
		}
	})

	t.Run("read error", func(t *testing.T) {
		store := newMapStore()
		store.getErr = errors.New("connection refused")
		limiter := ratelimit.New(store, ratelimit.WithClock(clk.Now))

		res := limiter.Check(context.Background(), "u1", policy)
		assert.True(t, res.Allowed)
		assert.Equal(t, 0, res.Current)
		assert.Equal(t, policy.MaxRequests, res.Remaining)
		assert.Zero(t, store.sets)
	})

	t.Run("write error", func(t *testing.T) {
		store := newMapStore()
		store.setErr = errors.New("read only")
		limiter := ratelimit.New(store, ratelimit.WithClock(clk.Now))

		res := limiter.Check(context.Background(), "u1", policy)
		assert.True(t, res.Allowed)
		assert.Equal(t, 1, res.Current)
	})
}

func TestCheckCorruptEntryTreatedAsEmpty(t *testing.T) {
	store := newMapStore()
	store.data["rate-limit:test:u1"] = []byte("not json")
	limiter := ratelimit.New(store)

	res := limiter.Check(context.Background(), "u1", policy)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Current)
}

// gatedStore holds every Get until n readers have arrived, forcing them to
// observe the same window.
type gatedStore struct {
	*mapStore
	arrived sync.WaitGroup
}

func (s *gatedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := s.mapStore.Get(ctx, key)
	s.arrived.Done()
	s.arrived.Wait()
	return v, ok, err
}

func TestCheckConcurrentRequestsMayOverAdmit(t *testing.T) {
	const racers = 4

	store := &gatedStore{mapStore: newMapStore()}
	store.arrived.Add(racers)
	limiter := ratelimit.New(store)
	one := policy.WithLimit(1)

	results := make([]ratelimit.Result, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = limiter.Check(context.Background(), "u1", one)
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		assert.True(t, res.Allowed, "racer %d read the same empty window", i)
		assert.Equal(t, 1, res.Current)
	}
}

func TestResultRetryAfter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	assert.Equal(t, 30*time.Second, ratelimit.Result{ResetAt: now.Unix() + 30}.RetryAfter(now))
	assert.Equal(t, time.Duration(0), ratelimit.Result{ResetAt: now.Unix() - 5}.RetryAfter(now))
}

func TestBuiltInPolicies(t *testing.T) {
	assert.Equal(t, 5, ratelimit.UploadPolicy.MaxRequests)
	assert.Equal(t, time.Minute, ratelimit.UploadPolicy.Window)
	assert.Equal(t, "rate-limit:upload:u1", ratelimit.UploadPolicy.Key("u1"))

	assert.Equal(t, 30, ratelimit.DownloadPolicy.MaxRequests)
	assert.Equal(t, "rate-limit:download:ip_192.0.2.1", ratelimit.DownloadPolicy.Key("ip_192.0.2.1"))
}
