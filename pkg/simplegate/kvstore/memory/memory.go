// Package memory provides an in-process key-value store with TTL. It is only
// consistent within a single process and is meant for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tendant/simple-gate/pkg/simplegate/ratelimit"
)

type entry struct {
	value   []byte
	expires time.Time
}

// DefaultSweepInterval is how often Set scans the map for expired entries.
const DefaultSweepInterval = time.Minute

// Store is a mutex-guarded map. Expired entries are dropped when read and by
// a periodic sweep run from Set, so keys that are never read again do not
// accumulate.
type Store struct {
	mu            sync.RWMutex
	data          map[string]entry
	now           func() time.Time
	sweepInterval time.Duration
	nextSweep     time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock allows injection of a custom clock (primarily for testing).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSweepInterval sets the minimum time between expiry sweeps.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		data:          make(map[string]entry),
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.nextSweep = s.now().Add(s.sweepInterval)
	return s
}

// Get implements ratelimit.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}

	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		s.mu.Lock()
		if cur, ok := s.data[key]; ok && cur.expires.Equal(e.expires) {
			delete(s.data, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set implements ratelimit.Store. A non-positive ttl never expires.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	e := entry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !now.Before(s.nextSweep) {
		s.sweepLocked(now)
	}
	s.data[key] = e
	return nil
}

// sweepLocked deletes every expired entry. s.mu must be held for writing.
func (s *Store) sweepLocked(now time.Time) {
	for k, e := range s.data {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(s.data, k)
		}
	}
	s.nextSweep = now.Add(s.sweepInterval)
}

// Len returns the number of stored entries, including expired ones not yet
// evicted.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

var _ ratelimit.Store = (*Store)(nil)
