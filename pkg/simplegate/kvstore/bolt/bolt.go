// Package bolt stores rate-limit windows in an embedded bbolt database, for
// single-node deployments that need windows to survive restarts.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/tendant/simple-gate/pkg/simplegate/ratelimit"
)

var bucketEntries = []byte("ratelimit")

// record is the on-disk envelope. Exp is unix nanoseconds, 0 for no expiry.
type record struct {
	Exp   int64           `json:"exp"`
	Value json.RawMessage `json:"v"`
}

// DefaultSweepInterval is how often Set scans the bucket for expired entries.
const DefaultSweepInterval = time.Minute

// Store wraps a bbolt database. Expired entries are dropped on read, on Open
// and by a periodic sweep run from Set.
type Store struct {
	db            *bbolt.DB
	now           func() time.Time
	sweepInterval time.Duration

	mu        sync.Mutex
	nextSweep time.Time
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

// Open opens or creates the database at path. The parent directory is
// created if it does not exist.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("bolt: create directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: create bucket: %w", err)
	}

	s := &Store{db: db, now: time.Now, sweepInterval: DefaultSweepInterval}
	for _, opt := range opts {
		opt(s)
	}

	now := s.now()
	if err := db.Update(func(tx *bbolt.Tx) error {
		return sweep(tx.Bucket(bucketEntries), now.UnixNano())
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: sweep: %w", err)
	}
	s.nextSweep = now.Add(s.sweepInterval)

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Get implements ratelimit.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		rec   record
		found bool
	)

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketEntries).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, false, fmt.Errorf("bolt: get %q: %w", key, err)
	}
	if !found {
		return nil, false, nil
	}

	if rec.Exp != 0 && s.now().UnixNano() >= rec.Exp {
		if err := s.delete(key, rec.Exp); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	return []byte(rec.Value), true, nil
}

// Set implements ratelimit.Store. The value must be valid JSON.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	rec := record{Value: json.RawMessage(value)}
	if ttl > 0 {
		rec.Exp = now.Add(ttl).UnixNano()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("bolt: encode %q: %w", key, err)
	}

	due := s.sweepDue(now)

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		if due {
			if err := sweep(b, now.UnixNano()); err != nil {
				return err
			}
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("bolt: put %q: %w", key, err)
	}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (s *Store) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketEntries).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *Store) sweepDue(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Before(s.nextSweep) {
		return false
	}
	s.nextSweep = now.Add(s.sweepInterval)
	return true
}

// sweep deletes every entry in b that expired at or before now (unix nanos).
// Unreadable records are left for the limiter to discard.
func sweep(b *bbolt.Bucket, now int64) error {
	var expired [][]byte
	err := b.ForEach(func(k, v []byte) error {
		var rec record
		if json.Unmarshal(v, &rec) == nil && rec.Exp != 0 && now >= rec.Exp {
			expired = append(expired, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range expired {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// delete removes key if it still carries the expiry observed by the caller.
func (s *Store) delete(key string, exp int64) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil || rec.Exp != exp {
			return nil
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("bolt: delete %q: %w", key, err)
	}
	return nil
}

var _ ratelimit.Store = (*Store)(nil)
