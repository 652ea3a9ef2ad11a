// Package ratelimit implements a sliding-window limiter over a timestamp log
// kept in an external key-value store.
//
// Each key "<prefix>:<identifier>" maps to a JSON array of unix-second
// timestamps. A check reads the array, drops entries that fell out of the
// window, and, when admitted, appends the current second and writes the array
// back with a TTL equal to the window.
//
// The read and the write are separate store round trips with no lock around
// them. Concurrent checks for one identifier can read the same window and all
// be admitted, so a limit can be overshot by up to the number of racing
// requests. Callers must treat the limit as approximate under contention.
//
// The limiter fails open: a missing or failing store admits the request.
package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Store is the key-value backend holding timestamp logs.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent or
	// expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores value under key, expiring it after ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Config describes one rate-limit policy.
type Config struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
}

// Key returns the store key for identifier.
func (c Config) Key(identifier string) string {
	return c.KeyPrefix + ":" + identifier
}

func (c Config) windowSeconds() int64 {
	return int64(c.Window / time.Second)
}

// Result is the outcome of a check. Current is the post-admission count when
// Allowed, and the unchanged count otherwise.
type Result struct {
	Allowed   bool
	Current   int
	Limit     int
	Remaining int
	ResetAt   int64 // unix seconds
}

// ResetTime returns ResetAt as a time.Time.
func (r Result) ResetTime() time.Time {
	return time.Unix(r.ResetAt, 0)
}

// RetryAfter returns how long until the window frees a slot, never negative.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetTime().Sub(now.Truncate(time.Second))
	if d < 0 {
		return 0
	}
	return d
}

// Limiter checks requests against a Store.
type Limiter struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger used for store failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock allows injection of a custom clock (primarily for testing).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Limiter. A nil store yields a limiter that admits everything.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Enabled reports whether the limiter has a backing store.
func (l *Limiter) Enabled() bool {
	return l != nil && l.store != nil
}

// Check records a request for identifier under cfg and reports whether it is
// admitted.
func (l *Limiter) Check(ctx context.Context, identifier string, cfg Config) Result {
	now := l.now().Unix()

	if !l.Enabled() {
		return failOpen(cfg, now)
	}

	key := cfg.Key(identifier)

	raw, ok, err := l.store.Get(ctx, key)
	if err != nil {
		l.logger.Warn("rate limit store read failed, allowing request", "key", key, "err", err)
		return failOpen(cfg, now)
	}

	var timestamps []int64
	if ok {
		if err := json.Unmarshal(raw, &timestamps); err != nil {
			l.logger.Warn("discarding corrupt rate limit entry", "key", key, "err", err)
			timestamps = nil
		}
	}

	windowStart := now - cfg.windowSeconds()
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts > windowStart {
			valid = append(valid, ts)
		}
	}

	current := len(valid)
	allowed := current < cfg.MaxRequests

	if allowed {
		valid = append(valid, now)
		current++

		data, err := json.Marshal(valid)
		if err == nil {
			err = l.store.Set(ctx, key, data, cfg.Window)
		}
		if err != nil {
			l.logger.Warn("rate limit store write failed", "key", key, "err", err)
		}
	}

	resetAt := now
	if len(valid) > 0 {
		resetAt = valid[0] + cfg.windowSeconds()
	}

	return Result{
		Allowed:   allowed,
		Current:   current,
		Limit:     cfg.MaxRequests,
		Remaining: max(0, cfg.MaxRequests-current),
		ResetAt:   resetAt,
	}
}

func failOpen(cfg Config, now int64) Result {
	return Result{
		Allowed:   true,
		Current:   0,
		Limit:     cfg.MaxRequests,
		Remaining: cfg.MaxRequests,
		ResetAt:   now + cfg.windowSeconds(),
	}
}
