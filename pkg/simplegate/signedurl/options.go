package signedurl

import "time"

// Option is a functional option for configuring a Signer
type Option func(*Signer)

// WithSecret sets the provider of the HMAC secret
func WithSecret(provider SecretProvider) Option {
	return func(s *Signer) {
		if provider != nil {
			s.secret = provider
		}
	}
}

// WithSecretKey sets a static HMAC secret
func WithSecretKey(key string) Option {
	return WithSecret(StaticSecret(key))
}

// WithDefaultTTL sets the lifetime used when Issue is called with a zero TTL.
// Default is 1 hour.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Signer) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// WithClock replaces the time source (primarily for testing)
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}
