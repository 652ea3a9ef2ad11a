package simplegate

import (
	"log/slog"
	"time"

	"github.com/tendant/simple-gate/pkg/simplegate/clientid"
	"github.com/tendant/simple-gate/pkg/simplegate/objectkey"
	"github.com/tendant/simple-gate/pkg/simplegate/ratelimit"
	"github.com/tendant/simple-gate/pkg/simplegate/signedurl"
)

// Option is a functional option for configuring a Gateway
type Option func(*Gateway) error

// WithObjectStore sets the backend holding uploaded bytes
func WithObjectStore(store ObjectStore) Option {
	return func(g *Gateway) error {
		g.store = store
		return nil
	}
}

// WithStorageName labels the object store in errors and logs
func WithStorageName(name string) Option {
	return func(g *Gateway) error {
		g.storageName = name
		return nil
	}
}

// WithLimiter sets the rate limiter shared by uploads and downloads
func WithLimiter(limiter *ratelimit.Limiter) Option {
	return func(g *Gateway) error {
		if limiter != nil {
			g.limiter = limiter
		}
		return nil
	}
}

// WithSigner sets the signed URL issuer
func WithSigner(signer *signedurl.Signer) Option {
	return func(g *Gateway) error {
		if signer != nil {
			g.signer = signer
		}
		return nil
	}
}

// WithIdentifier sets how download clients are identified
func WithIdentifier(identifier *clientid.Identifier) Option {
	return func(g *Gateway) error {
		if identifier != nil {
			g.identifier = identifier
		}
		return nil
	}
}

// WithKeyGenerator sets how object keys are derived from uploads
func WithKeyGenerator(generator objectkey.Generator) Option {
	return func(g *Gateway) error {
		if generator != nil {
			g.keyGenerator = generator
		}
		return nil
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		if logger != nil {
			g.logger = logger
		}
		return nil
	}
}

// WithClock allows injection of a custom clock (primarily for testing)
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) error {
		if now != nil {
			g.now = now
		}
		return nil
	}
}

// WithMaxUploadSize sets the largest accepted upload in bytes
func WithMaxUploadSize(n int64) Option {
	return func(g *Gateway) error {
		if n > 0 {
			g.maxUploadSize = n
		}
		return nil
	}
}

// WithURLTTL sets the lifetime of issued download URLs
func WithURLTTL(ttl time.Duration) Option {
	return func(g *Gateway) error {
		if ttl >= time.Second {
			g.urlTTL = ttl
		}
		return nil
	}
}

// WithDownloadPath sets the base path of issued download URLs
func WithDownloadPath(path string) Option {
	return func(g *Gateway) error {
		if path != "" {
			g.downloadPath = path
		}
		return nil
	}
}

// WithUploadPolicy replaces the per-user upload limit
func WithUploadPolicy(policy ratelimit.Config) Option {
	return func(g *Gateway) error {
		g.uploadPolicy = policy
		return nil
	}
}

// WithDownloadPolicy replaces the base per-client download limit
func WithDownloadPolicy(policy ratelimit.Config) Option {
	return func(g *Gateway) error {
		g.downloadPolicy = policy
		return nil
	}
}
