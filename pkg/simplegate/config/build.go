package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-gate/pkg/simplegate"
	"github.com/tendant/simple-gate/pkg/simplegate/api"
	"github.com/tendant/simple-gate/pkg/simplegate/clientid"
	boltstore "github.com/tendant/simple-gate/pkg/simplegate/kvstore/bolt"
	kvmemory "github.com/tendant/simple-gate/pkg/simplegate/kvstore/memory"
	redisstore "github.com/tendant/simple-gate/pkg/simplegate/kvstore/redis"
	"github.com/tendant/simple-gate/pkg/simplegate/password"
	"github.com/tendant/simple-gate/pkg/simplegate/ratelimit"
	repomemory "github.com/tendant/simple-gate/pkg/simplegate/repo/memory"
	repopg "github.com/tendant/simple-gate/pkg/simplegate/repo/postgres"
	"github.com/tendant/simple-gate/pkg/simplegate/signedurl"
	fsstorage "github.com/tendant/simple-gate/pkg/simplegate/storage/fs"
	memorystorage "github.com/tendant/simple-gate/pkg/simplegate/storage/memory"
	s3storage "github.com/tendant/simple-gate/pkg/simplegate/storage/s3"
)

// Components are the wired collaborators of a running server.
type Components struct {
	Gateway  *simplegate.Gateway
	Accounts *simplegate.Accounts
	Sessions *api.Sessions
	Signer   *signedurl.Signer
	Hasher   *password.Hasher

	closers []func() error
}

// Close releases connections held by the components
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildLogger creates the process logger writing to w
func (c *ServerConfig) BuildLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("log_level must be one of debug, info, warn, error, got: %s", s)
	}
	return level, nil
}

// BuildSigner creates the signed URL issuer. Outside production an empty
// secret falls back to signedurl.FallbackSecret with a warning.
func (c *ServerConfig) BuildSigner(logger *slog.Logger) *signedurl.Signer {
	signer := signedurl.New(
		signedurl.WithSecretKey(c.SigningSecret),
		signedurl.WithDefaultTTL(c.SignedURLTTL),
	)
	if signer.UsesFallbackSecret() {
		logger.Warn("SIGNING_SECRET is not set, signed URLs use the built-in fallback secret")
	}
	return signer
}

// BuildHasher creates the password hasher
func (c *ServerConfig) BuildHasher() *password.Hasher {
	return password.New(password.WithIterations(c.PasswordIterations))
}

// Build wires every component from the configuration. Callers must Close
// the result.
func (c *ServerConfig) Build(ctx context.Context, logger *slog.Logger) (*Components, error) {
	comps := &Components{}
	fail := func(err error) (*Components, error) {
		_ = comps.Close()
		return nil, err
	}

	store, storageName, err := c.buildObjectStore(ctx)
	if err != nil {
		return fail(fmt.Errorf("failed to build object store: %w", err))
	}

	rlStore, err := c.buildRateLimitStore(ctx, comps)
	if err != nil {
		return fail(fmt.Errorf("failed to build rate limit store: %w", err))
	}
	if rlStore == nil {
		logger.Warn("RATE_LIMIT_STORE_URL is not set, rate limiting is disabled")
	}

	repo, err := c.buildUserRepository(ctx, comps)
	if err != nil {
		return fail(fmt.Errorf("failed to build user repository: %w", err))
	}

	comps.Signer = c.BuildSigner(logger)
	comps.Hasher = c.BuildHasher()

	comps.Gateway, err = simplegate.New(
		simplegate.WithObjectStore(store),
		simplegate.WithStorageName(storageName),
		simplegate.WithLimiter(ratelimit.New(rlStore, ratelimit.WithLogger(logger))),
		simplegate.WithSigner(comps.Signer),
		simplegate.WithIdentifier(clientid.New(clientid.WithTrustedHeader(c.TrustedIPHeader))),
		simplegate.WithLogger(logger),
		simplegate.WithMaxUploadSize(c.MaxUploadBytes),
		simplegate.WithURLTTL(c.SignedURLTTL),
		simplegate.WithDownloadPath(c.DownloadPath),
		simplegate.WithUploadPolicy(ratelimit.Config{
			MaxRequests: c.UploadRateLimit,
			Window:      c.UploadRateWindow,
			KeyPrefix:   ratelimit.UploadKeyPrefix,
		}),
		simplegate.WithDownloadPolicy(ratelimit.Config{
			MaxRequests: c.DownloadRateLimit,
			Window:      c.DownloadRateWindow,
			KeyPrefix:   ratelimit.DownloadKeyPrefix,
		}),
	)
	if err != nil {
		return fail(fmt.Errorf("failed to build gateway: %w", err))
	}

	comps.Accounts = simplegate.NewAccounts(repo,
		simplegate.WithHasher(comps.Hasher),
		simplegate.WithAccountsLogger(logger),
	)

	comps.Sessions, err = api.NewSessions([]byte(c.sessionSecret(logger)),
		api.WithSessionTTL(c.SessionTTL),
		api.WithSecureCookie(c.IsProduction()),
	)
	if err != nil {
		return fail(fmt.Errorf("failed to build sessions: %w", err))
	}

	return comps, nil
}

func (c *ServerConfig) sessionSecret(logger *slog.Logger) string {
	switch {
	case c.JWTSecret != "":
		return c.JWTSecret
	case c.SigningSecret != "":
		logger.Warn("JWT_SECRET is not set, sessions are signed with SIGNING_SECRET")
		return c.SigningSecret
	default:
		logger.Warn("JWT_SECRET is not set, sessions use the built-in fallback secret")
		return signedurl.FallbackSecret
	}
}

// StorageLocation is a parsed STORAGE_URL
type StorageLocation struct {
	Type string // memory, fs, s3
	Dir  string
	S3   s3storage.Config
}

func parseStorageURL(raw string) (StorageLocation, error) {
	if raw == "" || raw == "memory" || raw == "memory://" {
		return StorageLocation{Type: "memory"}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return StorageLocation{}, fmt.Errorf("invalid STORAGE_URL: %w", err)
	}

	switch u.Scheme {
	case "file":
		dir := u.Path
		if u.Host != "" {
			dir = u.Host + u.Path
		}
		if dir == "" {
			return StorageLocation{}, fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
		}
		return StorageLocation{Type: "fs", Dir: dir}, nil
	case "s3":
		if u.Host == "" {
			return StorageLocation{}, fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
		}
		q := u.Query()
		loc := StorageLocation{Type: "s3", S3: s3storage.Config{
			Bucket:       u.Host,
			Region:       q.Get("region"),
			Endpoint:     q.Get("endpoint"),
			SSEAlgorithm: q.Get("sse"),
			SSEKMSKeyID:  q.Get("sse_kms_key_id"),
		}}
		loc.S3.EnableSSE = loc.S3.SSEAlgorithm != ""
		if loc.S3.UsePathStyle, err = parseBoolParam(q, "path_style"); err != nil {
			return StorageLocation{}, err
		}
		if loc.S3.CreateBucketIfNotExist, err = parseBoolParam(q, "create_bucket"); err != nil {
			return StorageLocation{}, err
		}
		return loc, nil
	default:
		return StorageLocation{}, fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", raw)
	}
}

func parseBoolParam(q url.Values, name string) (bool, error) {
	raw := q.Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for %s in STORAGE_URL: %w", name, err)
	}
	return v, nil
}

func (c *ServerConfig) buildObjectStore(ctx context.Context) (simplegate.ObjectStore, string, error) {
	loc, err := parseStorageURL(c.StorageURL)
	if err != nil {
		return nil, "", err
	}

	switch loc.Type {
	case "memory":
		return memorystorage.New(), "memory", nil
	case "fs":
		backend, err := fsstorage.New(fsstorage.Config{BaseDir: loc.Dir})
		if err != nil {
			return nil, "", err
		}
		return backend, "fs", nil
	case "s3":
		cfg := loc.S3
		if cfg.Region == "" {
			cfg.Region = c.AWSRegion
		}
		cfg.AccessKeyID = c.AWSAccessKeyID
		cfg.SecretAccessKey = c.AWSSecretAccessKey
		backend, err := s3storage.New(ctx, cfg)
		if err != nil {
			return nil, "", err
		}
		return backend, "s3", nil
	default:
		return nil, "", fmt.Errorf("unsupported storage type: %s", loc.Type)
	}
}

func (c *ServerConfig) buildRateLimitStore(ctx context.Context, comps *Components) (ratelimit.Store, error) {
	raw := c.RateLimitStoreURL
	switch {
	case raw == "":
		return nil, nil
	case raw == "memory" || raw == "memory://":
		return kvmemory.New(), nil
	case strings.HasPrefix(raw, "redis://"), strings.HasPrefix(raw, "rediss://"):
		store, err := redisstore.Open(ctx, raw)
		if err != nil {
			return nil, err
		}
		comps.closers = append(comps.closers, store.Close)
		return store, nil
	case strings.HasPrefix(raw, "bolt://"):
		path := strings.TrimPrefix(raw, "bolt://")
		if path == "" {
			return nil, errors.New("bolt path cannot be empty in RATE_LIMIT_STORE_URL")
		}
		store, err := boltstore.Open(path)
		if err != nil {
			return nil, err
		}
		comps.closers = append(comps.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported RATE_LIMIT_STORE_URL format: %s (use 'memory://', 'redis://...', or 'bolt://...')", raw)
	}
}

func (c *ServerConfig) buildUserRepository(ctx context.Context, comps *Components) (simplegate.UserRepository, error) {
	dbURL := c.DatabaseURL
	if dbURL == "" || dbURL == "memory" {
		return repomemory.New(), nil
	}

	if !strings.HasPrefix(dbURL, "postgres://") && !strings.HasPrefix(dbURL, "postgresql://") {
		return nil, fmt.Errorf("unsupported DATABASE_URL format (use 'memory' or 'postgresql://...')")
	}

	if err := repopg.Migrate(dbURL); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	comps.closers = append(comps.closers, func() error {
		pool.Close()
		return nil
	})

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return repopg.NewWithPool(pool), nil
}
