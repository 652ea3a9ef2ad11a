package config

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-gate/pkg/simplegate/ratelimit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildLogger(t *testing.T) {
	cfg := defaults()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"

	var buf bytes.Buffer
	logger, err := cfg.BuildLogger(&buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "component", "test")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "test", entry["component"])
}

func TestBuildMemory(t *testing.T) {
	cfg := defaults()
	cfg.RateLimitStoreURL = "memory://"
	cfg.PasswordIterations = 1000

	comps, err := cfg.Build(context.Background(), discardLogger())
	require.NoError(t, err)
	defer comps.Close()

	require.NotNil(t, comps.Gateway)
	require.NotNil(t, comps.Accounts)
	require.NotNil(t, comps.Sessions)
	assert.True(t, comps.Signer.UsesFallbackSecret())
	assert.Equal(t, 1000, comps.Hasher.Iterations())
	assert.Equal(t, int64(10<<20), comps.Gateway.MaxUploadSize())
}

func TestBuildFilesystemStorage(t *testing.T) {
	cfg := defaults()
	cfg.StorageURL = "file://" + t.TempDir()
	cfg.SigningSecret = "sign"

	comps, err := cfg.Build(context.Background(), discardLogger())
	require.NoError(t, err)
	defer comps.Close()

	assert.False(t, comps.Signer.UsesFallbackSecret())
}

func TestBuildRateLimitStores(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name     string
		storeURL string
		enabled  bool
	}{
		{"disabled", "", false},
		{"memory", "memory://", true},
		{"redis", "redis://" + mr.Addr() + "/0", true},
		{"bolt", "bolt://" + filepath.Join(t.TempDir(), "limits.db"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			cfg.RateLimitStoreURL = tt.storeURL

			comps := &Components{}
			defer comps.Close()

			store, err := cfg.buildRateLimitStore(context.Background(), comps)
			require.NoError(t, err)

			limiter := ratelimit.New(store)
			assert.Equal(t, tt.enabled, limiter.Enabled())

			policy := ratelimit.Config{MaxRequests: 1, Window: cfg.UploadRateWindow, KeyPrefix: ratelimit.UploadKeyPrefix}
			first := limiter.Check(context.Background(), "user-1", policy)
			second := limiter.Check(context.Background(), "user-1", policy)
			assert.True(t, first.Allowed)
			assert.Equal(t, !tt.enabled, second.Allowed)
		})
	}

	t.Run("unreachable redis", func(t *testing.T) {
		cfg := defaults()
		cfg.RateLimitStoreURL = "redis://127.0.0.1:1/0"

		_, err := cfg.Build(context.Background(), discardLogger())
		assert.Error(t, err)
	})
}

func TestBuildUserRepositoryRejectsUnknownScheme(t *testing.T) {
	cfg := defaults()
	cfg.DatabaseURL = "mysql://localhost/db"

	_, err := cfg.buildUserRepository(context.Background(), &Components{})
	assert.Error(t, err)
}

func TestSessionSecret(t *testing.T) {
	cfg := defaults()
	assert.Equal(t, "default-secret", cfg.sessionSecret(discardLogger()))

	cfg.SigningSecret = "sign"
	assert.Equal(t, "sign", cfg.sessionSecret(discardLogger()))

	cfg.JWTSecret = "jwt"
	assert.Equal(t, "jwt", cfg.sessionSecret(discardLogger()))
}
