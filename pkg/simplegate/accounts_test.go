package simplegate_test

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-gate/pkg/simplegate"
	"github.com/tendant/simple-gate/pkg/simplegate/password"
	repomemory "github.com/tendant/simple-gate/pkg/simplegate/repo/memory"
)

func newAccounts(repo simplegate.UserRepository) *simplegate.Accounts {
	return simplegate.NewAccounts(repo,
		simplegate.WithHasher(password.New(password.WithIterations(1000))),
		simplegate.WithAccountsLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		simplegate.WithAccountsClock(func() time.Time { return time.Unix(1_700_000_000, 0) }),
	)
}

func validationReason(t *testing.T, err error) string {
	t.Helper()
	var vErr *simplegate.ValidationError
	require.True(t, errors.As(err, &vErr), "expected validation error, got %v", err)
	return vErr.Reason
}

func TestAccounts_Register(t *testing.T) {
	repo := repomemory.New()
	accounts := newAccounts(repo)
	ctx := context.Background()

	user, err := accounts.Register(ctx, simplegate.RegisterRequest{
		Email:    "  Alice@Example.COM ",
		Password: "correct horse",
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, "alice", user.Name)
	assert.False(t, password.IsLegacy(user.PasswordHash))
	assert.NotContains(t, user.PasswordHash, "correct horse")
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), user.CreatedAt)

	stored, err := repo.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, stored.ID)

	t.Run("explicit name", func(t *testing.T) {
		u, err := accounts.Register(ctx, simplegate.RegisterRequest{
			Email:    "bob@example.com",
			Password: "password1",
			Name:     " Bob ",
		})
		require.NoError(t, err)
		assert.Equal(t, "Bob", u.Name)
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := accounts.Register(ctx, simplegate.RegisterRequest{
			Email:    "ALICE@example.com",
			Password: "another password",
		})
		assert.ErrorIs(t, err, simplegate.ErrEmailTaken)
		assert.ErrorIs(t, err, simplegate.ErrValidation)
		assert.Equal(t, "This email is already registered", validationReason(t, err))
	})
}

func TestAccounts_RegisterValidation(t *testing.T) {
	accounts := newAccounts(repomemory.New())
	ctx := context.Background()

	tests := []struct {
		name   string
		req    simplegate.RegisterRequest
		reason string
	}{
		{"empty email", simplegate.RegisterRequest{Password: "password1"}, "Please provide a valid email address"},
		{"no at sign", simplegate.RegisterRequest{Email: "alice", Password: "password1"}, "Please provide a valid email address"},
		{"display name", simplegate.RegisterRequest{Email: "Alice <alice@example.com>", Password: "password1"}, "Please provide a valid email address"},
		{"short password", simplegate.RegisterRequest{Email: "alice@example.com", Password: "1234567"}, "Password must be at least 8 characters"},
		{"empty password", simplegate.RegisterRequest{Email: "alice@example.com"}, "Password must be at least 8 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := accounts.Register(ctx, tt.req)
			assert.ErrorIs(t, err, simplegate.ErrValidation)
			assert.Equal(t, tt.reason, validationReason(t, err))
		})
	}

	t.Run("multibyte password counts characters", func(t *testing.T) {
		_, err := accounts.Register(ctx, simplegate.RegisterRequest{Email: "carol@example.com", Password: "пароль12"})
		assert.NoError(t, err)
	})
}

func TestAccounts_Authenticate(t *testing.T) {
	repo := repomemory.New()
	accounts := newAccounts(repo)
	ctx := context.Background()

	registered, err := accounts.Register(ctx, simplegate.RegisterRequest{Email: "alice@example.com", Password: "correct horse"})
	require.NoError(t, err)

	t.Run("success", func(t *testing.T) {
		user, err := accounts.Authenticate(ctx, "Alice@Example.com", "correct horse")
		require.NoError(t, err)
		assert.Equal(t, registered.ID, user.ID)
	})

	t.Run("wrong password and unknown user look the same", func(t *testing.T) {
		_, wrongPw := accounts.Authenticate(ctx, "alice@example.com", "wrong horse")
		_, unknown := accounts.Authenticate(ctx, "nobody@example.com", "correct horse")

		assert.ErrorIs(t, wrongPw, simplegate.ErrAuthentication)
		assert.ErrorIs(t, unknown, simplegate.ErrAuthentication)
		assert.Equal(t, wrongPw.Error(), unknown.Error())
	})

	t.Run("missing credentials", func(t *testing.T) {
		_, err := accounts.Authenticate(ctx, "", "x")
		assert.Equal(t, "Please provide email and password", validationReason(t, err))

		_, err = accounts.Authenticate(ctx, "alice@example.com", "")
		assert.ErrorIs(t, err, simplegate.ErrValidation)
	})

	t.Run("legacy record", func(t *testing.T) {
		legacy := &simplegate.User{
			ID:           uuid.New(),
			Email:        "legacy@example.com",
			Name:         "legacy",
			PasswordHash: "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy",
		}
		require.NoError(t, repo.CreateUser(ctx, legacy))

		_, err := accounts.Authenticate(ctx, "legacy@example.com", "whatever1")
		assert.ErrorIs(t, err, simplegate.ErrLegacyCredentialFormat)
		assert.ErrorIs(t, err, password.ErrLegacyFormat)
		assert.NotErrorIs(t, err, simplegate.ErrAuthentication)
	})

	t.Run("get", func(t *testing.T) {
		user, err := accounts.Get(ctx, registered.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", user.Email)

		_, err = accounts.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, simplegate.ErrUserNotFound)
	})
}

type countingHasher struct {
	*password.Hasher
	records []string
}

func (h *countingHasher) Verify(pw, record string) (bool, error) {
	h.records = append(h.records, record)
	return h.Hasher.Verify(pw, record)
}

func TestAccounts_AuthenticateUnknownUserDerivesKey(t *testing.T) {
	hasher := &countingHasher{Hasher: password.New(password.WithIterations(1000))}
	accounts := simplegate.NewAccounts(repomemory.New(),
		simplegate.WithHasher(hasher),
		simplegate.WithAccountsLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	_, err := accounts.Authenticate(context.Background(), "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, simplegate.ErrAuthentication)

	require.Len(t, hasher.records, 1)
	encoded, ok := strings.CutPrefix(hasher.records[0], password.Tag+":")
	require.True(t, ok, "record must carry the current tag")
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Len(t, raw, password.SaltLength+password.KeyLength, "record must be well formed so the key is derived")
}

type brokenRepo struct {
	simplegate.UserRepository
	err error
}

func (r brokenRepo) GetUserByEmail(ctx context.Context, email string) (*simplegate.User, error) {
	return nil, r.err
}

func TestAccounts_RepositoryFailure(t *testing.T) {
	dbErr := errors.New("connection refused")
	accounts := newAccounts(brokenRepo{UserRepository: repomemory.New(), err: dbErr})
	ctx := context.Background()

	_, err := accounts.Register(ctx, simplegate.RegisterRequest{Email: "alice@example.com", Password: "password1"})
	assert.ErrorIs(t, err, dbErr)
	assert.NotErrorIs(t, err, simplegate.ErrValidation)

	var uErr *simplegate.UserError
	require.True(t, errors.As(err, &uErr))
	assert.Equal(t, "lookup", uErr.Op)

	_, err = accounts.Authenticate(ctx, "alice@example.com", "password1")
	assert.ErrorIs(t, err, dbErr)
	assert.NotErrorIs(t, err, simplegate.ErrAuthentication)
}
