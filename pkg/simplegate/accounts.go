package simplegate

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tendant/simple-gate/pkg/simplegate/password"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 8

// invalidCredentials is shared by unknown-user and wrong-password failures.
const invalidCredentials = "Invalid email or password"

// unknownUserRecord is verified against when no user matches, so a login for
// an unregistered email costs the same key derivation as a wrong password.
var unknownUserRecord = password.Tag + ":" +
	base64.StdEncoding.EncodeToString(make([]byte, password.SaltLength+password.KeyLength))

// Accounts registers users and checks their credentials.
type Accounts struct {
	repo   UserRepository
	hasher PasswordHasher
	logger *slog.Logger
	now    func() time.Time
}

// AccountsOption configures Accounts.
type AccountsOption func(*Accounts)

// WithHasher sets the password hasher.
func WithHasher(h PasswordHasher) AccountsOption {
	return func(a *Accounts) {
		if h != nil {
			a.hasher = h
		}
	}
}

// WithAccountsLogger sets the logger.
func WithAccountsLogger(logger *slog.Logger) AccountsOption {
	return func(a *Accounts) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithAccountsClock allows injection of a custom clock (primarily for testing).
func WithAccountsClock(now func() time.Time) AccountsOption {
	return func(a *Accounts) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAccounts creates Accounts over repo.
func NewAccounts(repo UserRepository, opts ...AccountsOption) *Accounts {
	a := &Accounts{
		repo:   repo,
		hasher: password.New(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register validates req and creates the user. The name defaults to the
// local part of the email.
func (a *Accounts) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}

	if utf8.RuneCountInString(req.Password) < MinPasswordLength {
		return nil, &ValidationError{Field: "password", Reason: fmt.Sprintf("Password must be at least %d characters", MinPasswordLength)}
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}

	if _, err := a.repo.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, &UserError{Email: email, Op: "lookup", Err: err}
	}

	hash, err := a.hasher.Hash(req.Password)
	if err != nil {
		return nil, &UserError{Email: email, Op: "hash", Err: err}
	}

	now := a.now().UTC()
	user := &User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := a.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, &UserError{Email: email, Op: "create", Err: err}
	}

	a.logger.Info("User registered", "user_id", user.ID, "email", email)
	return user, nil
}

// Authenticate returns the user owning email if password matches. Unknown
// users and wrong passwords fail identically with ErrAuthentication. A record
// in a retired format fails with ErrLegacyCredentialFormat.
func (a *Accounts) Authenticate(ctx context.Context, email, pw string) (*User, error) {
	if strings.TrimSpace(email) == "" || pw == "" {
		return nil, &ValidationError{Field: "credentials", Reason: "Please provide email and password"}
	}

	email = strings.ToLower(strings.TrimSpace(email))

	user, err := a.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_, _ = a.hasher.Verify(pw, unknownUserRecord)
			return nil, fmt.Errorf("%w: %s", ErrAuthentication, invalidCredentials)
		}
		return nil, &UserError{Email: email, Op: "lookup", Err: err}
	}

	ok, err := a.hasher.Verify(pw, user.PasswordHash)
	if errors.Is(err, password.ErrLegacyFormat) {
		a.logger.Warn("Login with legacy password record", "user_id", user.ID)
		return nil, fmt.Errorf("%w: %w", ErrLegacyCredentialFormat, err)
	}
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: %s", ErrAuthentication, invalidCredentials)
	}

	return user, nil
}

// Get returns the user with id.
func (a *Accounts) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.repo.GetUser(ctx, id)
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	invalid := &ValidationError{Field: "email", Reason: "Please provide a valid email address"}

	if email == "" {
		return "", invalid
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalid
	}
	return email, nil
}
