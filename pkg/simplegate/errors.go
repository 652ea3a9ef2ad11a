package simplegate

import (
	"errors"
	"fmt"
	"time"
)

// Error types
var (
	// ErrAuthentication indicates a missing or invalid session or credentials
	ErrAuthentication = errors.New("authentication required")

	// ErrTooManyRequests indicates a rate limit was exceeded
	ErrTooManyRequests = errors.New("too many requests")

	// ErrValidation indicates malformed input or a bad capability
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = errors.New("not found")

	// ErrObjectNotFound is returned by ObjectStore.Get for absent keys
	ErrObjectNotFound = fmt.Errorf("object %w", ErrNotFound)

	// ErrUserNotFound is returned by UserRepository lookups for absent users
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)

	// ErrStorageUnavailable indicates the object store is misconfigured or unreachable
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrLegacyCredentialFormat indicates a stored password uses a retired scheme
	// and the account must go through a password reset
	ErrLegacyCredentialFormat = errors.New("password reset required")

	// ErrEmailTaken indicates a registration for an email that already exists
	ErrEmailTaken = &ValidationError{Field: "email", Reason: "This email is already registered"}
)

// ValidationError describes one rejected input
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// RateLimitError carries what a client needs to back off
type RateLimitError struct {
	Policy  string
	Limit   int
	Current int
	ResetAt int64 // unix seconds
	Strict  bool
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit %s exceeded: %d/%d, resets at %d", e.Policy, e.Current, e.Limit, e.ResetAt)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrTooManyRequests
}

// ResetTime returns ResetAt as a time.Time
func (e *RateLimitError) ResetTime() time.Time {
	return time.Unix(e.ResetAt, 0)
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// UserError represents an error related to user operations
type UserError struct {
	Email string
	Op    string
	Err   error
}

func (e *UserError) Error() string {
	return fmt.Sprintf("user operation %s failed for %s: %v", e.Op, e.Email, e.Err)
}

func (e *UserError) Unwrap() error {
	return e.Err
}
