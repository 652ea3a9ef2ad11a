package simplegate

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// ObjectStore defines the interface for storage backends
type ObjectStore interface {
	// Put stores the reader's content under key and reports what was written
	Put(ctx context.Context, key string, r io.Reader, meta ObjectMetadata) (*StoredObject, error)

	// Get opens the object at key. It returns ErrObjectNotFound for absent
	// keys. The caller closes Object.Body.
	Get(ctx context.Context, key string) (*Object, error)
}

// UserRepository defines the interface for account persistence
type UserRepository interface {
	// CreateUser inserts a user, returning ErrEmailTaken for a duplicate email
	CreateUser(ctx context.Context, user *User) error

	// GetUser returns ErrUserNotFound for unknown ids
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)

	// GetUserByEmail returns ErrUserNotFound for unknown emails
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// PasswordHasher derives and checks password records. password.Hasher is the
// implementation.
type PasswordHasher interface {
	Hash(pw string) (string, error)

	// Verify reports a match. Malformed records verify as false.
	Verify(pw, record string) (bool, error)
}
