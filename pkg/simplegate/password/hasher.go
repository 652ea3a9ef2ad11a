// Package password derives and verifies salted PBKDF2-HMAC-SHA256 password
// records.
//
// A record is serialized as "pbkdf2_sha256:" + base64(salt || derivedKey)
// with a 16-byte salt and a 32-byte derived key. Records produced by the
// previous bcrypt-based registration flow are recognized by their "$2?$"
// prefix and rejected with ErrLegacyFormat so callers can force a reset.
package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Tag identifies the current record format.
	Tag = "pbkdf2_sha256"

	// DefaultIterations is the PBKDF2 iteration count used when none is configured.
	DefaultIterations = 100000

	SaltLength = 16
	KeyLength  = 32

	separator = ":"
)

var (
	// ErrLegacyFormat is returned by Verify for records in the retired bcrypt
	// format. These accounts cannot be verified in place and need a password reset.
	ErrLegacyFormat = errors.New("password: legacy credential format, password reset required")
)

// legacyPrefixes are the bcrypt variants the old registration flow wrote.
var legacyPrefixes = []string{"$2a$", "$2b$", "$2y$", "$2x$", "$2$"}

// Hasher hashes and verifies password records. The zero value is not
// usable; construct with New.
type Hasher struct {
	iterations int
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithIterations overrides the PBKDF2 iteration count. Non-positive values
// are ignored.
func WithIterations(n int) Option {
	return func(h *Hasher) {
		if n > 0 {
			h.iterations = n
		}
	}
}

// New creates a Hasher.
func New(opts ...Option) *Hasher {
	h := &Hasher{iterations: DefaultIterations}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Iterations returns the configured iteration count.
func (h *Hasher) Iterations() int {
	return h.iterations
}

// Hash derives a new record for password using a fresh random salt.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: generate salt: %w", err)
	}

	key := h.derive(password, salt)

	combined := make([]byte, 0, SaltLength+KeyLength)
	combined = append(combined, salt...)
	combined = append(combined, key...)

	return Tag + separator + base64.StdEncoding.EncodeToString(combined), nil
}

// Verify reports whether password matches record.
//
// Malformed or unknown records verify as false. The only error returned is
// ErrLegacyFormat.
func (h *Hasher) Verify(password, record string) (bool, error) {
	if IsLegacy(record) {
		return false, ErrLegacyFormat
	}

	encoded, ok := strings.CutPrefix(record, Tag+separator)
	if !ok {
		return false, nil
	}

	combined, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(combined) <= SaltLength {
		return false, nil
	}

	salt := combined[:SaltLength]
	stored := combined[SaltLength:]
	if len(stored) != KeyLength {
		return false, nil
	}

	derived := h.derive(password, salt)
	return subtle.ConstantTimeCompare(derived, stored) == 1, nil
}

// IsLegacy reports whether record uses the retired bcrypt format.
func IsLegacy(record string) bool {
	for _, prefix := range legacyPrefixes {
		if strings.HasPrefix(record, prefix) {
			return true
		}
	}
	return false
}

func (h *Hasher) derive(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, h.iterations, KeyLength, sha256.New)
}
