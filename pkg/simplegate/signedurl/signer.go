package signedurl

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// FallbackSecret is used when no secret is configured. It is only acceptable
// outside production; config.Validate refuses it there.
const FallbackSecret = "default-secret"

// DefaultBasePath is the download endpoint the signed URLs point at.
const DefaultBasePath = "/api/upload"

// SecretProvider supplies the shared HMAC secret.
type SecretProvider interface {
	SigningSecret() []byte
}

// StaticSecret is a SecretProvider backed by a fixed string.
type StaticSecret string

func (s StaticSecret) SigningSecret() []byte {
	return []byte(s)
}

// Capability is a signed, expiring grant to fetch one object.
type Capability struct {
	Key       string
	Signature string
	ExpiresAt int64 // unix seconds
}

// Signer issues and verifies capabilities. It holds no per-request state.
type Signer struct {
	secret     SecretProvider
	defaultTTL time.Duration
	now        func() time.Time
}

// New creates a new Signer with the given options
func New(opts ...Option) *Signer {
	s := &Signer{
		secret:     StaticSecret(""),
		defaultTTL: time.Hour,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// UsesFallbackSecret reports whether no secret is configured
func (s *Signer) UsesFallbackSecret() bool {
	return len(s.secret.SigningSecret()) == 0
}

// Issue signs key for ttl, truncated to whole seconds
func (s *Signer) Issue(key string, ttl time.Duration) Capability {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	expiresAt := s.now().Unix() + int64(ttl/time.Second)

	return Capability{
		Key:       key,
		Signature: s.Sign(key, expiresAt),
		ExpiresAt: expiresAt,
	}
}

// Sign returns the lowercase hex HMAC-SHA256 of "key:expiresAt"
func (s *Signer) Sign(key string, expiresAt int64) string {
	secret := s.secret.SigningSecret()
	if len(secret) == 0 {
		secret = []byte(FallbackSecret)
	}

	h := hmac.New(sha256.New, secret)
	h.Write([]byte(payload(key, expiresAt)))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks expiry, then the signature. It returns ErrExpired or
// ErrInvalidSignature, or nil for a valid capability.
func (s *Signer) Verify(key, signature string, expiresAt int64) error {
	if s.now().Unix() > expiresAt {
		return ErrExpired
	}

	if !equal(signature, s.Sign(key, expiresAt)) {
		return ErrInvalidSignature
	}

	return nil
}

// SignURL issues a capability for key and renders it as
// <basePath>?key=...&signature=...&expires=...
func (s *Signer) SignURL(basePath, key string, ttl time.Duration) (string, Capability) {
	c := s.Issue(key, ttl)
	return BuildURL(basePath, c), c
}

// BuildURL renders a capability as a relative download URL
func BuildURL(basePath string, c Capability) string {
	if basePath == "" {
		basePath = DefaultBasePath
	}

	separator := "?"
	if strings.Contains(basePath, "?") {
		separator = "&"
	}

	var b strings.Builder
	b.WriteString(basePath)
	b.WriteString(separator)
	b.WriteString("key=")
	b.WriteString(url.QueryEscape(c.Key))
	b.WriteString("&signature=")
	b.WriteString(url.QueryEscape(c.Signature))
	b.WriteString("&expires=")
	b.WriteString(strconv.FormatInt(c.ExpiresAt, 10))
	return b.String()
}

// ParseQuery extracts a capability from download query parameters. It checks
// presence and format only; call Verify to authenticate the result.
func ParseQuery(query url.Values) (Capability, error) {
	key := query.Get("key")
	if key == "" {
		return Capability{}, ErrMissingKey
	}

	signature := query.Get("signature")
	expiresStr := query.Get("expires")
	if signature == "" || expiresStr == "" {
		return Capability{}, ErrMissingSignature
	}

	expiresAt, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return Capability{}, ErrInvalidExpiration
	}

	return Capability{Key: key, Signature: signature, ExpiresAt: expiresAt}, nil
}

func payload(key string, expiresAt int64) string {
	return key + ":" + strconv.FormatInt(expiresAt, 10)
}

// equal compares fixed-width digests of both inputs so the running time
// depends neither on the first differing byte nor on the supplied length.
func equal(supplied, expected string) bool {
	a := sha256.Sum256([]byte(supplied))
	b := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
