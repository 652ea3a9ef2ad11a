package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth"

	"github.com/tendant/simple-gate/pkg/simplegate"
)

const (
	// SessionCookieName is the cookie jwtauth.TokenFromCookie reads
	SessionCookieName = "jwt"

	// DefaultSessionTTL is the lifetime of issued session tokens
	DefaultSessionTTL = 30 * 24 * time.Hour
)

// Sessions issues and verifies HS256 session tokens whose subject is the
// user id.
type Sessions struct {
	auth         *jwtauth.JWTAuth
	ttl          time.Duration
	secureCookie bool
	now          func() time.Time
}

// SessionOption configures Sessions
type SessionOption func(*Sessions)

// WithSessionTTL sets the token lifetime
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(s *Sessions) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSecureCookie marks the session cookie Secure
func WithSecureCookie(secure bool) SessionOption {
	return func(s *Sessions) {
		s.secureCookie = secure
	}
}

// NewSessions creates Sessions signing with secret.
func NewSessions(secret []byte, opts ...SessionOption) (*Sessions, error) {
	if len(secret) == 0 {
		return nil, errors.New("session secret is required")
	}

	s := &Sessions{
		auth: jwtauth.New("HS256", secret, nil),
		ttl:  DefaultSessionTTL,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue returns a signed token for user and its expiry.
func (s *Sessions) Issue(user *simplegate.User) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := map[string]interface{}{
		"sub":   user.ID.String(),
		"email": user.Email,
	}
	jwtauth.SetIssuedAt(claims, now)
	jwtauth.SetExpiry(claims, expiresAt)

	_, token, err := s.auth.Encode(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verifier finds a token in the Authorization header or the session cookie
// and stores the verification outcome in the request context. Requests
// without a valid token pass through anonymously.
func (s *Sessions) Verifier() func(http.Handler) http.Handler {
	return jwtauth.Verify(s.auth, jwtauth.TokenFromHeader, jwtauth.TokenFromCookie)
}

// Cookie returns the session cookie carrying token.
func (s *Sessions) Cookie(token string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(s.ttl / time.Second),
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

// UserIDFromContext returns the subject of a verified session token, or ""
// when the request is anonymous or its token failed verification.
func UserIDFromContext(ctx context.Context) string {
	token, claims, err := jwtauth.FromContext(ctx)
	if err != nil || token == nil {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}
