// Package clientid derives a rate-limiting identity for an inbound request.
//
// Network identity is preferred: a trusted edge header, then the first hop of
// X-Forwarded-For, then X-Real-IP. Without any of them the identity falls back
// to a fingerprint of a few client headers. Fingerprints collide across users
// far more often than addresses do, so AdjustedLimit cuts their ceiling.
package clientid

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net/http"
	"strings"
)

const (
	// DefaultTrustedHeader is the client address header injected by the edge.
	DefaultTrustedHeader = "CF-Connecting-IP"

	ipPrefix          = "ip_"
	fingerprintPrefix = "fp_"

	unknownAddress = "unknown"

	fingerprintLength = 16

	// strictFactor scales the base limit for fingerprint identities.
	strictFactor = 0.3
)

// Placeholders substituted for absent fingerprint headers.
const (
	UnknownUserAgent = "unknown-ua"
	UnknownLanguage  = "unknown-lang"
	UnknownEncoding  = "unknown-enc"
)

// Kind tells which strategy produced an Identity.
type Kind int

const (
	KindIP Kind = iota
	KindFingerprint
)

func (k Kind) String() string {
	switch k {
	case KindIP:
		return "ip"
	case KindFingerprint:
		return "fingerprint"
	default:
		return "unknown"
	}
}

// Identity is a tagged client identifier. Its String form is the rate
// limiter key: "ip_<address>" or "fp_<16 hex chars>".
type Identity struct {
	Kind  Kind
	Value string
}

func (id Identity) String() string {
	if id.Kind == KindIP {
		return ipPrefix + id.Value
	}
	return fingerprintPrefix + id.Value
}

// IsIP reports whether the identity came from a network address.
func (id Identity) IsIP() bool {
	return id.Kind == KindIP
}

// Identifier derives identities from request headers.
type Identifier struct {
	trustedHeader string
}

// Option configures an Identifier.
type Option func(*Identifier)

// WithTrustedHeader sets the edge-injected client address header. An empty
// name disables the trusted header step.
func WithTrustedHeader(name string) Option {
	return func(i *Identifier) {
		i.trustedHeader = name
	}
}

// New creates an Identifier.
func New(opts ...Option) *Identifier {
	i := &Identifier{trustedHeader: DefaultTrustedHeader}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Identify returns the identity for a request with the given headers.
func (i *Identifier) Identify(h http.Header) Identity {
	if ip, ok := i.ClientIP(h); ok {
		return Identity{Kind: KindIP, Value: ip}
	}
	return Identity{Kind: KindFingerprint, Value: Fingerprint(h)}
}

// ClientIP returns the client address carried in h, if any.
func (i *Identifier) ClientIP(h http.Header) (string, bool) {
	if i.trustedHeader != "" {
		if ip := h.Get(i.trustedHeader); ip != "" {
			return ip, true
		}
	}

	if forwarded := h.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		first = strings.TrimSpace(first)
		if first != "" && first != unknownAddress {
			return first, true
		}
	}

	if ip := h.Get("X-Real-IP"); ip != "" && ip != unknownAddress {
		return ip, true
	}

	return "", false
}

// Fingerprint hashes User-Agent, Accept-Language and Accept-Encoding and
// returns the first 16 hex characters of the SHA-256 digest.
func Fingerprint(h http.Header) string {
	data := headerOr(h, "User-Agent", UnknownUserAgent) + "|" +
		headerOr(h, "Accept-Language", UnknownLanguage) + "|" +
		headerOr(h, "Accept-Encoding", UnknownEncoding)

	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}

// AdjustedLimit returns the effective limit for id given a base limit.
// Fingerprint identities get floor(base*0.3) and strict=true.
func AdjustedLimit(id Identity, base int) (limit int, strict bool) {
	if id.IsIP() {
		return base, false
	}
	return int(math.Floor(float64(base) * strictFactor)), true
}

func headerOr(h http.Header, name, fallback string) string {
	if v := h.Get(name); v != "" {
		return v
	}
	return fallback
}
