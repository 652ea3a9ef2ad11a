package signedurl

import "errors"

// Capability validation errors
var (
	// ErrMissingKey is returned when the key query parameter is missing
	ErrMissingKey = errors.New("signedurl: missing key parameter")

	// ErrMissingSignature is returned when the signature or expires query parameter is missing
	ErrMissingSignature = errors.New("signedurl: missing signature or expires parameter")

	// ErrInvalidExpiration is returned when the expires parameter cannot be parsed
	ErrInvalidExpiration = errors.New("signedurl: invalid expires parameter")

	// ErrExpired is returned when the capability has expired
	ErrExpired = errors.New("signedurl: expired")

	// ErrInvalidSignature is returned when the signature does not match
	ErrInvalidSignature = errors.New("signedurl: invalid signature")
)

// IsAuthError returns true if the error is a capability validation error
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingKey) ||
		errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrInvalidExpiration) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrInvalidSignature)
}
