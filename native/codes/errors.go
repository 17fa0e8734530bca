package codes

import "errors"

var (
	// ErrInvalidIdentity is returned when the identity is empty.
	ErrInvalidIdentity = errors.New("codes: identity required")
	// ErrInvalidCode is returned when the supplied code is not an 8-digit
	// numeric string.
	ErrInvalidCode = errors.New("codes: malformed code")
	// ErrCodeNotFound is returned when no active record matches.
	ErrCodeNotFound = errors.New("codes: code not found")
	// ErrRegistryExhausted is returned when the active code space is provably
	// full.
	ErrRegistryExhausted = errors.New("codes: active code space exhausted")
	// ErrConflict is returned when a conditional write keeps losing races past
	// the retry bound. Callers should treat it as transient.
	ErrConflict = errors.New("codes: write conflict")
)
