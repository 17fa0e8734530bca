package loyalty

import "errors"

var (
	// ErrInvalidIdentity is returned when the identity is empty.
	ErrInvalidIdentity = errors.New("loyalty: identity required")
	// ErrInvalidMerchant is returned when the merchant is empty.
	ErrInvalidMerchant = errors.New("loyalty: merchant required")
	// ErrAccountNotFound is returned when a delta is applied to a pair that
	// never enrolled; a missing account is never auto-created.
	ErrAccountNotFound = errors.New("loyalty: account not enrolled")
	// ErrConflict is returned when the balance update keeps losing the
	// conditional write past the retry bound. Transient; callers may retry.
	ErrConflict = errors.New("loyalty: write conflict")
)
