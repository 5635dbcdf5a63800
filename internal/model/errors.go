package model

import "errors"

// Error kinds. Concrete failures wrap one of these with %w so callers can
// classify them with errors.Is.
var (
	// ErrValidation marks a malformed request. Raised before any store access.
	ErrValidation = errors.New("validation failed")

	// ErrDomainRule marks a business-rule breach the caller can correct,
	// such as selling more than is held.
	ErrDomainRule = errors.New("domain rule violated")

	// ErrInvariant marks internal inconsistency that should never happen,
	// such as two holding rows for one key.
	ErrInvariant = errors.New("ledger invariant violated")

	// ErrNotFound is only produced for lookups of a single resource; list
	// queries return empty results instead.
	ErrNotFound = errors.New("not found")
)
