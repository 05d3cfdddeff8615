package repository

import "errors"

// Sentinel kinds for store errors.
var (
	// ErrUnavailable wraps any failure of the backing database. Callers
	// treat it as retryable.
	ErrUnavailable = errors.New("store unavailable")
	ErrClosed      = errors.New("store closed")
	ErrUnknownKind = errors.New("unknown store driver")
)
