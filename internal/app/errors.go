package service

import "errors"

// Sentinel kinds returned by the service. The HTTP layer maps them to
// status codes.
var (
	ErrUnauthorized       = errors.New("invalid api key")
	ErrBatchTooLarge      = errors.New("batch too large")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotStarted         = errors.New("service not started")
)
