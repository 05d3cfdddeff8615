package sender

import "errors"

// Sentinel kinds for sender errors.
var (
	ErrStopped   = errors.New("sender stopped")
	ErrRejected  = errors.New("batch not acknowledged")
	ErrNoBackend = errors.New("endpoint url is required")
)
