package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrLocked   = errors.New("queue file is locked by another process")
	ErrClosed   = errors.New("queue closed")
	ErrAckRange = errors.New("ack beyond pending events")
)
