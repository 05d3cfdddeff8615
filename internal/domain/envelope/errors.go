package envelope

import (
	"errors"
	"fmt"
)

// ErrInvalidEvent is the kind shared by every ValidationError.
var ErrInvalidEvent = errors.New("invalid event")

// Rejection reason codes. They are stable and stored with rejected events.
const (
	ReasonMalformed           = "malformed_event"
	ReasonMissingFields       = "missing_fields"
	ReasonUnknownEventType    = "unknown_event_type"
	ReasonInvalidPayload      = "invalid_payload"
	ReasonInvalidEventTS      = "invalid_event_ts"
	ReasonInvalidModelVersion = "invalid_model_version"
)

// ValidationError describes why one candidate event was rejected.
type ValidationError struct {
	Index   int
	EventID string
	Reason  string
	Detail  string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("event %d (%s): %s", e.Index, e.EventID, e.Reason)
	}
	return fmt.Sprintf("event %d (%s): %s: %s", e.Index, e.EventID, e.Reason, e.Detail)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidEvent }
