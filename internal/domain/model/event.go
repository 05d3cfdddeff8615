// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType discriminates the payload variant of an Event.
type EventType string

// Known event types.
const (
	TypeTaskResult        EventType = "task_result"
	TypeAdaptationStep    EventType = "adaptation_step"
	TypeSessionEnd        EventType = "session_end"
	TypeSessionEndPartial EventType = "session_end_partial"
)

// EventTypes lists every accepted type in a stable order.
var EventTypes = []EventType{TypeTaskResult, TypeAdaptationStep, TypeSessionEnd, TypeSessionEndPartial}

// Valid reports whether t is one of the known types.
func (t EventType) Valid() bool {
	switch t {
	case TypeTaskResult, TypeAdaptationStep, TypeSessionEnd, TypeSessionEndPartial:
		return true
	}
	return false
}

// Event is an immutable telemetry fact. EventID is the sole identity:
// two events with the same id are the same event whatever their payloads say.
type Event struct {
	EventID      string          `json:"event_id"`
	EventType    EventType       `json:"event_type"`
	EventTS      time.Time       `json:"event_ts"`
	UserID       string          `json:"user_id"`
	SessionID    string          `json:"session_id"`
	ModelVersion string          `json:"model_version"`
	Payload      json.RawMessage `json:"payload"`
}

// Decode returns the typed payload for the event's type.
func (e *Event) Decode() (Payload, error) {
	return DecodePayload(e.EventType, e.Payload)
}

// Mode is the adaptation policy that produced an event.
type Mode string

// Policy modes.
const (
	ModeUnknown  Mode = ""
	ModeBaseline Mode = "baseline"
	ModeModel    Mode = "model"
)

// ParseMode normalizes a mode label. The legacy label "ppo" names the model policy.
// Unrecognized labels yield ModeUnknown.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "baseline":
		return ModeBaseline
	case "model", "ppo":
		return ModeModel
	}
	return ModeUnknown
}

// ModeFromVersion infers the policy from a model_version string. Versions
// containing "ppo" or starting with "model" (case-insensitive) are the
// learned policy; everything else, including "", is baseline.
func ModeFromVersion(version string) Mode {
	v := strings.ToLower(version)
	if strings.Contains(v, "ppo") || strings.HasPrefix(v, "model") {
		return ModeModel
	}
	return ModeBaseline
}

// Mode resolves the event's policy: payload.mode wins, then model_version.
func (e *Event) Mode() Mode {
	var hint struct {
		Mode string `json:"mode"`
	}
	if len(e.Payload) > 0 && json.Unmarshal(e.Payload, &hint) == nil {
		if m := ParseMode(hint.Mode); m != ModeUnknown {
			return m
		}
	}
	return ModeFromVersion(e.ModelVersion)
}

// ByTimeThenID orders events by timestamp, breaking ties on event_id.
func ByTimeThenID(a, b Event) int {
	if c := a.EventTS.Compare(b.EventTS); c != 0 {
		return c
	}
	return strings.Compare(a.EventID, b.EventID)
}
