package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType is returned when decoding a payload for an unknown event type.
var ErrUnknownType = errors.New("unknown event type")

// Payload is the sealed set of typed payloads, one per EventType.
type Payload interface {
	Type() EventType
	isPayload()
}

// TaskResult is one answered (or timed-out) task. RTMs is nil on timeout.
type TaskResult struct {
	Correct bool   `json:"correct"`
	RTMs    *int   `json:"rt_ms"`
	TaskID  string `json:"task_id,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Level   *int   `json:"level,omitempty"`
}

// AdaptationStep is one difficulty decision taken by the active policy.
type AdaptationStep struct {
	Step       int     `json:"step"`
	ActionID   int     `json:"action_id,omitempty"`
	DeltaLevel int     `json:"delta_level,omitempty"`
	DeltaTempo int     `json:"delta_tempo,omitempty"`
	Level      int     `json:"level,omitempty"`
	Reward     float64 `json:"reward,omitempty"`
	Mode       string  `json:"mode,omitempty"`
}

// SessionEnd closes a session. Partial marks a session that ended early.
type SessionEnd struct {
	TotalTasks    int     `json:"total_tasks"`
	AccuracyTotal float64 `json:"accuracy_total,omitempty"`
	MeanRT        float64 `json:"mean_rt,omitempty"`
	ExitReason    string  `json:"exit_reason,omitempty"`
	Mode          string  `json:"mode,omitempty"`
	Partial       bool    `json:"-"`
}

func (TaskResult) Type() EventType     { return TypeTaskResult }
func (AdaptationStep) Type() EventType { return TypeAdaptationStep }
func (s SessionEnd) Type() EventType {
	if s.Partial {
		return TypeSessionEndPartial
	}
	return TypeSessionEnd
}

func (TaskResult) isPayload()     {}
func (AdaptationStep) isPayload() {}
func (SessionEnd) isPayload()     {}

// DecodePayload decodes raw into the variant selected by t. It checks JSON
// shape only; range constraints live in the envelope schemas.
func DecodePayload(t EventType, raw json.RawMessage) (Payload, error) {
	switch t {
	case TypeTaskResult:
		var p TaskResult
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		return p, nil
	case TypeAdaptationStep:
		var p AdaptationStep
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		return p, nil
	case TypeSessionEnd, TypeSessionEndPartial:
		var p SessionEnd
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		p.Partial = t == TypeSessionEndPartial
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
}

// EncodePayload marshals a typed payload.
func EncodePayload(p Payload) (json.RawMessage, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.Type(), err)
	}
	return b, nil
}

// IntPtr is a helper for optional integer fields.
func IntPtr(v int) *int { return &v }
