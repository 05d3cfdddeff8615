// Package client is the game-facing side of telemetry: it turns gameplay
// facts into validated events and hands them to the durable queue. Delivery
// happens in the background, so Track never waits on the network.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/neurogame/internal/adapters/mq/queue"
	"github.com/okian/neurogame/internal/domain/envelope"
	"github.com/okian/neurogame/internal/domain/model"
	"github.com/okian/neurogame/pkg/logger"
)

// ErrInvalidEvent is returned when an event fails local validation.
var ErrInvalidEvent = errors.New("invalid telemetry event")

// Tracker stamps and validates events before queueing them.
type Tracker struct {
	queue        queue.Queue
	validator    *envelope.Validator
	modelVersion string
	now          func() time.Time
	logger       logger.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithModelVersion sets the model_version stamped on every event.
func WithModelVersion(v string) Option {
	return func(t *Tracker) { t.modelVersion = v }
}

// WithValidator shares a compiled validator.
func WithValidator(v *envelope.Validator) Option {
	return func(t *Tracker) {
		if v != nil {
			t.validator = v
		}
	}
}

// WithClock overrides time.Now, for tests and replays.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets a custom logger for the tracker.
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTracker builds a tracker appending to q.
func NewTracker(q queue.Queue, opts ...Option) (*Tracker, error) {
	t := &Tracker{queue: q, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	if t.validator == nil {
		v, err := envelope.New()
		if err != nil {
			return nil, fmt.Errorf("build validator: %w", err)
		}
		t.validator = v
	}
	if t.logger == nil {
		t.logger = logger.Get().Named("tracker")
	}
	return t, nil
}

// Track records one gameplay fact and returns its event id. The id is
// generated once here and reused on every delivery attempt.
func (t *Tracker) Track(ctx context.Context, userID, sessionID string, p model.Payload) (string, error) {
	if p == nil {
		return "", fmt.Errorf("%w: nil payload", ErrInvalidEvent)
	}
	raw, err := model.EncodePayload(p)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return t.TrackRaw(ctx, userID, sessionID, p.Type(), raw)
}

// TrackRaw is Track for callers that already hold an encoded payload, such
// as the game bridge forwarding extra properties.
func (t *Tracker) TrackRaw(ctx context.Context, userID, sessionID string, typ model.EventType, payload json.RawMessage) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("event id: %w", err)
	}
	e := model.Event{
		EventID:      id.String(),
		EventType:    typ,
		EventTS:      t.now().UTC(),
		UserID:       userID,
		SessionID:    sessionID,
		ModelVersion: t.modelVersion,
		Payload:      payload,
	}
	if err := t.validator.ValidateEvent(e); err != nil {
		t.logger.Warn(ctx, "dropping invalid event", logger.String("type", string(typ)), logger.Error(err))
		return "", fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if err := t.queue.Append(ctx, e); err != nil {
		return "", fmt.Errorf("queue event: %w", err)
	}
	return e.EventID, nil
}

// Pending returns how many events still wait for delivery.
func (t *Tracker) Pending() int { return t.queue.Len() }

// Drain waits until every queued event was delivered or ctx ends.
func (t *Tracker) Drain(ctx context.Context) error {
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for t.queue.Len() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain: %d events pending: %w", t.queue.Len(), ctx.Err())
		case <-tick.C:
		}
	}
	return nil
}
