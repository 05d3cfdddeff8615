package queue

import (
	"time"

	"github.com/okian/neurogame/pkg/logger"
)

// Option applies a configuration option to the Durable queue.
type Option func(*Durable)

// WithMaxRetention drops pending events older than d on Prune. Zero keeps
// events until they are acknowledged.
func WithMaxRetention(d time.Duration) Option {
	return func(q *Durable) {
		if d >= 0 {
			q.maxRetention = d
		}
	}
}

// WithLogger sets a custom logger for the queue.
func WithLogger(l logger.Logger) Option {
	return func(q *Durable) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Durable) {
		if now != nil {
			q.now = now
		}
	}
}
