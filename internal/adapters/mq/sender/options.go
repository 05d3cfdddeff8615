package sender

import (
	"net/http"
	"time"

	"github.com/okian/neurogame/pkg/logger"
)

// Option applies a configuration option to the Sender.
type Option func(*Sender)

// WithAPIKey sets the key sent with every batch.
func WithAPIKey(key string) Option {
	return func(s *Sender) { s.apiKey = key }
}

// WithClientVersion sets the client_version sent with every batch.
func WithClientVersion(v string) Option {
	return func(s *Sender) { s.clientVersion = v }
}

// WithBatchSize bounds how many events go in one request.
func WithBatchSize(n int) Option {
	return func(s *Sender) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithFlushInterval sets how often the sender wakes up without an append signal.
func WithFlushInterval(d time.Duration) Option {
	return func(s *Sender) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

// WithSendTimeout bounds a single delivery attempt.
func WithSendTimeout(d time.Duration) Option {
	return func(s *Sender) {
		if d > 0 {
			s.sendTimeout = d
		}
	}
}

// WithBackoff sets the retry delay range and the jitter factor in [0, 1).
func WithBackoff(initial, maxDelay time.Duration, jitter float64) Option {
	return func(s *Sender) {
		if initial > 0 {
			s.backoffInitial = initial
		}
		if maxDelay >= s.backoffInitial {
			s.backoffMax = maxDelay
		}
		if jitter >= 0 && jitter < 1 {
			s.jitter = jitter
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c Doer) Option {
	return func(s *Sender) {
		if c != nil {
			s.client = c
		}
	}
}

// WithLogger sets a custom logger for the sender.
func WithLogger(l logger.Logger) Option {
	return func(s *Sender) {
		if l != nil {
			s.logger = l
		}
	}
}

var _ Doer = (*http.Client)(nil)
