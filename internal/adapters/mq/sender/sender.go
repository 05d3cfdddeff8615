// Package sender drains the client queue to the ingestion endpoint.
//
// There is exactly one delivery loop per queue. It sends the oldest
// pending events, removes them only after the server answered ok:true and
// otherwise waits with exponential backoff before resending the very same
// events. Resends are safe because the server ignores known event ids.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/neurogame/internal/adapters/mq/queue"
	"github.com/okian/neurogame/pkg/logger"
	"github.com/okian/neurogame/pkg/metrics"
)

// Default sender configuration constants.
const (
	defaultBatchSize      = 100
	defaultFlushInterval  = 5 * time.Second
	defaultSendTimeout    = 2500 * time.Millisecond
	defaultBackoffInitial = 500 * time.Millisecond
	defaultBackoffMax     = 30 * time.Second
	defaultJitter         = 0.2
	maxResponseBytes      = 1 << 20
	eventsPath            = "/v1/events"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Pruner is implemented by queues with a retention limit.
type Pruner interface {
	Prune(ctx context.Context) (int, error)
}

// Stats counts delivery outcomes since the sender was created.
type Stats struct {
	Attempts int64
	Sent     int64
	Failures int64
}

// Sender delivers queued events in order.
type Sender struct {
	queue    queue.Queue
	endpoint string
	client   Doer

	apiKey         string
	clientVersion  string
	batchSize      int
	flushInterval  time.Duration
	sendTimeout    time.Duration
	backoffInitial time.Duration
	backoffMax     time.Duration
	jitter         float64

	attempts atomic.Int64
	sent     atomic.Int64
	failures atomic.Int64

	// Shutdown control
	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// New creates a sender for q that posts to endpoint, the server base URL.
func New(q queue.Queue, endpoint string, opts ...Option) (*Sender, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, ErrNoBackend
	}
	s := &Sender{
		queue:          q,
		endpoint:       strings.TrimRight(endpoint, "/") + eventsPath,
		batchSize:      defaultBatchSize,
		flushInterval:  defaultFlushInterval,
		sendTimeout:    defaultSendTimeout,
		backoffInitial: defaultBackoffInitial,
		backoffMax:     defaultBackoffMax,
		jitter:         defaultJitter,
		shutdown:       make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = &http.Client{}
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("sender")
	}
	return s, nil
}

// Run is the delivery loop. It returns when ctx is canceled or Shutdown is
// called; undelivered events stay in the queue.
func (s *Sender) Run(ctx context.Context) {
	defer close(s.done)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.backoffInitial
	eb.MaxInterval = s.backoffMax
	eb.RandomizationFactor = s.jitter
	eb.MaxElapsedTime = 0 // retry indefinitely
	eb.Reset()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	s.logger.Info(ctx, "sender started", logger.String("endpoint", s.endpoint), logger.Int("batchSize", s.batchSize))
	for {
		if !s.drain(ctx, eb) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-s.queue.Notify():
		case <-ticker.C:
			s.prune(ctx)
		}
	}
}

// Shutdown stops the loop and waits for it to exit.
func (s *Sender) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() { close(s.shutdown) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Stats returns delivery counters.
func (s *Sender) Stats() Stats {
	return Stats{Attempts: s.attempts.Load(), Sent: s.sent.Load(), Failures: s.failures.Load()}
}

// drain sends batches until the queue is empty. It returns false when the
// loop must stop.
func (s *Sender) drain(ctx context.Context, eb *backoff.ExponentialBackOff) bool {
	for {
		batch := s.queue.Peek(s.batchSize)
		if len(batch) == 0 {
			return true
		}

		err := s.send(ctx, batch)
		if err == nil {
			err = s.queue.Ack(len(batch))
			if err == nil {
				s.sent.Add(int64(len(batch)))
				eb.Reset()
				continue
			}
			s.logger.Error(ctx, "ack after delivery failed", logger.Error(err))
		}

		s.failures.Add(1)
		delay := eb.NextBackOff()
		metrics.RecordSenderBackoff(delay)
		s.logger.Warn(ctx, "delivery failed, backing off",
			logger.Error(err),
			logger.Int("events", len(batch)),
			logger.Duration("delay", delay),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-s.shutdown:
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

func (s *Sender) prune(ctx context.Context) {
	p, ok := s.queue.(Pruner)
	if !ok {
		return
	}
	if _, err := p.Prune(ctx); err != nil {
		s.logger.Error(ctx, "prune failed", logger.Error(err))
	}
}

type batchRequest struct {
	APIKey        string        `json:"api_key"`
	ClientVersion string        `json:"client_version"`
	Events        []queue.Event `json:"events"`
}

type batchResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// send makes one delivery attempt bounded by the send timeout.
func (s *Sender) send(ctx context.Context, batch []queue.Event) (err error) {
	s.attempts.Add(1)
	outcome := "ok"
	defer func() { metrics.RecordSenderAttempt(outcome, len(batch)) }()

	body, err := json.Marshal(batchRequest{APIKey: s.apiKey, ClientVersion: s.clientVersion, Events: batch})
	if err != nil {
		outcome = "encode_error"
		return fmt.Errorf("encode batch: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		outcome = "request_error"
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		outcome = "network_error"
		return fmt.Errorf("post batch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		outcome = "network_error"
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcome = fmt.Sprintf("http_%d", resp.StatusCode)
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var ack batchResponse
	if err := json.Unmarshal(raw, &ack); err != nil || !ack.OK {
		outcome = "not_ok"
		return fmt.Errorf("%w: body %q", ErrRejected, strings.TrimSpace(string(raw)))
	}
	return nil
}
