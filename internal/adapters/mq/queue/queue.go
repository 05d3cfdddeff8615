// Package queue is the client side buffer between gameplay and the network.
//
// Events are appended to a JSON-lines file and fsynced before Append
// returns, so an acknowledged Track call survives a crash. The file is owned
// by one process at a time through an OS lock. Events leave the queue only
// when the sender acknowledges them or when they exceed the retention limit.
package queue

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"

	"github.com/okian/neurogame/internal/domain/model"
	"github.com/okian/neurogame/pkg/logger"
	"github.com/okian/neurogame/pkg/metrics"
)

const maxLineBytes = 1 << 20

// Event represents the payload type flowing through the queue.
type Event = model.Event

// Queue is what the sender needs from a buffer.
type Queue interface {
	// Append durably stores e at the tail.
	Append(ctx context.Context, e Event) error

	// Peek returns up to n of the oldest pending events without removing them.
	Peek(n int) []Event

	// Ack removes the n oldest pending events.
	Ack(n int) error

	// Len returns the number of pending events.
	Len() int

	// Notify fires after an Append. It never blocks the appender and
	// coalesces bursts into one signal.
	Notify() <-chan struct{}
}

// Durable is a file-backed FIFO queue. It is safe for concurrent use within
// one process.
type Durable struct {
	mu      sync.Mutex
	path    string
	lock    *flock.Flock
	file    *os.File
	pending []Event
	notify  chan struct{}
	closed  bool

	maxRetention time.Duration
	now          func() time.Time
	logger       logger.Logger
}

var _ Queue = (*Durable)(nil)

// Open takes the lock on path, loads whatever is still pending and prepares
// the file for appends. A second Open of the same path fails with ErrLocked
// until the first queue is closed.
func Open(ctx context.Context, path string, opts ...Option) (*Durable, error) {
	q := &Durable{
		path:   filepath.Clean(path),
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = logger.Get().Named("queue")
	}

	if err := os.MkdirAll(filepath.Dir(q.path), 0o750); err != nil {
		return nil, fmt.Errorf("queue: create dir: %w", err)
	}
	// A separate lock file keeps the lock stable across compactions, which
	// replace the data file.
	q.lock = flock.New(q.path + ".lock")
	ok, err := q.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("queue: lock %s: %w", q.path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, q.path)
	}

	rewrite, err := q.load(ctx)
	if err != nil {
		_ = q.lock.Unlock()
		return nil, err
	}
	if rewrite {
		if err := q.compactLocked(); err != nil {
			_ = q.lock.Unlock()
			return nil, err
		}
	} else if err := q.openAppend(); err != nil {
		_ = q.lock.Unlock()
		return nil, err
	}

	metrics.UpdateQueuePending(len(q.pending))
	q.logger.Info(ctx, "queue opened", logger.String("path", q.path), logger.Int("pending", len(q.pending)))
	if len(q.pending) > 0 {
		q.signal()
	}
	return q, nil
}

// load reads the data file. It reports whether the file needs rewriting
// because it held unreadable lines or ended without a newline.
func (q *Durable) load(ctx context.Context) (bool, error) {
	data, err := os.ReadFile(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("queue: read %s: %w", q.path, err)
	}

	rewrite := len(data) > 0 && data[len(data)-1] != '\n'
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil || e.EventID == "" {
			rewrite = true
			metrics.RecordQueueCorruptLine()
			q.logger.Warn(ctx, "skipping unreadable queue line", logger.Int("line", line), logger.Int("bytes", len(raw)))
			continue
		}
		q.pending = append(q.pending, e)
	}
	if err := sc.Err(); err != nil {
		return false, fmt.Errorf("queue: scan %s: %w", q.path, err)
	}
	return rewrite, nil
}

func (q *Durable) openAppend() error {
	f, err := os.OpenFile(q.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("queue: open %s: %w", q.path, err)
	}
	q.file = f
	return nil
}

// Append implements Queue.
func (q *Durable) Append(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("queue: encode event %s: %w", e.EventID, err)
	}
	line = append(line, '\n')

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.file == nil {
		if err := q.openAppend(); err != nil {
			return err
		}
	}
	if _, err := q.file.Write(line); err != nil {
		return fmt.Errorf("queue: write: %w", err)
	}
	if err := q.file.Sync(); err != nil {
		return fmt.Errorf("queue: sync: %w", err)
	}
	q.pending = append(q.pending, e)

	metrics.RecordQueueAppend()
	metrics.UpdateQueuePending(len(q.pending))
	q.signal()
	return nil
}

func (q *Durable) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Peek implements Queue.
func (q *Durable) Peek(n int) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	n = min(n, len(q.pending))
	if n <= 0 {
		return nil
	}
	out := make([]Event, n)
	copy(out, q.pending[:n])
	return out
}

// Ack implements Queue. The remaining events are written to a new file that
// atomically replaces the old one; if that fails nothing is removed.
func (q *Durable) Ack(n int) error {
	if n <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if n > len(q.pending) {
		return fmt.Errorf("%w: ack %d of %d", ErrAckRange, n, len(q.pending))
	}

	prev := q.pending
	q.pending = q.pending[n:]
	if err := q.compactLocked(); err != nil {
		q.pending = prev
		return err
	}
	// Drop the acknowledged head so the backing array can be collected.
	q.pending = append([]Event(nil), q.pending...)

	metrics.RecordQueueAck(n)
	metrics.UpdateQueuePending(len(q.pending))
	return nil
}

// Prune drops pending events whose timestamp is older than the retention
// limit and returns how many were dropped.
func (q *Durable) Prune(ctx context.Context) (int, error) {
	if q.maxRetention <= 0 {
		return 0, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}

	cutoff := q.now().Add(-q.maxRetention)
	kept := make([]Event, 0, len(q.pending))
	for _, e := range q.pending {
		if e.EventTS.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
	}
	dropped := len(q.pending) - len(kept)
	if dropped == 0 {
		return 0, nil
	}

	prev := q.pending
	q.pending = kept
	if err := q.compactLocked(); err != nil {
		q.pending = prev
		return 0, err
	}
	metrics.RecordQueuePruned(dropped)
	metrics.UpdateQueuePending(len(q.pending))
	q.logger.Warn(ctx, "dropped expired events", logger.Int("dropped", dropped), logger.Duration("retention", q.maxRetention))
	return dropped, nil
}

// compactLocked rewrites the data file with the current pending events and
// reopens the append handle on the new file. Callers hold q.mu.
func (q *Durable) compactLocked() error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range q.pending {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("queue: encode event %s: %w", e.EventID, err)
		}
	}
	if q.file != nil {
		_ = q.file.Close()
		q.file = nil
	}
	if err := atomic.WriteFile(q.path, &buf); err != nil {
		if reopenErr := q.openAppend(); reopenErr != nil {
			q.logger.Error(context.Background(), "reopen queue after failed compaction", logger.Error(reopenErr))
		}
		return fmt.Errorf("queue: compact: %w", err)
	}
	return q.openAppend()
}

// Len implements Queue.
func (q *Durable) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Notify implements Queue.
func (q *Durable) Notify() <-chan struct{} { return q.notify }

// Path returns the data file location.
func (q *Durable) Path() string { return q.path }

// Close releases the file and the lock. Pending events stay on disk.
func (q *Durable) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true

	var errs []error
	if q.file != nil {
		errs = append(errs, q.file.Close())
		q.file = nil
	}
	errs = append(errs, q.lock.Unlock())
	return errors.Join(errs...)
}
