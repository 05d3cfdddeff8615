// Package repository defines the durable event store and its implementations.
//
// Every implementation guarantees that an event id is stored at most once:
// the first copy wins and later copies are reported as duplicates. A batch
// is written in a single transaction, so readers see all of it or none.
package repository

import (
	"context"
	"time"

	"github.com/okian/neurogame/internal/domain/model"
	"github.com/okian/neurogame/internal/domain/types"
	"github.com/okian/neurogame/pkg/metrics"
)

// BatchMeta describes an ingest request for the batch bookkeeping table.
type BatchMeta struct {
	BatchID       string
	ClientVersion string
	APIKeyHash    string
	EventsCount   int
	ReceivedAt    time.Time
}

// WriteResult reports what a batch write changed.
type WriteResult struct {
	Inserted    int
	Duplicates  int
	InsertedIDs []string
}

// Store persists raw events and answers the queries built on them.
type Store interface {
	// WriteBatch inserts events that are not stored yet and records the
	// batch and its rejections, all in one transaction.
	WriteBatch(ctx context.Context, meta BatchMeta, events []model.Event, rejections []types.Rejection) (WriteResult, error)

	// Page returns stored events in insertion order.
	Page(ctx context.Context, limit, offset int) ([]model.Event, error)

	// UserTotals tallies task_result events per user.
	UserTotals(ctx context.Context) ([]types.UserTotals, error)

	// Rejections returns the most recent rejected events, newest first.
	Rejections(ctx context.Context, limit int) ([]types.Rejection, error)

	// Count returns the number of stored events.
	Count(ctx context.Context) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

// observe records latency and failures for a store operation. Use with a
// named error return: defer observe("page", time.Now(), &err).
func observe(op string, start time.Time, err *error) {
	metrics.RecordStoreQueryLatency(op, float64(time.Since(start).Microseconds())/1000)
	if err != nil && *err != nil {
		metrics.RecordStoreError(op)
	}
}

// taskCorrect extracts the correctness flag of a task_result event.
func taskCorrect(e model.Event) (bool, bool) {
	if e.EventType != model.TypeTaskResult {
		return false, false
	}
	p, err := e.Decode()
	if err != nil {
		return false, false
	}
	tr, ok := p.(model.TaskResult)
	return tr.Correct, ok
}
