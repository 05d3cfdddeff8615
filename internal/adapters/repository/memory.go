package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/neurogame/internal/domain/model"
	"github.com/okian/neurogame/internal/domain/types"
	"github.com/okian/neurogame/pkg/metrics"
)

// MemoryStore keeps everything in process memory.
//
// Writers are serialized by a mutex. Each committed batch publishes a new
// immutable snapshot through an atomic pointer, so readers never take the
// lock and always see whole batches. The event and rejection slices are
// append-only: a newer snapshot may share a backing array with an older one
// but never rewrites an index the older one can see.
type MemoryStore struct {
	mu       sync.Mutex
	byID     map[string]struct{}
	snapshot atomic.Pointer[memSnapshot]
	closed   atomic.Bool
}

type memSnapshot struct {
	events     []model.Event
	rejections []types.Rejection
	totals     map[string]types.UserTotals
	batches    int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(_ ...Option) *MemoryStore {
	s := &MemoryStore{byID: make(map[string]struct{})}
	s.snapshot.Store(&memSnapshot{totals: map[string]types.UserTotals{}})
	return s
}

// WriteBatch implements Store.
func (s *MemoryStore) WriteBatch(ctx context.Context, meta BatchMeta, events []model.Event, rejections []types.Rejection) (res WriteResult, err error) {
	defer observe("write_batch", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return WriteResult{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if s.closed.Load() {
		return WriteResult{}, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snapshot.Load()
	next := &memSnapshot{
		events:     cur.events,
		rejections: cur.rejections,
		totals:     cur.totals,
		batches:    cur.batches + 1,
	}
	copiedTotals := false

	for _, e := range events {
		if _, dup := s.byID[e.EventID]; dup {
			res.Duplicates++
			continue
		}
		s.byID[e.EventID] = struct{}{}
		next.events = append(next.events, e)
		res.Inserted++
		res.InsertedIDs = append(res.InsertedIDs, e.EventID)

		if correct, ok := taskCorrect(e); ok {
			if !copiedTotals {
				next.totals = maps.Clone(cur.totals)
				copiedTotals = true
			}
			t := next.totals[e.UserID]
			t.UserID = e.UserID
			t.Tasks++
			if correct {
				t.Correct++
			}
			next.totals[e.UserID] = t
		}
	}
	for _, r := range rejections {
		if r.BatchID == "" {
			r.BatchID = meta.BatchID
		}
		next.rejections = append(next.rejections, r)
	}

	s.snapshot.Store(next)
	metrics.UpdateStoreEvents(len(next.events))
	return res, nil
}

// Page implements Store.
func (s *MemoryStore) Page(_ context.Context, limit, offset int) (out []model.Event, err error) {
	defer observe("page", time.Now(), &err)
	if s.closed.Load() {
		return nil, ErrClosed
	}
	events := s.snapshot.Load().events
	if offset >= len(events) || limit <= 0 {
		return []model.Event{}, nil
	}
	end := min(len(events), offset+limit)
	return slices.Clone(events[offset:end]), nil
}

// UserTotals implements Store.
func (s *MemoryStore) UserTotals(_ context.Context) (out []types.UserTotals, err error) {
	defer observe("user_totals", time.Now(), &err)
	if s.closed.Load() {
		return nil, ErrClosed
	}
	totals := s.snapshot.Load().totals
	out = make([]types.UserTotals, 0, len(totals))
	for _, t := range totals {
		out = append(out, t)
	}
	return out, nil
}

// Rejections implements Store.
func (s *MemoryStore) Rejections(_ context.Context, limit int) (out []types.Rejection, err error) {
	defer observe("rejections", time.Now(), &err)
	if s.closed.Load() {
		return nil, ErrClosed
	}
	all := s.snapshot.Load().rejections
	n := min(len(all), max(limit, 0))
	out = make([]types.Rejection, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return len(s.snapshot.Load().events), nil
}

// Batches returns how many batches have been written.
func (s *MemoryStore) Batches() int {
	return s.snapshot.Load().batches
}

// Ping implements Store.
func (s *MemoryStore) Ping(_ context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}
