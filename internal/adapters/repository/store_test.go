package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/neurogame/internal/domain/model"
	"github.com/okian/neurogame/internal/domain/types"
	"github.com/okian/neurogame/pkg/logger"
)

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	l, err := logger.New(logger.WithOutput(os.Stderr))
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func taskEvent(id, user string, correct bool, at time.Time) model.Event {
	return model.Event{
		EventID:   id,
		EventType: model.TypeTaskResult,
		EventTS:   at.UTC(),
		UserID:    user,
		SessionID: "s-" + user,
		Payload:   json.RawMessage(fmt.Sprintf(`{"correct":%t,"rt_ms":420}`, correct)),
	}
}

func meta(batch string, n int) BatchMeta {
	return BatchMeta{
		BatchID:       batch,
		ClientVersion: "test/1.0",
		APIKeyHash:    "hash",
		EventsCount:   n,
		ReceivedAt:    time.Now(),
	}
}

type storeFactory struct {
	name string
	open func(t *testing.T) Store
}

func factories() []storeFactory {
	return []storeFactory{
		{name: "memory", open: func(t *testing.T) Store { return NewMemoryStore(WithLogger(testLogger(t))) }},
		{name: "sqlite", open: func(t *testing.T) Store {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "telemetry.db"), WithLogger(testLogger(t)))
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return s
		}},
	}
}

func TestStoreContract(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, f := range factories() {
		Convey("Given a "+f.name+" store", t, func() {
			ctx := context.Background()
			s := f.open(t)
			Reset(func() { _ = s.Close() })

			Convey("Writing a batch stores every new event once", func() {
				events := []model.Event{
					taskEvent("e1", "u1", true, base),
					taskEvent("e2", "u1", false, base.Add(time.Second)),
					taskEvent("e1", "u1", true, base),
				}
				res, err := s.WriteBatch(ctx, meta("b1", 3), events, nil)
				So(err, ShouldBeNil)
				So(res.Inserted, ShouldEqual, 2)
				So(res.Duplicates, ShouldEqual, 1)
				So(res.InsertedIDs, ShouldResemble, []string{"e1", "e2"})

				n, err := s.Count(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)

				Convey("and resending the batch changes nothing", func() {
					res, err := s.WriteBatch(ctx, meta("b2", 3), events, nil)
					So(err, ShouldBeNil)
					So(res.Inserted, ShouldEqual, 0)
					So(res.Duplicates, ShouldEqual, 3)

					n, err := s.Count(ctx)
					So(err, ShouldBeNil)
					So(n, ShouldEqual, 2)
				})
			})

			Convey("Page returns events in insertion order with the payload intact", func() {
				_, err := s.WriteBatch(ctx, meta("b1", 2), []model.Event{
					taskEvent("late", "u1", true, base.Add(time.Hour)),
					taskEvent("early", "u2", false, base),
				}, nil)
				So(err, ShouldBeNil)
				_, err = s.WriteBatch(ctx, meta("b2", 1), []model.Event{taskEvent("third", "u1", true, base)}, nil)
				So(err, ShouldBeNil)

				page, err := s.Page(ctx, 10, 0)
				So(err, ShouldBeNil)
				So(len(page), ShouldEqual, 3)
				So(page[0].EventID, ShouldEqual, "late")
				So(page[1].EventID, ShouldEqual, "early")
				So(page[2].EventID, ShouldEqual, "third")
				So(page[0].EventTS.Equal(base.Add(time.Hour)), ShouldBeTrue)

				var p map[string]any
				So(json.Unmarshal(page[1].Payload, &p), ShouldBeNil)
				So(p["correct"], ShouldEqual, false)

				second, err := s.Page(ctx, 2, 2)
				So(err, ShouldBeNil)
				So(len(second), ShouldEqual, 1)
				So(second[0].EventID, ShouldEqual, "third")

				empty, err := s.Page(ctx, 10, 50)
				So(err, ShouldBeNil)
				So(empty, ShouldBeEmpty)
			})

			Convey("UserTotals counts only task_result events", func() {
				end := model.Event{
					EventID: "end", EventType: model.TypeSessionEnd, EventTS: base,
					UserID: "u1", SessionID: "s-u1", Payload: json.RawMessage(`{"total_tasks":3}`),
				}
				_, err := s.WriteBatch(ctx, meta("b1", 4), []model.Event{
					taskEvent("a", "u1", true, base),
					taskEvent("b", "u1", true, base),
					taskEvent("c", "u1", false, base),
					taskEvent("d", "u2", true, base),
					end,
				}, nil)
				So(err, ShouldBeNil)

				totals, err := s.UserTotals(ctx)
				So(err, ShouldBeNil)
				byUser := map[string]types.UserTotals{}
				for _, tot := range totals {
					byUser[tot.UserID] = tot
				}
				So(len(byUser), ShouldEqual, 2)
				So(byUser["u1"].Correct, ShouldEqual, int64(2))
				So(byUser["u1"].Tasks, ShouldEqual, int64(3))
				So(byUser["u2"].Tasks, ShouldEqual, int64(1))
			})

			Convey("Rejections come back newest first with their batch", func() {
				_, err := s.WriteBatch(ctx, meta("b1", 1), nil, []types.Rejection{
					{Index: 0, Reason: "malformed_event", Raw: `"x"`, ReceivedAt: base},
				})
				So(err, ShouldBeNil)
				_, err = s.WriteBatch(ctx, meta("b2", 1), nil, []types.Rejection{
					{Index: 0, EventID: "bad", Reason: "invalid_payload", Detail: "correct: missing", ReceivedAt: base},
				})
				So(err, ShouldBeNil)

				rej, err := s.Rejections(ctx, 10)
				So(err, ShouldBeNil)
				So(len(rej), ShouldEqual, 2)
				So(rej[0].BatchID, ShouldEqual, "b2")
				So(rej[0].EventID, ShouldEqual, "bad")
				So(rej[0].Reason, ShouldEqual, "invalid_payload")
				So(rej[1].BatchID, ShouldEqual, "b1")

				limited, err := s.Rejections(ctx, 1)
				So(err, ShouldBeNil)
				So(len(limited), ShouldEqual, 1)
			})

			Convey("Concurrent writers of overlapping batches never store an id twice", func() {
				const writers = 8
				var (
					wg       sync.WaitGroup
					mu       sync.Mutex
					inserted int
				)
				for w := range writers {
					wg.Add(1)
					go func() {
						defer wg.Done()
						events := make([]model.Event, 0, 20)
						for i := range 20 {
							events = append(events, taskEvent(fmt.Sprintf("e%d", i), "u1", i%2 == 0, base))
						}
						res, err := s.WriteBatch(ctx, meta(fmt.Sprintf("b%d", w), len(events)), events, nil)
						if err != nil {
							t.Errorf("write: %v", err)
							return
						}
						mu.Lock()
						inserted += res.Inserted
						mu.Unlock()
					}()
				}
				wg.Wait()

				So(inserted, ShouldEqual, 20)
				n, err := s.Count(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 20)
			})

			Convey("Ping succeeds while open", func() {
				So(s.Ping(ctx), ShouldBeNil)
			})
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	Convey("Events written to a sqlite file are there after reopening", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "telemetry.db")

		s, err := OpenSQLite(ctx, path, WithLogger(testLogger(t)))
		So(err, ShouldBeNil)
		_, err = s.WriteBatch(ctx, meta("b1", 1), []model.Event{taskEvent("e1", "u1", true, time.Now())}, nil)
		So(err, ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		s, err = OpenSQLite(ctx, path, WithLogger(testLogger(t)))
		So(err, ShouldBeNil)
		defer func() { _ = s.Close() }()

		n, err := s.Count(ctx)
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 1)

		res, err := s.WriteBatch(ctx, meta("b2", 1), []model.Event{taskEvent("e1", "u1", true, time.Now())}, nil)
		So(err, ShouldBeNil)
		So(res.Duplicates, ShouldEqual, 1)
	})
}

func TestMemoryStoreClosed(t *testing.T) {
	Convey("A closed memory store refuses work", t, func() {
		s := NewMemoryStore()
		So(s.Close(), ShouldBeNil)

		_, err := s.WriteBatch(context.Background(), meta("b", 0), nil, nil)
		So(err, ShouldEqual, ErrClosed)
		So(s.Ping(context.Background()), ShouldEqual, ErrClosed)
	})
}

func TestOpen(t *testing.T) {
	Convey("Open picks the store by driver", t, func() {
		ctx := context.Background()

		s, err := Open(ctx, DriverMemory, "", "")
		So(err, ShouldBeNil)
		_, ok := s.(*MemoryStore)
		So(ok, ShouldBeTrue)

		s, err = Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "x.db"), "", WithLogger(testLogger(t)))
		So(err, ShouldBeNil)
		_, ok = s.(*SQLiteStore)
		So(ok, ShouldBeTrue)
		So(s.Close(), ShouldBeNil)

		_, err = Open(ctx, "mongo", "", "")
		So(errors.Is(err, ErrUnknownKind), ShouldBeTrue)
	})
}
