package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/okian/neurogame/internal/domain/model"
	"github.com/okian/neurogame/internal/domain/types"
	"github.com/okian/neurogame/pkg/logger"
	"github.com/okian/neurogame/pkg/metrics"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// SQLiteStore persists events in a single SQLite file in WAL mode, so
// readers keep working while a batch transaction is open.
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	o := newOptions(opts)
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: store path is required")
	}
	clean := filepath.Clean(path)
	if dir := filepath.Dir(clean); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}
	// Immediate transactions take the write lock up front; combined with the
	// busy timeout, concurrent batches queue instead of failing with SQLITE_BUSY.
	dsn := "file:" + clean + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", ErrUnavailable, err)
	}
	db.SetMaxOpenConns(o.maxOpenConns)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping sqlite: %w", ErrUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	s := &SQLiteStore{db: db, logger: o.log()}
	s.logger.Info(ctx, "sqlite store ready", logger.String("path", clean))
	return s, nil
}

// WriteBatch implements Store.
func (s *SQLiteStore) WriteBatch(ctx context.Context, meta BatchMeta, events []model.Event, rejections []types.Rejection) (res WriteResult, err error) {
	start := time.Now()
	defer observe("write_batch", start, &err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return WriteResult{}, unavailable("begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	received := meta.ReceivedAt.UTC().Format(time.RFC3339Nano)
	batch, err := tx.ExecContext(ctx, `
		INSERT INTO ingest_batches (batch_uid, received_at, client_version, events_count, rejected_count, api_key_hash)
		VALUES (?, ?, ?, ?, ?, ?)`,
		meta.BatchID, received, meta.ClientVersion, meta.EventsCount, len(rejections), meta.APIKeyHash)
	if err != nil {
		return WriteResult{}, unavailable("insert batch", err)
	}
	batchRow, err := batch.LastInsertId()
	if err != nil {
		return WriteResult{}, unavailable("batch id", err)
	}

	insert, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO events_raw
			(event_id, event_type, event_ts, received_at, user_id, session_id, model_version, payload_json, batch_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return WriteResult{}, unavailable("prepare insert", err)
	}
	defer func() { _ = insert.Close() }()

	for _, e := range events {
		r, err := insert.ExecContext(ctx,
			e.EventID, string(e.EventType), e.EventTS.UTC().Format(time.RFC3339Nano), received,
			e.UserID, e.SessionID, e.ModelVersion, string(e.Payload), batchRow)
		if err != nil {
			return WriteResult{}, unavailable("insert event", err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return WriteResult{}, unavailable("rows affected", err)
		}
		if n == 0 {
			res.Duplicates++
			continue
		}
		res.Inserted++
		res.InsertedIDs = append(res.InsertedIDs, e.EventID)
	}

	for _, r := range rejections {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rejected_events (batch_id, event_index, event_id, reason, detail, raw_json, received_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			batchRow, r.Index, r.EventID, r.Reason, r.Detail, r.Raw, received); err != nil {
			return WriteResult{}, unavailable("insert rejection", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE ingest_batches SET inserted_count = ? WHERE id = ?`, res.Inserted, batchRow); err != nil {
		return WriteResult{}, unavailable("update batch", err)
	}
	if err := tx.Commit(); err != nil {
		return WriteResult{}, unavailable("commit", err)
	}
	metrics.RecordStoreWriteLatency(float64(time.Since(start).Microseconds()) / 1000)
	return res, nil
}

// Page implements Store.
func (s *SQLiteStore) Page(ctx context.Context, limit, offset int) (out []model.Event, err error) {
	defer observe("page", time.Now(), &err)
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, event_type, event_ts, user_id, session_id, COALESCE(model_version, ''), payload_json
		FROM events_raw
		ORDER BY id ASC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, unavailable("page", err)
	}
	defer func() { _ = rows.Close() }()

	out = make([]model.Event, 0, limit)
	for rows.Next() {
		var (
			e       model.Event
			et, ts  string
			payload string
		)
		if err := rows.Scan(&e.EventID, &et, &ts, &e.UserID, &e.SessionID, &e.ModelVersion, &payload); err != nil {
			return nil, unavailable("scan page", err)
		}
		e.EventType = model.EventType(et)
		if e.EventTS, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("sqlite: event %s has unreadable event_ts %q: %w", e.EventID, ts, err)
		}
		e.Payload = []byte(payload)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("page rows", err)
	}
	return out, nil
}

// UserTotals implements Store.
func (s *SQLiteStore) UserTotals(ctx context.Context) (out []types.UserTotals, err error) {
	defer observe("user_totals", time.Now(), &err)
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id,
		       SUM(CASE WHEN json_extract(payload_json, '$.correct') = 1 THEN 1 ELSE 0 END),
		       COUNT(*)
		FROM events_raw
		WHERE event_type = 'task_result'
		GROUP BY user_id`)
	if err != nil {
		return nil, unavailable("user totals", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var t types.UserTotals
		if err := rows.Scan(&t.UserID, &t.Correct, &t.Tasks); err != nil {
			return nil, unavailable("scan totals", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("totals rows", err)
	}
	return out, nil
}

// Rejections implements Store.
func (s *SQLiteStore) Rejections(ctx context.Context, limit int) (out []types.Rejection, err error) {
	defer observe("rejections", time.Now(), &err)
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.batch_uid, r.event_index, COALESCE(r.event_id, ''), r.reason,
		       COALESCE(r.detail, ''), COALESCE(r.raw_json, ''), r.received_at
		FROM rejected_events r
		JOIN ingest_batches b ON b.id = r.batch_id
		ORDER BY r.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable("rejections", err)
	}
	defer func() { _ = rows.Close() }()
	out = []types.Rejection{}
	for rows.Next() {
		var (
			r  types.Rejection
			ts string
		)
		if err := rows.Scan(&r.BatchID, &r.Index, &r.EventID, &r.Reason, &r.Detail, &r.Raw, &ts); err != nil {
			return nil, unavailable("scan rejection", err)
		}
		r.ReceivedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("rejection rows", err)
	}
	return out, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events_raw`).Scan(&n); err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func unavailable(op string, err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
