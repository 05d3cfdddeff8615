package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/neurogame/internal/domain/model"
	"github.com/okian/neurogame/internal/domain/types"
	"github.com/okian/neurogame/pkg/logger"
	"github.com/okian/neurogame/pkg/metrics"
)

//go:embed schema/postgres.sql
var postgresSchema string

const postgresConnectTimeout = 10 * time.Second

// PostgresStore persists events in PostgreSQL. Idempotency comes from the
// unique constraint on event_id with ON CONFLICT DO NOTHING.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// OpenPostgres connects, fails fast if the database is unreachable and
// applies the schema. The schema is idempotent.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	o := newOptions(opts)
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.MaxConns = int32(o.maxOpenConns) //nolint:gosec // bounded by config

	cctx, cancel := context.WithTimeout(ctx, postgresConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(cctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect postgres: %w", ErrUnavailable, err)
	}
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping postgres: %w", ErrUnavailable, err)
	}
	if _, err := pool.Exec(cctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	s := &PostgresStore{pool: pool, logger: o.log()}
	s.logger.Info(ctx, "postgres store ready", logger.String("host", cfg.ConnConfig.Host))
	return s, nil
}

// WriteBatch implements Store.
func (s *PostgresStore) WriteBatch(ctx context.Context, meta BatchMeta, events []model.Event, rejections []types.Rejection) (res WriteResult, err error) {
	start := time.Now()
	defer observe("write_batch", start, &err)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return WriteResult{}, unavailable("begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	received := meta.ReceivedAt.UTC()
	var batchRow int64
	if err := tx.QueryRow(ctx, `
		INSERT INTO ingest_batches (batch_uid, received_at, client_version, events_count, rejected_count, api_key_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		meta.BatchID, received, meta.ClientVersion, meta.EventsCount, len(rejections), meta.APIKeyHash,
	).Scan(&batchRow); err != nil {
		return WriteResult{}, unavailable("insert batch", err)
	}

	for _, e := range events {
		tag, err := tx.Exec(ctx, `
			INSERT INTO events_raw
				(event_id, event_type, event_ts, received_at, user_id, session_id, model_version, payload, batch_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
			ON CONFLICT (event_id) DO NOTHING`,
			e.EventID, string(e.EventType), e.EventTS.UTC(), received,
			e.UserID, e.SessionID, e.ModelVersion, string(e.Payload), batchRow)
		if err != nil {
			return WriteResult{}, unavailable("insert event", err)
		}
		if tag.RowsAffected() == 0 {
			res.Duplicates++
			continue
		}
		res.Inserted++
		res.InsertedIDs = append(res.InsertedIDs, e.EventID)
	}

	for _, r := range rejections {
		if _, err := tx.Exec(ctx, `
			INSERT INTO rejected_events (batch_id, event_index, event_id, reason, detail, raw_json, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			batchRow, r.Index, r.EventID, r.Reason, r.Detail, r.Raw, received); err != nil {
			return WriteResult{}, unavailable("insert rejection", err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE ingest_batches SET inserted_count = $1 WHERE id = $2`, res.Inserted, batchRow); err != nil {
		return WriteResult{}, unavailable("update batch", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return WriteResult{}, unavailable("commit", err)
	}
	metrics.RecordStoreWriteLatency(float64(time.Since(start).Microseconds()) / 1000)
	return res, nil
}

// Page implements Store.
func (s *PostgresStore) Page(ctx context.Context, limit, offset int) (out []model.Event, err error) {
	defer observe("page", time.Now(), &err)
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, event_type, event_ts, user_id, session_id, COALESCE(model_version, ''), payload::text
		FROM events_raw
		ORDER BY id ASC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, unavailable("page", err)
	}
	defer rows.Close()

	out = make([]model.Event, 0, limit)
	for rows.Next() {
		var (
			e       model.Event
			et      string
			payload string
		)
		if err := rows.Scan(&e.EventID, &et, &e.EventTS, &e.UserID, &e.SessionID, &e.ModelVersion, &payload); err != nil {
			return nil, unavailable("scan page", err)
		}
		e.EventType = model.EventType(et)
		e.EventTS = e.EventTS.UTC()
		e.Payload = []byte(payload)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("page rows", err)
	}
	return out, nil
}

// UserTotals implements Store.
func (s *PostgresStore) UserTotals(ctx context.Context) (out []types.UserTotals, err error) {
	defer observe("user_totals", time.Now(), &err)
	rows, err := s.pool.Query(ctx, `
		SELECT user_id,
		       COUNT(*) FILTER (WHERE payload->>'correct' = 'true'),
		       COUNT(*)
		FROM events_raw
		WHERE event_type = 'task_result'
		GROUP BY user_id`)
	if err != nil {
		return nil, unavailable("user totals", err)
	}
	out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.UserTotals, error) {
		var t types.UserTotals
		err := row.Scan(&t.UserID, &t.Correct, &t.Tasks)
		return t, err
	})
	if err != nil {
		return nil, unavailable("scan totals", err)
	}
	return out, nil
}

// Rejections implements Store.
func (s *PostgresStore) Rejections(ctx context.Context, limit int) (out []types.Rejection, err error) {
	defer observe("rejections", time.Now(), &err)
	rows, err := s.pool.Query(ctx, `
		SELECT b.batch_uid, r.event_index, COALESCE(r.event_id, ''), r.reason,
		       COALESCE(r.detail, ''), COALESCE(r.raw_json, ''), r.received_at
		FROM rejected_events r
		JOIN ingest_batches b ON b.id = r.batch_id
		ORDER BY r.id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, unavailable("rejections", err)
	}
	out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Rejection, error) {
		var r types.Rejection
		err := row.Scan(&r.BatchID, &r.Index, &r.EventID, &r.Reason, &r.Detail, &r.Raw, &r.ReceivedAt)
		return r, err
	})
	if err != nil {
		return nil, unavailable("scan rejections", err)
	}
	return out, nil
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events_raw`).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
