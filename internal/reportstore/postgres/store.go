// Package postgres implements [reportstore.Store] on PostgreSQL.
//
// Reports are stored as JSONB next to a few indexed scalar columns so that
// listings do not have to decode every document.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/poise/internal/reportstore"
)

var _ reportstore.Store = (*Store)(nil)

const ddlSessionReports = `
CREATE TABLE IF NOT EXISTS session_reports (
    session_id    TEXT         PRIMARY KEY,
    started_at    TIMESTAMPTZ  NOT NULL,
    stopped_at    TIMESTAMPTZ  NOT NULL,
    overall_score INTEGER      NOT NULL,
    goals         JSONB        NOT NULL DEFAULT '{}'::jsonb,
    report        JSONB        NOT NULL,
    transcript    TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_session_reports_stopped_at
    ON session_reports (stopped_at DESC);
`

// Migrate creates the session_reports table and its index. It is idempotent
// and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlSessionReports); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Store is a PostgreSQL-backed [reportstore.Store]. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping implements [reportstore.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Save implements [reportstore.Store] as an upsert on session_id.
func (s *Store) Save(ctx context.Context, rec reportstore.Record) error {
	if rec.SessionID == "" {
		return errors.New("postgres store: save: empty session id")
	}
	goals, err := json.Marshal(rec.Goals)
	if err != nil {
		return fmt.Errorf("postgres store: encode goals: %w", err)
	}
	doc, err := json.Marshal(rec.Report)
	if err != nil {
		return fmt.Errorf("postgres store: encode report: %w", err)
	}

	const q = `
		INSERT INTO session_reports
		    (session_id, started_at, stopped_at, overall_score, goals, report, transcript)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET
		    started_at    = EXCLUDED.started_at,
		    stopped_at    = EXCLUDED.stopped_at,
		    overall_score = EXCLUDED.overall_score,
		    goals         = EXCLUDED.goals,
		    report        = EXCLUDED.report,
		    transcript    = EXCLUDED.transcript`

	_, err = s.pool.Exec(ctx, q,
		rec.SessionID,
		rec.StartedAt,
		rec.StoppedAt,
		rec.Report.OverallScore,
		goals,
		doc,
		rec.Transcript,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save: %w", err)
	}
	return nil
}

const selectColumns = `session_id, started_at, stopped_at, goals, report, transcript`

// Get implements [reportstore.Store].
func (s *Store) Get(ctx context.Context, sessionID string) (reportstore.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM session_reports WHERE session_id = $1`, sessionID)
	if err != nil {
		return reportstore.Record{}, fmt.Errorf("postgres store: get: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return reportstore.Record{}, reportstore.ErrNotFound
	}
	if err != nil {
		return reportstore.Record{}, fmt.Errorf("postgres store: get: %w", err)
	}
	return rec, nil
}

// List implements [reportstore.Store].
func (s *Store) List(ctx context.Context, limit int) ([]reportstore.Record, error) {
	q := `SELECT ` + selectColumns + ` FROM session_reports ORDER BY stopped_at DESC, session_id`
	var args []any
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	return recs, nil
}

func scanRecord(row pgx.CollectableRow) (reportstore.Record, error) {
	var (
		rec       reportstore.Record
		goals     []byte
		doc       []byte
		startedAt time.Time
		stoppedAt time.Time
	)
	if err := row.Scan(&rec.SessionID, &startedAt, &stoppedAt, &goals, &doc, &rec.Transcript); err != nil {
		return reportstore.Record{}, err
	}
	rec.StartedAt, rec.StoppedAt = startedAt.UTC(), stoppedAt.UTC()
	if err := json.Unmarshal(goals, &rec.Goals); err != nil {
		return reportstore.Record{}, fmt.Errorf("decode goals: %w", err)
	}
	if err := json.Unmarshal(doc, &rec.Report); err != nil {
		return reportstore.Record{}, fmt.Errorf("decode report: %w", err)
	}
	return rec, nil
}
