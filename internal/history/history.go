package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/dxscan/internal/engine"
)

// DB is the part of a pgx pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store records scan runs in Postgres.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// Open connects to url.
func Open(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Store{db: pool, pool: pool}, nil
}

// NewWithDB wraps an existing connection.
func NewWithDB(db DB) *Store {
	return &Store{db: db}
}

// Ping checks connectivity when the store owns a pool.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// Close releases the pool opened by Open.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the history tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS dx_scan_runs (
  id UUID PRIMARY KEY,
  target TEXT NOT NULL,
  service TEXT NOT NULL,
  started_at TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ NOT NULL,
  fail_level TEXT NOT NULL,
  practicing INTEGER NOT NULL DEFAULT 0,
  not_practicing INTEGER NOT NULL DEFAULT 0,
  unknown INTEGER NOT NULL DEFAULT 0,
  not_applicable INTEGER NOT NULL DEFAULT 0,
  needs_auth BOOLEAN NOT NULL DEFAULT FALSE,
  should_exit_on_end BOOLEAN NOT NULL DEFAULT FALSE,
  incomplete BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS dx_scan_outcomes (
  run_id UUID NOT NULL REFERENCES dx_scan_runs(id) ON DELETE CASCADE,
  component TEXT NOT NULL,
  practice_id TEXT NOT NULL,
  impact TEXT NOT NULL,
  result TEXT NOT NULL,
  error TEXT,
  details JSONB,
  PRIMARY KEY (run_id, component, practice_id)
);

CREATE INDEX IF NOT EXISTS dx_scan_runs_target_idx ON dx_scan_runs (target, started_at DESC);
`)
	return err
}

// Record stores res and its outcomes. All rows go out in one batch, which
// Postgres runs as a single implicit transaction.
func (s *Store) Record(ctx context.Context, res engine.ScanResult) error {
	batch := &pgx.Batch{}
	batch.Queue(`
INSERT INTO dx_scan_runs (
  id, target, service, started_at, finished_at, fail_level,
  practicing, not_practicing, unknown, not_applicable,
  needs_auth, should_exit_on_end, incomplete
)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO NOTHING`,
		res.ID,
		res.Target.String(),
		string(res.Target.Service),
		res.StartedAt,
		res.FinishedAt,
		string(res.FailLevel),
		res.Summary.Practicing,
		res.Summary.NotPracticing,
		res.Summary.Unknown,
		res.Summary.NotApplicable,
		res.NeedsAuth,
		res.ShouldExitOnEnd,
		res.Incomplete,
	)

	for _, o := range res.Outcomes {
		var details *string
		if len(o.Details) > 0 {
			raw, err := json.Marshal(o.Details)
			if err != nil {
				return fmt.Errorf("encode details for %s: %w", o.Practice.ID, err)
			}
			encoded := string(raw)
			details = &encoded
		}
		batch.Queue(`
INSERT INTO dx_scan_outcomes (run_id, component, practice_id, impact, result, error, details)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7::jsonb)
ON CONFLICT (run_id, component, practice_id) DO NOTHING`,
			res.ID,
			o.Component,
			o.Practice.ID,
			string(o.Practice.Impact),
			string(o.Result),
			nullableString(o.Error),
			details,
		)
	}

	br := s.db.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("record scan %s: %w", res.ID, err)
		}
	}
	return br.Close()
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
