// Package postgres provides the Postgres-backed menu store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuseats/menud/internal/menu"
)

// Expected schema:
//
//	CREATE TABLE menus (
//	    provider_id  TEXT NOT NULL,
//	    serving_date DATE NOT NULL,
//	    meal_slot    TEXT NOT NULL,
//	    slot_rank    SMALLINT NOT NULL,
//	    items        JSONB NOT NULL,
//	    source       TEXT NOT NULL,
//	    content_hash TEXT NOT NULL,
//	    version      BIGINT NOT NULL,
//	    updated_at   TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (provider_id, serving_date, meal_slot)
//	);
//
//	CREATE TABLE crawl_runs (
//	    id           UUID PRIMARY KEY,
//	    trigger_kind TEXT NOT NULL,
//	    started_at   TIMESTAMPTZ NOT NULL,
//	    finished_at  TIMESTAMPTZ,
//	    outcome      TEXT NOT NULL,
//	    seen         INT NOT NULL DEFAULT 0,
//	    changed      INT NOT NULL DEFAULT 0,
//	    skipped      INT NOT NULL DEFAULT 0,
//	    failed       INT NOT NULL DEFAULT 0,
//	    error_detail TEXT NOT NULL DEFAULT ''
//	);

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements menu.Store on top of pgxpool.
type Store struct {
	pool querier
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// GetCurrent fetches the current record for a key.
func (s *Store) GetCurrent(ctx context.Context, key menu.Key) (menu.Record, error) {
	query := `
SELECT items, source, content_hash, version, updated_at
FROM menus
WHERE provider_id = $1 AND serving_date = $2 AND meal_slot = $3`

	var (
		itemsJSON []byte
		rec       = menu.Record{
			ProviderID:  key.ProviderID,
			ServingDate: key.ServingDate,
			Slot:        key.Slot,
		}
	)
	err := s.pool.QueryRow(ctx, query, key.ProviderID, key.ServingDate, string(key.Slot)).
		Scan(&itemsJSON, &rec.Source, &rec.ContentHash, &rec.Version, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return menu.Record{}, menu.ErrNotFound
		}
		return menu.Record{}, fmt.Errorf("select current record: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &rec.Items); err != nil {
		return menu.Record{}, fmt.Errorf("unmarshal items: %w", err)
	}
	return rec, nil
}

// Upsert writes rec either as an insert-if-absent (expectVersion 0) or as
// a compare-and-swap update on the stored version. menu.ErrConflict is
// returned when the optimistic check loses a race.
func (s *Store) Upsert(ctx context.Context, rec menu.Record, expectVersion int64) error {
	itemsJSON, err := json.Marshal(rec.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	var tag pgconn.CommandTag
	if expectVersion == 0 {
		query := `
INSERT INTO menus (provider_id, serving_date, meal_slot, slot_rank, items, source, content_hash, version, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (provider_id, serving_date, meal_slot) DO NOTHING`
		tag, err = s.pool.Exec(ctx, query,
			rec.ProviderID,
			rec.ServingDate,
			string(rec.Slot),
			rec.Slot.Rank(),
			itemsJSON,
			string(rec.Source),
			rec.ContentHash,
			rec.Version,
			rec.UpdatedAt,
		)
	} else {
		query := `
UPDATE menus
SET items = $1, content_hash = $2, version = $3, updated_at = $4, source = $5
WHERE provider_id = $6 AND serving_date = $7 AND meal_slot = $8 AND version = $9`
		tag, err = s.pool.Exec(ctx, query,
			itemsJSON,
			rec.ContentHash,
			rec.Version,
			rec.UpdatedAt,
			string(rec.Source),
			rec.ProviderID,
			rec.ServingDate,
			string(rec.Slot),
			expectVersion,
		)
	}
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return menu.ErrConflict
	}
	return nil
}

// List returns records matching q in the total read order.
func (s *Store) List(ctx context.Context, q menu.ListQuery) ([]menu.Record, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.ProviderID != "" {
		conds = append(conds, "provider_id = "+arg(q.ProviderID))
	}
	if !q.From.IsZero() {
		conds = append(conds, "serving_date >= "+arg(q.From))
	}
	if !q.To.IsZero() {
		conds = append(conds, "serving_date <= "+arg(q.To))
	}
	if q.Slot != "" {
		conds = append(conds, "meal_slot = "+arg(string(q.Slot)))
	}
	if q.After != nil {
		conds = append(conds, fmt.Sprintf("(serving_date, provider_id, slot_rank) > (%s, %s, %s)",
			arg(q.After.ServingDate), arg(q.After.ProviderID), arg(q.After.Slot.Rank())))
	}

	query := `
SELECT provider_id, serving_date, meal_slot, items, source, content_hash, version, updated_at
FROM menus`
	if len(conds) > 0 {
		query += "\nWHERE " + strings.Join(conds, " AND ")
	}
	query += "\nORDER BY serving_date, provider_id, slot_rank"
	if q.Limit > 0 {
		query += "\nLIMIT " + arg(q.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []menu.Record
	for rows.Next() {
		var (
			rec       menu.Record
			itemsJSON []byte
		)
		if err := rows.Scan(
			&rec.ProviderID,
			&rec.ServingDate,
			&rec.Slot,
			&itemsJSON,
			&rec.Source,
			&rec.ContentHash,
			&rec.Version,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal(itemsJSON, &rec.Items); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
		rec.ServingDate = menu.Date(rec.ServingDate)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// CreateRun inserts a new crawl run row.
func (s *Store) CreateRun(ctx context.Context, run menu.CrawlRun) error {
	query := `
INSERT INTO crawl_runs (id, trigger_kind, started_at, outcome)
VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, run.ID, string(run.Trigger), run.StartedAt, string(run.Outcome)); err != nil {
		return fmt.Errorf("insert crawl run: %w", err)
	}
	return nil
}

// FinalizeRun records a run's terminal state exactly once.
func (s *Store) FinalizeRun(ctx context.Context, run menu.CrawlRun) error {
	query := `
UPDATE crawl_runs
SET finished_at = $1, outcome = $2, seen = $3, changed = $4, skipped = $5, failed = $6, error_detail = $7
WHERE id = $8 AND finished_at IS NULL`
	tag, err := s.pool.Exec(ctx, query,
		run.FinishedAt,
		string(run.Outcome),
		run.Counters.Seen,
		run.Counters.Changed,
		run.Counters.Skipped,
		run.Counters.Failed,
		run.ErrorDetail,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("finalize crawl run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found or already finalized", run.ID)
	}
	return nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (menu.CrawlRun, error) {
	query := `
SELECT id, trigger_kind, started_at, finished_at, outcome, seen, changed, skipped, failed, error_detail
FROM crawl_runs
WHERE id = $1`
	var run menu.CrawlRun
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&run.ID,
		&run.Trigger,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Outcome,
		&run.Counters.Seen,
		&run.Counters.Changed,
		&run.Counters.Skipped,
		&run.Counters.Failed,
		&run.ErrorDetail,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return menu.CrawlRun{}, menu.ErrNotFound
		}
		return menu.CrawlRun{}, fmt.Errorf("select crawl run: %w", err)
	}
	return run, nil
}
