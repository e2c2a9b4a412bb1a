package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"closingbell/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	trade_date  TEXT    NOT NULL,
	source      TEXT    NOT NULL,
	status      TEXT    NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	error       TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_trade_date ON runs (trade_date);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creating
// the parent directory and the schema as needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbPath, err)
	}
	// One writer at a time; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// RecordRun inserts a run and returns its row ID.
func (s *SQLiteStore) RecordRun(ctx context.Context, rec domain.RunRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (trade_date, source, status, started_at, finished_at, error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TradeDate, string(rec.Trigger), string(rec.Status),
		rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli(), rec.Error)
	if err != nil {
		return 0, fmt.Errorf("inserting run for %s: %w", rec.TradeDate, err)
	}
	return res.LastInsertId()
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	q := `SELECT id, trade_date, source, status, started_at, finished_at, error
	      FROM runs ORDER BY id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryRuns(ctx, q, args...)
}

// RunsForDate returns the runs recorded for tradeDate, oldest first.
func (s *SQLiteStore) RunsForDate(ctx context.Context, tradeDate string) ([]domain.RunRecord, error) {
	return s.queryRuns(ctx,
		`SELECT id, trade_date, source, status, started_at, finished_at, error
		 FROM runs WHERE trade_date = ? ORDER BY id`, tradeDate)
}

func (s *SQLiteStore) queryRuns(ctx context.Context, q string, args ...any) ([]domain.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunRecord
	for rows.Next() {
		var (
			r                 domain.RunRecord
			trigger, status   string
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &r.TradeDate, &trigger, &status, &started, &finished, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Trigger = domain.RunTrigger(trigger)
		r.Status = domain.RunStatus(status)
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
