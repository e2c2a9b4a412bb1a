// Package store persists the daily task's run history and exports it, and
// the trading calendar, to Parquet files for offline analysis.
package store

import (
	"context"

	"closingbell/internal/domain"
)

// RunStore persists and retrieves run history records.
type RunStore interface {
	// RecordRun appends a run and returns its assigned ID.
	RecordRun(ctx context.Context, rec domain.RunRecord) (int64, error)

	// ListRuns returns the most recent runs, newest first. A limit <= 0
	// returns every run.
	ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error)

	// RunsForDate returns every attempt recorded for a trade date
	// ("2006-01-02"), oldest first.
	RunsForDate(ctx context.Context, tradeDate string) ([]domain.RunRecord, error)

	// Close releases the underlying resources.
	Close() error
}
