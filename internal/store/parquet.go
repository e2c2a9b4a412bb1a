package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"closingbell/internal/domain"
)

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// RunRow is the Parquet schema for exported run history.
type RunRow struct {
	ID         int64  `parquet:"id"`
	TradeDate  string `parquet:"trade_date"`
	Trigger    string `parquet:"trigger"`
	Status     string `parquet:"status"`
	StartedAt  int64  `parquet:"started_at,timestamp(millisecond)"` // Unix ms
	FinishedAt int64  `parquet:"finished_at,timestamp(millisecond)"`
	DurationMS int64  `parquet:"duration_ms"`
	Error      string `parquet:"error"`
}

// TradingDayRow is the Parquet schema for an exported trading calendar.
type TradingDayRow struct {
	Date    string `parquet:"date"`
	Year    int32  `parquet:"year"`
	Month   int32  `parquet:"month"`
	Weekday string `parquet:"weekday"`
}

// ExportRuns writes runs to a Parquet file at path, ordered by ID.
func ExportRuns(path string, runs []domain.RunRecord) error {
	rows := make([]RunRow, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, RunRow{
			ID:         r.ID,
			TradeDate:  r.TradeDate,
			Trigger:    string(r.Trigger),
			Status:     string(r.Status),
			StartedAt:  r.StartedAt.UnixMilli(),
			FinishedAt: r.FinishedAt.UnixMilli(),
			DurationMS: r.Duration().Milliseconds(),
			Error:      r.Error,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	if err := writeParquetFile(path, rows); err != nil {
		return fmt.Errorf("exporting runs to %s: %w", path, err)
	}
	return nil
}

// ExportTradingDays writes one row per trading day, deduplicated and sorted.
func ExportTradingDays(path string, days []time.Time) error {
	seen := make(map[string]TradingDayRow, len(days))
	for _, d := range days {
		key := d.Format(domain.DateLayout)
		seen[key] = TradingDayRow{
			Date:    key,
			Year:    int32(d.Year()),
			Month:   int32(d.Month()),
			Weekday: d.Weekday().String(),
		}
	}
	rows := make([]TradingDayRow, 0, len(seen))
	for _, r := range seen {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })

	if err := writeParquetFile(path, rows); err != nil {
		return fmt.Errorf("exporting trading days to %s: %w", path, err)
	}
	return nil
}

// ReadRuns loads a file written by ExportRuns.
func ReadRuns(path string) ([]RunRow, error) {
	return readParquetFile[RunRow](path)
}

// ReadTradingDays loads a file written by ExportTradingDays.
func ReadTradingDays(path string) ([]TradingDayRow, error) {
	return readParquetFile[TradingDayRow](path)
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
