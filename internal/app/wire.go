// Package app builds the shared components of the daemon and the CLI from
// a loaded configuration.
package app

import (
	"fmt"
	"log/slog"
	"time"

	"closingbell/internal/calendar"
	"closingbell/internal/config"
	"closingbell/internal/metrics"
	"closingbell/internal/util"
)

// NewLogger builds the process logger from cfg.Logging. With a log file the
// output goes to both stdout and the file; the returned closer must be
// called on exit.
func NewLogger(cfg config.Logging) (*slog.Logger, func() error, error) {
	w, closer, err := util.OpenLogFile(cfg.File)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return util.NewLogger(cfg.Level, cfg.Format, w), closer, nil
}

// NewSource returns the calendar source named by cfg.Calendar.Source.
func NewSource(cfg *config.Config, log *slog.Logger) (calendar.Source, error) {
	switch cfg.Calendar.Source {
	case config.SourceAlpaca:
		return calendar.NewAlpacaSource(calendar.AlpacaOptions{
			APIKey:          cfg.Alpaca.APIKey,
			APISecret:       cfg.Alpaca.APISecret,
			BaseURL:         cfg.Alpaca.BaseURL,
			RateLimitPerMin: cfg.Alpaca.RateLimitPerMin,
			Retry: util.RetryPolicy{
				Attempts:  cfg.Alpaca.RetryAttempts,
				BaseDelay: 2 * time.Second,
				MaxDelay:  30 * time.Second,
			},
			Logger: log,
		}), nil
	case config.SourceFile:
		src, err := calendar.LoadHolidayFile(cfg.Calendar.HolidayFile)
		if err != nil {
			return nil, err
		}
		if src.Market != "" && cfg.Calendar.Market != "" && string(src.Market) != cfg.Calendar.Market {
			return nil, fmt.Errorf("holiday file %s is for market %q, calendar.market is %q",
				cfg.Calendar.HolidayFile, src.Market, cfg.Calendar.Market)
		}
		return src, nil
	case config.SourceWeekday:
		return calendar.WeekdaySource{}, nil
	default:
		return nil, fmt.Errorf("unknown calendar source %q", cfg.Calendar.Source)
	}
}

// NewCalendar builds the trading calendar. m may be nil.
func NewCalendar(cfg *config.Config, log *slog.Logger, m *metrics.Metrics) (*calendar.Calendar, error) {
	src, err := NewSource(cfg, log)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Calendar.Location()
	if err != nil {
		return nil, err
	}

	opts := []calendar.Option{
		calendar.WithLocation(loc),
		calendar.WithYearRange(cfg.Calendar.YearRange),
		calendar.WithFetchTimeout(cfg.Calendar.FetchTimeout),
		calendar.WithEmptyRetry(cfg.Calendar.EmptyRetryInterval),
		calendar.WithLogger(log),
		calendar.WithMetrics(m),
	}
	if len(cfg.Calendar.Sessions) > 0 {
		sessions, err := calendar.ParseSessions(cfg.Calendar.Sessions)
		if err != nil {
			return nil, err
		}
		opts = append(opts, calendar.WithSessions(sessions))
	}
	return calendar.New(src, opts...)
}
