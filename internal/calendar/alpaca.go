package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"closingbell/internal/util"
)

// AlpacaOptions configures an AlpacaSource.
type AlpacaOptions struct {
	APIKey          string
	APISecret       string
	BaseURL         string
	RateLimitPerMin int
	Retry           util.RetryPolicy
	Logger          *slog.Logger
}

// AlpacaSource reads trading days from the Alpaca trading calendar API.
type AlpacaSource struct {
	client  *alpaca.Client
	limiter *util.RateLimiter
	retry   util.RetryPolicy
	log     *slog.Logger
}

// NewAlpacaSource creates an AlpacaSource.
func NewAlpacaSource(opts AlpacaOptions) *AlpacaSource {
	log := opts.Logger
	if log == nil {
		log = util.Discard()
	}
	return &AlpacaSource{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
			BaseURL:   opts.BaseURL,
		}),
		limiter: util.NewRateLimiter(opts.RateLimitPerMin),
		retry:   opts.Retry,
		log:     log.With("source", "alpaca"),
	}
}

// TradingDays fetches the calendar for January 1 through December 31 of
// year.
func (s *AlpacaSource) TradingDays(ctx context.Context, year int) ([]string, error) {
	req := alpaca.GetCalendarRequest{
		Start: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC),
	}

	var days []alpaca.CalendarDay
	err := util.Retry(ctx, s.retry, func(attempt int) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		days, err = s.client.GetCalendar(req)
		if err != nil {
			s.log.Debug("GetCalendar failed", "year", year, "attempt", attempt, "error", err)
			return fmt.Errorf("GetCalendar %d: %w", year, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(days))
	for _, d := range days {
		out = append(out, d.Date)
	}
	return out, nil
}
