// Package calendar answers trading-day questions for a single market. It
// caches the trading dates reported by an external Source for a window of
// years around the year being asked about, and falls back to treating every
// weekday as a trading day when the source has nothing to offer.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"closingbell/internal/domain"
	"closingbell/internal/metrics"
	"closingbell/internal/util"
)

const (
	// DefaultYearRange is how many years either side of the reference year
	// a refresh collects.
	DefaultYearRange = 2
	// DefaultLookahead bounds NextTradingDay.
	DefaultLookahead = 10
	// DefaultFetchTimeout bounds one refresh triggered from IsTradingDay.
	DefaultFetchTimeout = 2 * time.Minute
)

// DateSet is a set of trading dates keyed by domain.DateLayout.
type DateSet map[string]struct{}

// Contains reports whether the date of t (in t's own location) is in the set.
func (s DateSet) Contains(t time.Time) bool {
	_, ok := s[t.Format(domain.DateLayout)]
	return ok
}

// Len returns the number of dates in the set.
func (s DateSet) Len() int { return len(s) }

// Clone returns an independent copy.
func (s DateSet) Clone() DateSet {
	out := make(DateSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Calendar caches trading dates and applies the weekday fallback policy.
//
// The cache is keyed on a reference year. Once a refresh for a year has been
// attempted its result is served for every lookup until a different year is
// requested. A year the source could not provide (error, panic or no dates)
// is answered by the weekday fallback; an optional empty-retry interval lets
// such a reference year be refetched.
type Calendar struct {
	source       Source
	loc          *time.Location
	sessions     []Session
	yearRange    int
	fetchTimeout time.Duration
	emptyRetry   time.Duration
	now          func() time.Time
	log          *slog.Logger
	metrics      *metrics.Metrics

	mu          sync.Mutex
	days        DateSet
	covered     map[int]bool // years the source provided at least one date for
	fetched     bool
	fetchedYear int
	fetchedAt   time.Time
}

// Option configures a Calendar.
type Option func(*Calendar)

// WithLocation sets the market's time zone. IsMarketOpenTime converts its
// argument into this location before reading the clock.
func WithLocation(loc *time.Location) Option {
	return func(c *Calendar) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithSessions replaces the default trading session windows.
func WithSessions(sessions []Session) Option {
	return func(c *Calendar) {
		if len(sessions) > 0 {
			c.sessions = append([]Session(nil), sessions...)
		}
	}
}

// WithYearRange sets how many years either side of the reference year are
// fetched on refresh.
func WithYearRange(n int) Option {
	return func(c *Calendar) {
		if n >= 0 {
			c.yearRange = n
		}
	}
}

// WithFetchTimeout bounds refreshes started by IsTradingDay. Zero disables
// the timeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Calendar) { c.fetchTimeout = d }
}

// WithEmptyRetry allows a reference year the source could not provide to be
// refetched once d has elapsed since the last attempt. Zero keeps the weekday
// fallback for that year until the reference year changes.
func WithEmptyRetry(d time.Duration) Option {
	return func(c *Calendar) { c.emptyRetry = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Calendar) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Calendar) { c.metrics = m }
}

// WithClock overrides the wall clock used for the empty-retry policy.
func WithClock(now func() time.Time) Option {
	return func(c *Calendar) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Calendar backed by src.
func New(src Source, opts ...Option) (*Calendar, error) {
	if src == nil {
		return nil, fmt.Errorf("calendar: nil source")
	}
	c := &Calendar{
		source:       src,
		loc:          time.Local,
		sessions:     append([]Session(nil), DefaultSessions...),
		yearRange:    DefaultYearRange,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		log:          util.Discard(),
		days:         make(DateSet),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "calendar")
	return c, nil
}

// Location returns the market's time zone.
func (c *Calendar) Location() *time.Location { return c.loc }

// Sessions returns a copy of the trading session windows.
func (c *Calendar) Sessions() []Session { return append([]Session(nil), c.sessions...) }

// IsTradingDay reports whether the calendar date of t, read in t's own
// location, is a trading day. Weekends are rejected without consulting the
// source. If the source could not provide t's year the weekday fallback
// applies, whatever the neighbouring years hold.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	if isWeekend(t) {
		return false
	}

	ctx := context.Background()
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}

	c.mu.Lock()
	days := c.refreshLocked(ctx, t.Year())
	covered := c.covered[t.Year()]
	ok := days.Contains(t)
	c.mu.Unlock()

	key := t.Format(domain.DateLayout)
	if !covered {
		c.log.Warn("trading calendar unavailable for year, treating weekday as trading day",
			"date", key, "year", t.Year())
		c.metrics.ObserveFallback()
		return true
	}
	c.log.Debug("trading day lookup", "date", key, "trading", ok)
	return ok
}

// RefreshCache makes sure the cache covers year and returns a copy of it.
// Calling it again for the same reference year does not touch the source.
// Source errors never escape: a failed year is logged and skipped, and a
// total failure yields an empty set.
func (c *Calendar) RefreshCache(ctx context.Context, year int) DateSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx, year).Clone()
}

func (c *Calendar) refreshLocked(ctx context.Context, year int) DateSet {
	if c.fetched && c.fetchedYear == year && !c.retryMissingLocked() {
		return c.days
	}

	c.log.Info("fetching trading calendar", "year", year,
		"from", year-c.yearRange, "to", year+c.yearRange)

	days := make(DateSet)
	covered := make(map[int]bool, 2*c.yearRange+1)
	for y := year - c.yearRange; y <= year+c.yearRange; y++ {
		n, err := c.fetchYear(ctx, y, days)
		c.metrics.ObserveFetch(err)
		if err != nil {
			c.log.Warn("fetching trading days failed", "year", y, "error", err)
			continue
		}
		if n == 0 {
			c.log.Warn("source returned no trading days", "year", y)
			continue
		}
		covered[y] = true
		c.log.Info("fetched trading days", "year", y, "days", n)
	}

	// The reference year moves even when nothing came back, so a dead
	// source is not hammered on every lookup.
	c.days = days
	c.covered = covered
	c.fetched = true
	c.fetchedYear = year
	c.fetchedAt = c.now()
	c.metrics.SetCachedDays(len(days))

	switch {
	case len(days) == 0:
		c.log.Error("trading calendar empty after refresh", "year", year)
	case !covered[year]:
		c.log.Error("trading calendar missing reference year", "year", year, "days", len(days))
	default:
		c.log.Info("trading calendar cached", "year", year, "days", len(days))
	}
	return c.days
}

// retryMissingLocked reports whether a reference year the source could not
// provide is due for another attempt.
func (c *Calendar) retryMissingLocked() bool {
	return c.emptyRetry > 0 && !c.covered[c.fetchedYear] && c.now().Sub(c.fetchedAt) >= c.emptyRetry
}

// fetchYear adds the trading days the source reports for year to dst and
// returns how many were added. A panicking source is reported as an error.
func (c *Calendar) fetchYear(ctx context.Context, year int, dst DateSet) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("source panicked: %v", r)
		}
	}()

	raw, err := c.source.TradingDays(ctx, year)
	if err != nil {
		return 0, err
	}
	for _, s := range raw {
		d, perr := parseDate(s)
		if perr != nil {
			c.log.Debug("skipping malformed trading date", "value", s, "error", perr)
			continue
		}
		if d.Year() != year {
			continue
		}
		key := d.Format(domain.DateLayout)
		if _, dup := dst[key]; !dup {
			dst[key] = struct{}{}
			n++
		}
	}
	return n, nil
}

// NextTradingDay returns the first trading day strictly after the date of t,
// looking at most maxLookahead days ahead (DefaultLookahead when
// maxLookahead <= 0). The second result is false when none was found.
func (c *Calendar) NextTradingDay(t time.Time, maxLookahead int) (time.Time, bool) {
	if maxLookahead <= 0 {
		maxLookahead = DefaultLookahead
	}
	day := startOfDay(t)
	for i := 1; i <= maxLookahead; i++ {
		candidate := day.AddDate(0, 0, i)
		if c.IsTradingDay(candidate) {
			return candidate, true
		}
	}
	c.log.Warn("no trading day found within lookahead",
		"from", t.Format(domain.DateLayout), "days", maxLookahead)
	return time.Time{}, false
}

// TradingDaysBetween lists the trading days in [from, to], both dates
// inclusive.
func (c *Calendar) TradingDaysBetween(from, to time.Time) []time.Time {
	var out []time.Time
	end := startOfDay(to)
	for d := startOfDay(from); !d.After(end); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			out = append(out, d)
		}
	}
	return out
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// parseDate accepts both "2006-01-02" and the compact "20060102" form some
// providers emit.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(domain.DateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse("20060102", s)
}
