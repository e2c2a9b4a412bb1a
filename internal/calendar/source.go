package calendar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"closingbell/internal/domain"
)

// Source is an external provider of trading dates. TradingDays returns the
// trading dates of one calendar year as "2006-01-02" (or "20060102")
// strings. Implementations may fail for some years and not others.
type Source interface {
	TradingDays(ctx context.Context, year int) ([]string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, year int) ([]string, error)

// TradingDays calls f.
func (f SourceFunc) TradingDays(ctx context.Context, year int) ([]string, error) {
	return f(ctx, year)
}

// ErrYearNotCovered is returned by sources that only know a fixed set of
// years.
var ErrYearNotCovered = errors.New("year not covered by calendar source")

// WeekdaySource treats every Monday to Friday as a trading day.
type WeekdaySource struct{}

// TradingDays lists every weekday of year.
func (WeekdaySource) TradingDays(_ context.Context, year int) ([]string, error) {
	return weekdaysExcept(year, nil), nil
}

// HolidayFileSource derives trading days from a YAML list of exchange
// holidays: every weekday of a covered year that is not listed is a trading
// day. Years missing from the file fail with ErrYearNotCovered.
//
//	market: cn
//	holidays:
//	  2025: ["2025-01-01", "2025-01-28"]
type HolidayFileSource struct {
	Market   domain.Market
	holidays map[int]map[string]struct{}
}

type holidayFile struct {
	Market   domain.Market    `yaml:"market"`
	Holidays map[int][]string `yaml:"holidays"`
}

// LoadHolidayFile reads and validates a holiday file.
func LoadHolidayFile(path string) (*HolidayFileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading holiday file: %w", err)
	}
	return ParseHolidayFile(data)
}

// ParseHolidayFile parses holiday YAML. Every date must belong to the year
// it is listed under.
func ParseHolidayFile(data []byte) (*HolidayFileSource, error) {
	var hf holidayFile
	if err := yaml.Unmarshal(data, &hf); err != nil {
		return nil, fmt.Errorf("parsing holiday file: %w", err)
	}

	src := &HolidayFileSource{
		Market:   hf.Market,
		holidays: make(map[int]map[string]struct{}, len(hf.Holidays)),
	}
	for year, dates := range hf.Holidays {
		set := make(map[string]struct{}, len(dates))
		for _, s := range dates {
			d, err := parseDate(s)
			if err != nil {
				return nil, fmt.Errorf("holiday %q: %w", s, err)
			}
			if d.Year() != year {
				return nil, fmt.Errorf("holiday %q listed under %d", s, year)
			}
			set[d.Format(domain.DateLayout)] = struct{}{}
		}
		src.holidays[year] = set
	}
	return src, nil
}

// TradingDays lists the weekdays of year that are not holidays.
func (s *HolidayFileSource) TradingDays(_ context.Context, year int) ([]string, error) {
	hol, ok := s.holidays[year]
	if !ok {
		return nil, fmt.Errorf("%d: %w", year, ErrYearNotCovered)
	}
	return weekdaysExcept(year, hol), nil
}

func weekdaysExcept(year int, skip map[string]struct{}) []string {
	var out []string
	for d := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC); d.Year() == year; d = d.AddDate(0, 0, 1) {
		if isWeekend(d) {
			continue
		}
		key := d.Format(domain.DateLayout)
		if _, closed := skip[key]; closed {
			continue
		}
		out = append(out, key)
	}
	return out
}
