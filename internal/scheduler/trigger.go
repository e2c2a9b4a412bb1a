package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"closingbell/internal/domain"
)

// ErrInvalidScheduleTime is returned for schedule strings that are not a
// 24-hour "HH:MM".
var ErrInvalidScheduleTime = errors.New("schedule time must be HH:MM (24-hour)")

// ParseScheduleTime parses a 24-hour "HH:MM" string.
func ParseScheduleTime(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(m) != 2 || len(h) == 0 || len(h) > 2 {
		return 0, 0, fmt.Errorf("%q: %w", s, ErrInvalidScheduleTime)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%q: %w", s, ErrInvalidScheduleTime)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%q: %w", s, ErrInvalidScheduleTime)
	}
	return hour, minute, nil
}

// DailyTrigger fires at most once per calendar day, at or after a fixed
// wall-clock time. It remembers the date it last fired on.
type DailyTrigger struct {
	hour      int
	minute    int
	lastFired string // domain.DateLayout
}

// NewDailyTrigger creates a trigger for hour:minute. If today's slot has
// already passed at now, the first firing is tomorrow's.
func NewDailyTrigger(hour, minute int, now time.Time) *DailyTrigger {
	t := &DailyTrigger{hour: hour, minute: minute}
	if !now.Before(t.slot(now)) {
		t.lastFired = now.Format(domain.DateLayout)
	}
	return t
}

func (t *DailyTrigger) slot(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), t.hour, t.minute, 0, 0, now.Location())
}

// Due reports whether now is at or past today's slot and the trigger has not
// fired today.
func (t *DailyTrigger) Due(now time.Time) bool {
	return !now.Before(t.slot(now)) && t.lastFired != now.Format(domain.DateLayout)
}

// MarkFired records now's date as fired.
func (t *DailyTrigger) MarkFired(now time.Time) {
	t.lastFired = now.Format(domain.DateLayout)
}

// LastFired returns the date the trigger last fired on, or "".
func (t *DailyTrigger) LastFired() string { return t.lastFired }

// Next returns the next time the trigger will fire. An overdue slot is
// returned as is.
func (t *DailyTrigger) Next(now time.Time) time.Time {
	if t.lastFired != now.Format(domain.DateLayout) {
		return t.slot(now)
	}
	return time.Date(now.Year(), now.Month(), now.Day()+1, t.hour, t.minute, 0, 0, now.Location())
}

func (t *DailyTrigger) String() string {
	return fmt.Sprintf("%02d:%02d", t.hour, t.minute)
}
