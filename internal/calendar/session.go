package calendar

import (
	"fmt"
	"strings"
	"time"
)

// Session is a trading window in HHMM form (930 is 09:30). Both ends are
// inclusive: the market counts as open at exactly Open:00 and Close:00.
type Session struct {
	Open  int
	Close int
}

// DefaultSessions are the A-share continuous auction windows.
var DefaultSessions = []Session{
	{Open: 930, Close: 1130},
	{Open: 1300, Close: 1500},
}

// ParseSession parses "HH:MM-HH:MM".
func ParseSession(s string) (Session, error) {
	open, closing, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Session{}, fmt.Errorf("session %q: want HH:MM-HH:MM", s)
	}
	o, err := parseHHMM(open)
	if err != nil {
		return Session{}, fmt.Errorf("session %q: %w", s, err)
	}
	c, err := parseHHMM(closing)
	if err != nil {
		return Session{}, fmt.Errorf("session %q: %w", s, err)
	}
	if c < o {
		return Session{}, fmt.Errorf("session %q: closes before it opens", s)
	}
	return Session{Open: o, Close: c}, nil
}

// ParseSessions parses a list of "HH:MM-HH:MM" windows.
func ParseSessions(specs []string) ([]Session, error) {
	out := make([]Session, 0, len(specs))
	for _, s := range specs {
		sess, err := ParseSession(s)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func parseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*100 + t.Minute(), nil
}

// Contains reports whether the clock reading of t falls in the window.
// Seconds are compared too, so 11:30:00 is inside [09:30, 11:30] and
// 11:30:01 is not.
func (s Session) Contains(t time.Time) bool {
	clock := t.Hour()*10000 + t.Minute()*100 + t.Second()
	return clock >= s.Open*100 && clock <= s.Close*100
}

func (s Session) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", s.Open/100, s.Open%100, s.Close/100, s.Close%100)
}

// IsMarketOpenTime reports whether t, converted into the market's location,
// falls inside a trading session on a trading day.
func (c *Calendar) IsMarketOpenTime(t time.Time) bool {
	local := t.In(c.loc)
	if !c.IsTradingDay(local) {
		return false
	}
	for _, s := range c.sessions {
		if s.Contains(local) {
			return true
		}
	}
	return false
}
