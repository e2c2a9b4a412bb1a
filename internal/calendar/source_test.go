package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"closingbell/internal/domain"
	"closingbell/internal/util"
)

func TestWeekdaySource(t *testing.T) {
	days, err := WeekdaySource{}.TradingDays(context.Background(), 2025)
	if err != nil {
		t.Fatalf("TradingDays: %v", err)
	}
	if len(days) != 261 {
		t.Errorf("2025 has %d weekdays, want 261", len(days))
	}
	if days[0] != "2025-01-01" {
		t.Errorf("first weekday = %q, want %q", days[0], "2025-01-01")
	}
}

const holidayYAML = `
market: cn
holidays:
  2025:
    - "2025-01-01"
    - "2025-10-01"
    - "20251002"
`

func TestParseHolidayFile(t *testing.T) {
	src, err := ParseHolidayFile([]byte(holidayYAML))
	if err != nil {
		t.Fatalf("ParseHolidayFile: %v", err)
	}
	if src.Market != domain.MarketCN {
		t.Errorf("Market = %q, want %q", src.Market, domain.MarketCN)
	}

	days, err := src.TradingDays(context.Background(), 2025)
	if err != nil {
		t.Fatalf("TradingDays: %v", err)
	}
	if len(days) != 258 {
		t.Errorf("got %d trading days, want 258", len(days))
	}
	for _, d := range days {
		if d == "2025-10-01" || d == "2025-10-02" {
			t.Errorf("holiday %s listed as trading day", d)
		}
	}

	if _, err := src.TradingDays(context.Background(), 2026); !errors.Is(err, ErrYearNotCovered) {
		t.Errorf("uncovered year err = %v, want ErrYearNotCovered", err)
	}
}

func TestParseHolidayFileRejectsMisfiledDate(t *testing.T) {
	data := []byte("holidays:\n  2025:\n    - \"2024-12-25\"\n")
	if _, err := ParseHolidayFile(data); err == nil {
		t.Fatal("expected error for a date listed under the wrong year")
	}
}

func TestLoadHolidayFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holidays.yaml")
	if err := os.WriteFile(path, []byte(holidayYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadHolidayFile(path); err != nil {
		t.Fatalf("LoadHolidayFile: %v", err)
	}
	if _, err := LoadHolidayFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestHolidayFileSourceWithCalendar(t *testing.T) {
	src, err := ParseHolidayFile([]byte(holidayYAML))
	if err != nil {
		t.Fatal(err)
	}
	c := newTestCalendar(t, src)

	if c.IsTradingDay(date(2025, 10, 1)) {
		t.Error("National Day should be closed")
	}
	if !c.IsTradingDay(date(2025, 10, 3)) {
		t.Error("2025-10-03 should be open")
	}
}

type calendarDay struct {
	Date  string `json:"date"`
	Open  string `json:"open"`
	Close string `json:"close"`
}

func TestAlpacaSource(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if !strings.HasSuffix(r.URL.Path, "/calendar") {
			http.NotFound(w, r)
			return
		}
		year := "2025"
		if start := r.URL.Query().Get("start"); len(start) >= 4 {
			year = start[:4]
		}
		days := []calendarDay{
			{Date: year + "-01-02", Open: "09:30", Close: "16:00"},
			{Date: year + "-01-03", Open: "09:30", Close: "16:00"},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(days)
	}))
	defer srv.Close()

	src := NewAlpacaSource(AlpacaOptions{
		APIKey:    "key",
		APISecret: "secret",
		BaseURL:   srv.URL,
		Retry:     util.RetryPolicy{Attempts: 1},
	})

	days, err := src.TradingDays(context.Background(), 2025)
	if err != nil {
		t.Fatalf("TradingDays: %v", err)
	}
	want := []string{"2025-01-02", "2025-01-03"}
	if len(days) != len(want) {
		t.Fatalf("got %v, want %v", days, want)
	}
	for i := range want {
		if days[i] != want[i] {
			t.Errorf("day %d = %q, want %q", i, days[i], want[i])
		}
	}
	if requests != 1 {
		t.Errorf("server saw %d requests, want 1", requests)
	}
}
