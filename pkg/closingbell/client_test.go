package closingbell

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:9108/")
	if c == nil {
		t.Fatal("expected non-nil client")
	}
	if c.baseURL != "http://localhost:9108" {
		t.Errorf("expected baseURL %q, got %q", "http://localhost:9108", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"state":"running","schedule_time":"15:05",
			"next_run":"2025-03-04T15:05:00+08:00","shutdown_requested":false,
			"last_run":{"trade_date":"2025-03-03","trigger":"schedule","status":"failed",
			"started_at":"2025-03-03T15:05:00+08:00","finished_at":"2025-03-03T15:06:00+08:00",
			"error":"exit status 2"},"trading_day":true,"market_open":false}`))
	})
	mux.HandleFunc("/runs", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "2" {
			http.Error(w, "bad limit "+got, http.StatusBadRequest)
			return
		}
		w.Write([]byte(`[{"id":2,"trade_date":"2025-03-04","status":"success"},
			{"id":1,"trade_date":"2025-03-03","status":"failed"}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientHealthAndStatus(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL)
	ctx := context.Background()

	if err := c.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != "running" || st.ScheduleTime != "15:05" || !st.TradingDay {
		t.Errorf("Status = %+v", st)
	}
	if st.NextRun.Day() != 4 {
		t.Errorf("NextRun = %v, want the 4th", st.NextRun)
	}
	if st.LastRun == nil || st.LastRun.Error != "exit status 2" {
		t.Errorf("LastRun = %+v", st.LastRun)
	}
}

func TestClientRuns(t *testing.T) {
	c := NewClient(newTestServer(t).URL)
	runs, err := c.Runs(context.Background(), 2)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != 2 || runs[1].Status != "failed" {
		t.Errorf("Runs = %+v", runs)
	}
}

func TestClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Health(context.Background())
	if err == nil {
		t.Fatal("Health succeeded against a 503")
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "shutting down") {
		t.Errorf("error = %v", err)
	}
}
