// Package httpapi serves the daemon's health, status, run history and
// Prometheus metrics over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"closingbell/internal/domain"
	"closingbell/internal/scheduler"
)

// StatusSource is the scheduler view the server reports.
type StatusSource interface {
	Status() scheduler.Status
}

// MarketClock answers calendar questions about "now".
type MarketClock interface {
	Location() *time.Location
	IsTradingDay(t time.Time) bool
	IsMarketOpenTime(t time.Time) bool
}

// RunLister lists recorded runs, newest first.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error)
}

// StatusResponse is the /status document.
type StatusResponse struct {
	scheduler.Status
	TradingDay bool `json:"trading_day"`
	MarketOpen bool `json:"market_open"`
}

// ErrorResponse is written for non-2xx replies.
type ErrorResponse struct {
	Error string `json:"error"`
}

const defaultRunLimit = 20

// StatusServer serves the daemon HTTP API.
type StatusServer struct {
	sched    StatusSource
	cal      MarketClock
	runs     RunLister // nil when run history is disabled
	gatherer prometheus.Gatherer
	now      func() time.Time
	log      *slog.Logger
}

// NewStatusServer creates the status server. runs may be nil; a nil
// gatherer means prometheus.DefaultGatherer.
func NewStatusServer(sched StatusSource, cal MarketClock, runs RunLister, gatherer prometheus.Gatherer, log *slog.Logger) *StatusServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &StatusServer{
		sched:    sched,
		cal:      cal,
		runs:     runs,
		gatherer: gatherer,
		now:      time.Now,
		log:      log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *StatusServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /runs", s.handleRuns)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// Handler returns an http.Handler with CORS middleware.
func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}

// handleHealth answers 503 once shutdown has been requested so a load
// balancer stops routing to a draining process.
func (s *StatusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.sched.Status().ShutdownRequested {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	// IsTradingDay reads the date in t's own zone; use the market's.
	now := s.now().In(s.cal.Location())
	writeJSON(w, StatusResponse{
		Status:     s.sched.Status(),
		TradingDay: s.cal.IsTradingDay(now),
		MarketOpen: s.cal.IsMarketOpenTime(now),
	})
}

func (s *StatusServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotFound, "run history disabled")
		return
	}
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.Error("listing runs", "error", err)
		writeError(w, http.StatusInternalServerError, "listing runs failed")
		return
	}
	if runs == nil {
		runs = []domain.RunRecord{}
	}
	writeJSON(w, runs)
}
