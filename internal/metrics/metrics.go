// Package metrics bundles the Prometheus collectors exported by the daemon.
// Every method is safe to call on a nil *Metrics, so components can take
// metrics as an optional dependency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles scheduler and calendar metrics.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	LastSuccess        prometheus.Gauge
	CalendarFetches    *prometheus.CounterVec
	CalendarFallbacks  prometheus.Counter
	CalendarCachedDays prometheus.Gauge
	ShutdownRequested  prometheus.Gauge
}

// New constructs the collectors and registers them with reg. A nil reg
// skips registration, which keeps tests free of global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "closingbell_runs_total",
				Help: "Daily task attempts by status",
			},
			[]string{"status"},
		),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "closingbell_run_duration_seconds",
			Help:    "Daily task duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "closingbell_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		}),
		CalendarFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "closingbell_calendar_fetches_total",
				Help: "Per-year trading calendar fetches by result",
			},
			[]string{"result"},
		),
		CalendarFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "closingbell_calendar_fallbacks_total",
			Help: "Trading-day decisions made by the weekday fallback",
		}),
		CalendarCachedDays: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "closingbell_calendar_cached_days",
			Help: "Trading days currently held in the calendar cache",
		}),
		ShutdownRequested: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "closingbell_shutdown_requested",
			Help: "1 once a termination signal has been received",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RunsTotal,
			m.RunDuration,
			m.LastSuccess,
			m.CalendarFetches,
			m.CalendarFallbacks,
			m.CalendarCachedDays,
			m.ShutdownRequested,
		)
	}
	return m
}

// ObserveRun records one task attempt.
func (m *Metrics) ObserveRun(status string, started time.Time, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	if status == "skipped" {
		return
	}
	m.RunDuration.Observe(d.Seconds())
	if status == "success" {
		m.LastSuccess.Set(float64(started.Add(d).Unix()))
	}
}

// ObserveFetch records one per-year calendar fetch.
func (m *Metrics) ObserveFetch(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CalendarFetches.WithLabelValues(result).Inc()
}

// ObserveFallback records a weekday-fallback decision.
func (m *Metrics) ObserveFallback() {
	if m == nil {
		return
	}
	m.CalendarFallbacks.Inc()
}

// SetCachedDays reports the size of the calendar cache.
func (m *Metrics) SetCachedDays(n int) {
	if m == nil {
		return
	}
	m.CalendarCachedDays.Set(float64(n))
}

// MarkShutdown flips the shutdown gauge.
func (m *Metrics) MarkShutdown() {
	if m == nil {
		return
	}
	m.ShutdownRequested.Set(1)
}
