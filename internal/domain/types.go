// Package domain holds value types shared between the calendar, scheduler,
// and storage layers.
package domain

import "time"

// DateLayout is the canonical key format for calendar dates.
const DateLayout = "2006-01-02"

// Market identifies the exchange whose calendar gates the daily task.
type Market string

const (
	MarketCN Market = "cn"
	MarketUS Market = "us"
)

// RunStatus is the outcome of one scheduled attempt.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
	RunStatusSkipped RunStatus = "skipped" // non-trading day
)

// RunTrigger says what caused an attempt.
type RunTrigger string

const (
	RunTriggerSchedule  RunTrigger = "schedule"
	RunTriggerImmediate RunTrigger = "immediate"
)

// RunRecord is one entry in the run history.
type RunRecord struct {
	ID         int64      `json:"id,omitempty"`
	TradeDate  string     `json:"trade_date"` // DateLayout, in the calendar's location
	Trigger    RunTrigger `json:"trigger"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Error      string     `json:"error,omitempty"`
}

// Duration is the wall time spent in the task. Zero for skipped runs.
func (r RunRecord) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
