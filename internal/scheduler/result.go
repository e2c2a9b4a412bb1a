package scheduler

import (
	"fmt"
	"runtime/debug"
	"time"

	"closingbell/internal/domain"
)

// Task is the daily job. A returned error or a panic marks the run failed;
// neither stops the scheduler.
type Task func() error

// RunResult is the outcome of one gated attempt.
type RunResult struct {
	Trigger   domain.RunTrigger
	TradeDate string
	Status    domain.RunStatus
	Started   time.Time
	Finished  time.Time
	Err       error
	Panicked  bool
	Stack     []byte
}

// OK reports whether the task ran and succeeded.
func (r RunResult) OK() bool { return r.Status == domain.RunStatusSuccess }

// Duration is the time spent inside the task.
func (r RunResult) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// Record converts the result to a run-history entry.
func (r RunResult) Record() domain.RunRecord {
	rec := domain.RunRecord{
		TradeDate:  r.TradeDate,
		Trigger:    r.Trigger,
		Status:     r.Status,
		StartedAt:  r.Started,
		FinishedAt: r.Finished,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

// safeRun invokes task and converts both errors and panics into a failed
// RunResult.
func safeRun(task Task, now func() time.Time) (res RunResult) {
	res.Started = now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("task panicked: %v", r)
			res.Panicked = true
			res.Stack = debug.Stack()
		}
		res.Finished = now()
		if res.Err != nil {
			res.Status = domain.RunStatusFailed
		} else {
			res.Status = domain.RunStatusSuccess
		}
	}()

	res.Err = task()
	return res
}
