// Package scheduler runs one task per trading day at a fixed wall-clock
// time. The run loop polls a DailyTrigger, gates every firing on the trading
// calendar, isolates task failures, and exits between poll cycles once a
// shutdown is requested.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"closingbell/internal/domain"
	"closingbell/internal/metrics"
	"closingbell/internal/util"
)

// DefaultPollInterval is how long the loop sleeps between trigger checks.
const DefaultPollInterval = 30 * time.Second

var (
	// ErrStopped is returned by Run on a scheduler that has already stopped.
	// A stopped scheduler cannot be restarted.
	ErrStopped = errors.New("scheduler: stopped")
	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("scheduler: already running")
	// ErrTaskAlreadySet is returned when a second daily task is registered.
	ErrTaskAlreadySet = errors.New("scheduler: daily task already set")
)

// TradingDayChecker decides whether a date is a trading day.
type TradingDayChecker interface {
	IsTradingDay(t time.Time) bool
}

// Recorder persists run history.
type Recorder interface {
	RecordRun(ctx context.Context, rec domain.RunRecord) (int64, error)
}

// State is the scheduler lifecycle: Idle -> Running -> Stopped.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds the construction-time settings.
type Config struct {
	ScheduleTime string         // "HH:MM", 24-hour
	PollInterval time.Duration  // DefaultPollInterval when zero
	Location     *time.Location // time.Local when nil
}

// Scheduler owns the daily trigger and the blocking run loop.
type Scheduler struct {
	scheduleTime string
	hour, minute int
	poll         time.Duration
	loc          *time.Location

	cal      TradingDayChecker
	shutdown *ShutdownFlag
	now      func() time.Time
	log      *slog.Logger
	metrics  *metrics.Metrics
	recorder Recorder

	mu      sync.Mutex
	task    Task
	trigger *DailyTrigger
	state   State
	running bool
	last    *RunResult
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithShutdownFlag shares a flag with the signal watcher.
func WithShutdownFlag(f *ShutdownFlag) Option {
	return func(s *Scheduler) {
		if f != nil {
			s.shutdown = f
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithRecorder appends every attempt to run history.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// New validates cfg and returns an idle Scheduler. A bad schedule time or a
// missing calendar is a configuration error.
func New(cfg Config, cal TradingDayChecker, opts ...Option) (*Scheduler, error) {
	if cal == nil {
		return nil, errors.New("scheduler: nil trading calendar")
	}
	hour, minute, err := ParseScheduleTime(cfg.ScheduleTime)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	s := &Scheduler{
		scheduleTime: fmt.Sprintf("%02d:%02d", hour, minute),
		hour:         hour,
		minute:       minute,
		poll:         cfg.PollInterval,
		loc:          cfg.Location,
		cal:          cal,
		shutdown:     NewShutdownFlag(),
		now:          time.Now,
		log:          util.Discard(),
	}
	if s.poll <= 0 {
		s.poll = DefaultPollInterval
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "scheduler")
	return s, nil
}

// ShutdownFlag returns the flag the loop watches.
func (s *Scheduler) ShutdownFlag() *ShutdownFlag { return s.shutdown }

func (s *Scheduler) clock() time.Time { return s.now().In(s.loc) }

// SetDailyTask registers task to run at the configured time on trading days.
// With runImmediately the same trading-day gate is applied once, right now,
// before returning.
func (s *Scheduler) SetDailyTask(task Task, runImmediately bool) error {
	if task == nil {
		return errors.New("scheduler: nil task")
	}

	now := s.clock()
	s.mu.Lock()
	if s.task != nil {
		s.mu.Unlock()
		return ErrTaskAlreadySet
	}
	s.task = task
	s.trigger = NewDailyTrigger(s.hour, s.minute, now)
	next := s.trigger.Next(now)
	s.mu.Unlock()

	s.log.Info("daily task registered, trading days only",
		"at", s.scheduleTime, "next_run", next.Format(time.DateTime))

	if runImmediately {
		s.log.Info("running task once at startup")
		s.fire(domain.RunTriggerImmediate, now)
	}
	return nil
}

// RunPending fires the trigger if its slot has passed and it has not fired
// today. The trigger is marked before the task runs, so a failed run is not
// retried the same day.
func (s *Scheduler) RunPending() {
	now := s.clock()

	s.mu.Lock()
	due := s.trigger != nil && s.trigger.Due(now)
	if due {
		s.trigger.MarkFired(now)
	}
	s.mu.Unlock()

	if due {
		s.fire(domain.RunTriggerSchedule, now)
	}
}

// fire applies the trading-day gate and runs the task inside the failure
// boundary.
func (s *Scheduler) fire(trigger domain.RunTrigger, now time.Time) RunResult {
	s.mu.Lock()
	task := s.task
	s.mu.Unlock()

	day := now.Format(domain.DateLayout)
	if !s.cal.IsTradingDay(now) {
		s.log.Info("not a trading day, skipping task", "date", day, "trigger", trigger)
		res := RunResult{
			Trigger:   trigger,
			TradeDate: day,
			Status:    domain.RunStatusSkipped,
			Started:   now,
			Finished:  now,
		}
		s.finish(res)
		return res
	}

	s.log.Info("trading day, task starting", "date", day, "trigger", trigger,
		"started", s.clock().Format(time.DateTime))

	res := safeRun(task, s.clock)
	res.Trigger = trigger
	res.TradeDate = day

	switch {
	case res.Panicked:
		s.log.Error("task panicked", "date", day, "error", res.Err, "stack", string(res.Stack))
	case res.Err != nil:
		s.log.Error("task failed", "date", day, "error", res.Err,
			"duration", res.Duration().Round(time.Millisecond))
	default:
		s.log.Info("task finished", "date", day,
			"finished", res.Finished.Format(time.DateTime),
			"duration", res.Duration().Round(time.Millisecond))
	}
	s.finish(res)
	return res
}

func (s *Scheduler) finish(res RunResult) {
	s.mu.Lock()
	s.last = &res
	s.mu.Unlock()

	s.metrics.ObserveRun(string(res.Status), res.Started, res.Duration())

	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.recorder.RecordRun(ctx, res.Record()); err != nil {
		s.log.Warn("recording run failed", "date", res.TradeDate, "error", err)
	}
}

// Run blocks, checking the trigger every poll interval, until Stop is called
// or the shutdown flag is set. Shutdown is only observed between cycles, so
// a running task always completes first. A stopped scheduler cannot run
// again.
func (s *Scheduler) Run() error {
	s.mu.Lock()
	switch s.state {
	case StateRunning:
		s.mu.Unlock()
		return ErrAlreadyRunning
	case StateStopped:
		s.mu.Unlock()
		return ErrStopped
	}
	s.state = StateRunning
	s.running = true
	s.mu.Unlock()

	s.log.Info("scheduler running", "at", s.scheduleTime,
		"poll", s.poll, "next_run", s.nextRunString())

	for s.isRunning() && !s.shutdown.Requested() {
		s.RunPending()
		s.sleep(s.poll)

		if now := s.clock(); now.Minute() == 0 && now.Second() < 30 {
			s.log.Info("scheduler alive", "next_run", s.nextRunString())
		}
	}

	s.mu.Lock()
	s.state = StateStopped
	s.running = false
	s.mu.Unlock()

	if s.shutdown.Requested() {
		s.metrics.MarkShutdown()
		s.log.Info("scheduler stopped", "reason", s.shutdown.Reason())
	} else {
		s.log.Info("scheduler stopped", "reason", "stop called")
	}
	return nil
}

// sleep waits for d, returning early once shutdown is requested.
func (s *Scheduler) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.shutdown.Done():
	}
}

func (s *Scheduler) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop asks the loop to exit after its current cycle. It never interrupts a
// running task. Stopping an idle scheduler makes it unrunnable.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.state == StateIdle {
		s.state = StateStopped
	}
}

// NextRun returns the next trigger time, or the zero time when no task is
// registered.
func (s *Scheduler) NextRun() time.Time {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trigger == nil {
		return time.Time{}
	}
	return s.trigger.Next(now)
}

func (s *Scheduler) nextRunString() string {
	next := s.NextRun()
	if next.IsZero() {
		return "not set"
	}
	return next.Format(time.DateTime)
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State             string            `json:"state"`
	ScheduleTime      string            `json:"schedule_time"`
	NextRun           time.Time         `json:"next_run"`
	ShutdownRequested bool              `json:"shutdown_requested"`
	LastRun           *domain.RunRecord `json:"last_run,omitempty"`
}

// Status snapshots the scheduler.
func (s *Scheduler) Status() Status {
	next := s.NextRun()

	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:             s.state.String(),
		ScheduleTime:      s.scheduleTime,
		NextRun:           next,
		ShutdownRequested: s.shutdown.Requested(),
	}
	if s.last != nil {
		rec := s.last.Record()
		st.LastRun = &rec
	}
	return st
}
