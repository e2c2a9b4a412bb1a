package scheduler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"closingbell/internal/domain"
	"closingbell/internal/metrics"
	"closingbell/internal/util"
)

// fakeClock is a settable, goroutine-safe clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// fakeCalendar treats weekdays as trading days unless closed says otherwise.
type fakeCalendar struct {
	mu     sync.Mutex
	closed map[string]bool
	calls  int
}

func (c *fakeCalendar) IsTradingDay(t time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.closed[t.Format(domain.DateLayout)]
}

type memRecorder struct {
	mu   sync.Mutex
	recs []domain.RunRecord
}

func (r *memRecorder) RecordRun(_ context.Context, rec domain.RunRecord) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return int64(len(r.recs)), nil
}

// Monday 2025-03-03.
func at(day, hour, minute int) time.Time {
	return time.Date(2025, 3, day, hour, minute, 0, 0, time.UTC)
}

func newTestScheduler(t *testing.T, clock *fakeClock, cal TradingDayChecker, opts ...Option) *Scheduler {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	s, err := New(Config{ScheduleTime: "15:05", PollInterval: time.Millisecond, Location: time.UTC}, cal, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func countingTask(n *atomic.Int32) Task {
	return func() error {
		n.Add(1)
		return nil
	}
}

func TestNewValidation(t *testing.T) {
	cal := &fakeCalendar{}
	for _, bad := range []string{"", "25:00", "15:5", "15:60", "abc", "1505"} {
		if _, err := New(Config{ScheduleTime: bad}, cal); !errors.Is(err, ErrInvalidScheduleTime) {
			t.Errorf("New(%q) err = %v, want ErrInvalidScheduleTime", bad, err)
		}
	}
	if _, err := New(Config{ScheduleTime: "15:05"}, nil); err == nil {
		t.Error("New with nil calendar should fail")
	}

	s, err := New(Config{ScheduleTime: "9:30"}, cal)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.poll != DefaultPollInterval {
		t.Errorf("poll = %v, want %v", s.poll, DefaultPollInterval)
	}
	if st := s.Status(); st.ScheduleTime != "09:30" || st.State != "idle" {
		t.Errorf("Status() = %+v", st)
	}
}

func TestRunImmediatelyOnTradingDay(t *testing.T) {
	clock := newFakeClock(at(3, 10, 0))
	s := newTestScheduler(t, clock, &fakeCalendar{})

	var n atomic.Int32
	if err := s.SetDailyTask(countingTask(&n), true); err != nil {
		t.Fatalf("SetDailyTask: %v", err)
	}
	if got := n.Load(); got != 1 {
		t.Errorf("task ran %d times at registration, want 1", got)
	}
}

func TestRunImmediatelyOnNonTradingDay(t *testing.T) {
	clock := newFakeClock(at(3, 10, 0))
	cal := &fakeCalendar{closed: map[string]bool{"2025-03-03": true}}
	s := newTestScheduler(t, clock, cal)

	var n atomic.Int32
	if err := s.SetDailyTask(countingTask(&n), true); err != nil {
		t.Fatalf("SetDailyTask: %v", err)
	}
	if got := n.Load(); got != 0 {
		t.Errorf("task ran %d times on a holiday, want 0", got)
	}
	if st := s.Status(); st.LastRun == nil || st.LastRun.Status != domain.RunStatusSkipped {
		t.Errorf("last run = %+v, want skipped", st.LastRun)
	}
}

func TestNoImmediateRun(t *testing.T) {
	clock := newFakeClock(at(3, 10, 0))
	s := newTestScheduler(t, clock, &fakeCalendar{})

	var n atomic.Int32
	_ = s.SetDailyTask(countingTask(&n), false)
	if got := n.Load(); got != 0 {
		t.Errorf("task ran %d times, want 0", got)
	}
}

func TestSetDailyTaskOnlyOnce(t *testing.T) {
	s := newTestScheduler(t, newFakeClock(at(3, 10, 0)), &fakeCalendar{})
	var n atomic.Int32
	if err := s.SetDailyTask(countingTask(&n), false); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDailyTask(countingTask(&n), false); !errors.Is(err, ErrTaskAlreadySet) {
		t.Errorf("second SetDailyTask err = %v, want ErrTaskAlreadySet", err)
	}
	if err := newTestScheduler(t, newFakeClock(at(3, 10, 0)), &fakeCalendar{}).SetDailyTask(nil, false); err == nil {
		t.Error("nil task should be rejected")
	}
}

func TestRunPendingFiresOncePerDay(t *testing.T) {
	clock := newFakeClock(at(3, 10, 0))
	s := newTestScheduler(t, clock, &fakeCalendar{})
	var n atomic.Int32
	_ = s.SetDailyTask(countingTask(&n), false)

	steps := []struct {
		now  time.Time
		want int32
	}{
		{at(3, 15, 4), 0},
		{at(3, 15, 5), 1},
		{at(3, 15, 30), 1},
		{at(3, 23, 59), 1},
		{at(4, 9, 0), 1},
		{at(4, 15, 6), 2},
	}
	for _, st := range steps {
		clock.Set(st.now)
		s.RunPending()
		if got := n.Load(); got != st.want {
			t.Fatalf("at %s task count = %d, want %d", st.now.Format(time.DateTime), got, st.want)
		}
	}
}

func TestRegistrationAfterSlotWaitsForTomorrow(t *testing.T) {
	clock := newFakeClock(at(3, 16, 0))
	s := newTestScheduler(t, clock, &fakeCalendar{})
	var n atomic.Int32
	_ = s.SetDailyTask(countingTask(&n), false)

	clock.Set(at(3, 16, 1))
	s.RunPending()
	if got := n.Load(); got != 0 {
		t.Errorf("task ran %d times after a late start, want 0", got)
	}
	if next := s.NextRun(); !next.Equal(at(4, 15, 5)) {
		t.Errorf("NextRun() = %s, want %s", next, at(4, 15, 5))
	}
}

func TestScheduledRunSkippedOnHoliday(t *testing.T) {
	clock := newFakeClock(at(3, 10, 0))
	cal := &fakeCalendar{closed: map[string]bool{"2025-03-04": true}}
	s := newTestScheduler(t, clock, cal)
	var n atomic.Int32
	_ = s.SetDailyTask(countingTask(&n), false)

	clock.Set(at(4, 15, 5))
	s.RunPending()
	if got := n.Load(); got != 0 {
		t.Errorf("task ran on a holiday")
	}

	clock.Set(at(5, 15, 5))
	s.RunPending()
	if got := n.Load(); got != 1 {
		t.Errorf("task count = %d after next trading day, want 1", got)
	}
}

func TestTaskFailureIsIsolated(t *testing.T) {
	clock := newFakeClock(at(3, 10, 0))
	rec := &memRecorder{}
	m := metrics.New(nil)
	s := newTestScheduler(t, clock, &fakeCalendar{}, WithRecorder(rec), WithMetrics(m))

	var calls atomic.Int32
	_ = s.SetDailyTask(func() error {
		if calls.Add(1) == 1 {
			return errors.New("upstream down")
		}
		return nil
	}, false)

	clock.Set(at(3, 15, 5))
	s.RunPending()
	clock.Set(at(3, 15, 6))
	s.RunPending() // no same-day retry

	if got := calls.Load(); got != 1 {
		t.Fatalf("task called %d times on the failing day, want 1", got)
	}
	st := s.Status()
	if st.LastRun == nil || st.LastRun.Status != domain.RunStatusFailed || st.LastRun.Error != "upstream down" {
		t.Errorf("last run = %+v, want failed with error", st.LastRun)
	}

	clock.Set(at(4, 15, 5))
	s.RunPending()
	if got := calls.Load(); got != 2 {
		t.Errorf("task called %d times, want 2 (next day still scheduled)", got)
	}

	if len(rec.recs) != 2 {
		t.Fatalf("recorded %d runs, want 2", len(rec.recs))
	}
	if rec.recs[0].Status != domain.RunStatusFailed || rec.recs[1].Status != domain.RunStatusSuccess {
		t.Errorf("recorded statuses = %s, %s", rec.recs[0].Status, rec.recs[1].Status)
	}
	if rec.recs[0].Trigger != domain.RunTriggerSchedule || rec.recs[0].TradeDate != "2025-03-03" {
		t.Errorf("first record = %+v", rec.recs[0])
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("runs_total{failed} = %v, want 1", got)
	}
}

func TestTaskFailureLogged(t *testing.T) {
	var buf bytes.Buffer
	clock := newFakeClock(at(3, 10, 0))
	s := newTestScheduler(t, clock, &fakeCalendar{}, WithLogger(util.NewLogger("info", "text", &buf)))
	_ = s.SetDailyTask(func() error { return errors.New("upstream down") }, false)
	clock.Set(at(3, 15, 5))
	s.RunPending()

	out := buf.String()
	if !strings.Contains(out, `error="upstream down"`) {
		t.Errorf("failure should be logged under the error key:\n%s", out)
	}
	if strings.Contains(out, " err=") {
		t.Errorf("unexpected err key:\n%s", out)
	}
}

func TestTaskPanicIsIsolated(t *testing.T) {
	clock := newFakeClock(at(3, 15, 5))
	s := newTestScheduler(t, clock, &fakeCalendar{})

	_ = s.SetDailyTask(func() error { panic("nil map") }, false)
	res := s.fire(domain.RunTriggerImmediate, clock.Now())

	if !res.Panicked || res.Err == nil || res.Status != domain.RunStatusFailed {
		t.Errorf("result = %+v, want panicked failure", res)
	}
	if len(res.Stack) == 0 {
		t.Error("panic result should carry a stack trace")
	}
}

func TestRunSurvivesFailingTask(t *testing.T) {
	clock := newFakeClock(at(3, 10, 0))
	s := newTestScheduler(t, clock, &fakeCalendar{})

	ran := make(chan struct{}, 4)
	_ = s.SetDailyTask(func() error {
		ran <- struct{}{}
		return errors.New("boom")
	}, false)

	done := make(chan error, 1)
	go func() { done <- s.Run() }()

	clock.Set(at(3, 15, 5))
	waitFor(t, ran, "first run")
	clock.Set(at(4, 15, 5))
	waitFor(t, ran, "second run")

	s.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestRunReturnsPromptlyOnShutdown(t *testing.T) {
	clock := newFakeClock(at(3, 10, 0))
	s, err := New(Config{ScheduleTime: "15:05", PollInterval: time.Hour, Location: time.UTC},
		&fakeCalendar{}, WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	var n atomic.Int32
	_ = s.SetDailyTask(countingTask(&n), false)

	done := make(chan error, 1)
	go func() { done <- s.Run() }()

	time.Sleep(20 * time.Millisecond)
	// Slot passes while the loop is asleep; shutdown must win.
	clock.Set(at(3, 15, 10))
	s.ShutdownFlag().Request("test")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after shutdown")
	}
	if got := n.Load(); got != 0 {
		t.Errorf("task ran %d times after shutdown, want 0", got)
	}
	if st := s.Status(); st.State != "stopped" || !st.ShutdownRequested {
		t.Errorf("Status() = %+v", st)
	}
}

func TestShutdownWaitsForRunningTask(t *testing.T) {
	clock := newFakeClock(at(3, 15, 5))
	s := newTestScheduler(t, clock, &fakeCalendar{})

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	_ = s.SetDailyTask(func() error {
		close(started)
		<-release
		finished.Store(true)
		return nil
	}, false)

	// Registration at 15:05 means today's slot already passed; fire tomorrow.
	clock.Set(at(4, 15, 5))

	done := make(chan error, 1)
	go func() { done <- s.Run() }()

	waitFor(t, started, "task start")
	s.ShutdownFlag().Request("test")

	select {
	case <-done:
		t.Fatal("Run returned while the task was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the task finished")
	}
	if !finished.Load() {
		t.Error("task did not complete")
	}
}

func TestStoppedSchedulerCannotRestart(t *testing.T) {
	s := newTestScheduler(t, newFakeClock(at(3, 10, 0)), &fakeCalendar{})
	s.Stop()
	if err := s.Run(); !errors.Is(err, ErrStopped) {
		t.Errorf("Run after Stop err = %v, want ErrStopped", err)
	}

	s2 := newTestScheduler(t, newFakeClock(at(3, 10, 0)), &fakeCalendar{})
	done := make(chan error, 1)
	go func() { done <- s2.Run() }()
	time.Sleep(10 * time.Millisecond)
	if err := s2.Run(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("concurrent Run err = %v, want ErrAlreadyRunning", err)
	}
	s2.Stop()
	<-done
	if err := s2.Run(); !errors.Is(err, ErrStopped) {
		t.Errorf("Run after completion err = %v, want ErrStopped", err)
	}
}

func TestHeartbeatLogsNextRun(t *testing.T) {
	var buf bytes.Buffer
	clock := newFakeClock(time.Date(2025, 3, 3, 14, 0, 10, 0, time.UTC))
	s := newTestScheduler(t, clock, &fakeCalendar{}, WithLogger(util.NewLogger("info", "text", &buf)))
	var n atomic.Int32
	_ = s.SetDailyTask(countingTask(&n), false)

	done := make(chan error, 1)
	go func() { done <- s.Run() }()
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	<-done

	out := buf.String()
	if !strings.Contains(out, "scheduler alive") {
		t.Errorf("heartbeat not logged:\n%s", out)
	}
	if !strings.Contains(out, "2025-03-03 15:05:00") {
		t.Errorf("heartbeat should name the next run:\n%s", out)
	}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
