package scheduler

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ShutdownFlag is set once when the process is asked to terminate. The run
// loop reads it between poll cycles; it never interrupts a running task.
type ShutdownFlag struct {
	mu        sync.Mutex
	requested bool
	reason    string
	done      chan struct{}
}

// NewShutdownFlag returns an unset flag.
func NewShutdownFlag() *ShutdownFlag {
	return &ShutdownFlag{done: make(chan struct{})}
}

// Request sets the flag. Only the first call has an effect; it returns true.
func (f *ShutdownFlag) Request(reason string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requested {
		return false
	}
	f.requested = true
	f.reason = reason
	close(f.done)
	return true
}

// Requested reports whether shutdown has been requested.
func (f *ShutdownFlag) Requested() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requested
}

// Reason returns what the flag was set with.
func (f *ShutdownFlag) Reason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}

// Done is closed when the flag is set.
func (f *ShutdownFlag) Done() <-chan struct{} { return f.done }

// WatchSignals sets flag on SIGINT or SIGTERM instead of letting the signal
// terminate the process. The returned func stops watching.
func WatchSignals(flag *ShutdownFlag, log *slog.Logger) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	quit := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-ch:
				if flag.Request(sig.String()) {
					log.Info("received shutdown signal, waiting for the current task to finish", "signal", sig.String())
				}
			case <-quit:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(quit)
		})
	}
}
