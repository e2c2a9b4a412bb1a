// Package task adapts an external command into the scheduler's daily task.
package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Command runs a fixed argv once per invocation and streams its output to
// the logger line by line.
type Command struct {
	argv    []string
	dir     string
	env     []string
	timeout time.Duration
	log     *slog.Logger
}

// NewCommand validates argv and returns a runnable command. env entries
// ("KEY=VALUE") are appended to the daemon's own environment. A zero timeout
// means no limit.
func NewCommand(argv []string, dir string, env []string, timeout time.Duration, log *slog.Logger) (*Command, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("task: empty command")
	}
	for _, kv := range env {
		if !strings.Contains(kv, "=") {
			return nil, fmt.Errorf("task: env entry %q: want KEY=VALUE", kv)
		}
	}
	return &Command{
		argv:    append([]string(nil), argv...),
		dir:     dir,
		env:     append([]string(nil), env...),
		timeout: timeout,
		log:     log.With("component", "task", "cmd", argv[0]),
	}, nil
}

// String returns the command line.
func (c *Command) String() string { return strings.Join(c.argv, " ") }

// Run executes the command and returns a non-nil error for a non-zero exit,
// a start failure or a timeout. Its signature matches scheduler.Task.
func (c *Command) Run() error {
	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Dir = c.dir
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	stdout := &lineLogger{log: c.log, stream: "stdout", level: slog.LevelInfo}
	stderr := &lineLogger{log: c.log, stream: "stderr", level: slog.LevelWarn}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Grandchildren holding the pipes must not block Wait past a kill.
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	stdout.Flush()
	stderr.Flush()

	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%s: timed out after %s", c.argv[0], c.timeout)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", c.argv[0], err)
	}
	c.log.Debug("command exited", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// lineLogger logs each complete line written to it.
type lineLogger struct {
	log    *slog.Logger
	stream string
	level  slog.Level

	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write(p)
	for {
		i := bytes.IndexByte(l.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(l.buf.Next(i+1)), "\r\n")
		l.emit(line)
	}
	return len(p), nil
}

// Flush logs any trailing partial line.
func (l *lineLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf.Len() > 0 {
		l.emit(strings.TrimRight(l.buf.String(), "\r\n"))
		l.buf.Reset()
	}
}

func (l *lineLogger) emit(line string) {
	if line == "" {
		return
	}
	l.log.Log(context.Background(), l.level, line, "stream", l.stream)
}
