package util

import (
	"context"
	"time"
)

// RetryPolicy bounds how often and how patiently Retry calls its function.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration // zero means no cap
}

// Retry calls fn until it succeeds or the policy's attempts are exhausted,
// doubling the delay after each failure. fn receives the 1-based attempt
// number. The last error is returned, or ctx.Err() if the context ends while
// waiting between attempts.
func Retry(ctx context.Context, p RetryPolicy, fn func(attempt int) error) error {
	attempts := max(p.Attempts, 1)
	delay := p.BaseDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}
