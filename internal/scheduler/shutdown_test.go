package scheduler

import (
	"sync"
	"testing"
)

func TestShutdownFlagIdempotent(t *testing.T) {
	f := NewShutdownFlag()
	if f.Requested() {
		t.Fatal("new flag should be unset")
	}

	var wg sync.WaitGroup
	var firsts int32
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.Request("interrupt") {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firsts != 1 {
		t.Errorf("Request returned true %d times, want 1", firsts)
	}
	if !f.Requested() || f.Reason() != "interrupt" {
		t.Errorf("Requested() = %v, Reason() = %q", f.Requested(), f.Reason())
	}
	select {
	case <-f.Done():
	default:
		t.Error("Done() should be closed")
	}
}
