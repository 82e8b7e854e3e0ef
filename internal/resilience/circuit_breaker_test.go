package resilience

import (
	"testing"
	"time"
)

func TestSlidingWindowStatsExcludesStaleBuckets(t *testing.T) {
	w := newSlidingWindow(40*time.Millisecond, 4)

	for i := 0; i < 10; i++ {
		w.add(false)
	}
	if total, failures := w.stats(); total != 10 || failures != 10 {
		t.Fatalf("stats() = (%d, %d), want (10, 10) right after recording", total, failures)
	}

	time.Sleep(4 * w.interval)

	total, failures := w.stats()
	if total != 0 || failures != 0 {
		t.Fatalf("stats() = (%d, %d), want (0, 0) once every bucket has aged out of the window", total, failures)
	}

	w.add(true)
	total, failures = w.stats()
	if total != 1 || failures != 0 {
		t.Fatalf("stats() = (%d, %d), want (1, 0) after a fresh success following the stale window", total, failures)
	}
}

func TestCircuitBreakerDoesNotReopenOnStaleFailures(t *testing.T) {
	c := NewCircuitBreaker(40*time.Millisecond, 4, 3, 0.5, time.Hour, 1)

	for i := 0; i < 5; i++ {
		c.RecordResult(false)
	}
	if c.Allow() {
		t.Fatal("breaker should have tripped open after 5 failures past minSamples")
	}
	c.state = stateClosed
	c.window.reset()

	time.Sleep(4 * c.window.interval)

	c.RecordResult(false)
	if c.state != stateClosed {
		t.Fatalf("state = %v, want closed: a single fresh failure must not inherit stale sample counts", c.state)
	}
}
