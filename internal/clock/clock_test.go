package clock

import (
	"testing"
	"time"
)

// TestFakeAdvance tests that tasks fire only when due.
func TestFakeAdvance(t *testing.T) {
	f := NewFake(time.Unix(1000, 0))

	fired := 0
	f.AfterFunc(5*time.Second, func() { fired++ })

	f.Advance(3 * time.Second)
	if fired != 0 {
		t.Error("Task fired before its deadline")
	}

	f.Advance(2 * time.Second)
	if fired != 1 {
		t.Errorf("Expected task to fire once, fired %d times", fired)
	}

	if f.Pending() != 0 {
		t.Errorf("Expected no pending tasks, got %d", f.Pending())
	}
}

// TestFakeStop tests cancelling a scheduled task.
func TestFakeStop(t *testing.T) {
	f := NewFake(time.Unix(1000, 0))

	fired := false
	timer := f.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Error("Expected Stop to report cancellation")
	}

	f.Advance(2 * time.Second)
	if fired {
		t.Error("Cancelled task should not fire")
	}

	// Stopping twice is a no-op
	if timer.Stop() {
		t.Error("Expected second Stop to report false")
	}
}

// TestFakeNow tests time progression.
func TestFakeNow(t *testing.T) {
	start := time.Unix(1000, 0)
	f := NewFake(start)

	f.Advance(90 * time.Second)

	if got := f.Now().Sub(start); got != 90*time.Second {
		t.Errorf("Expected 90s elapsed, got %v", got)
	}
}

// TestFakeOrdering tests that multiple due tasks fire in scheduling order.
func TestFakeOrdering(t *testing.T) {
	f := NewFake(time.Unix(1000, 0))

	var order []int
	f.AfterFunc(time.Second, func() { order = append(order, 1) })
	f.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	f.Advance(5 * time.Second)

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("Expected fire order [1 2], got %v", order)
	}
}

// TestRealClock exercises the real implementation.
func TestRealClock(t *testing.T) {
	c := New()

	done := make(chan struct{})
	timer := c.AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Real timer did not fire")
	}

	if timer.Stop() {
		t.Error("Expected Stop after firing to report false")
	}
}
