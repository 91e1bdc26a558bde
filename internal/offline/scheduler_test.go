package offline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kimhsiao/interntrack/internal/api"
	"github.com/kimhsiao/interntrack/internal/entity"
	"github.com/kimhsiao/interntrack/internal/uuid"
)

func newTestScheduler(t *testing.T, exec Executor, interval time.Duration) (*Scheduler, *stores) {
	t.Helper()
	s := newTestStores(t)
	rec := NewReconciler(s.queue, s.state, s.validation, exec)
	sched := NewScheduler(rec, s.state, s.queue, SchedulerConfig{Interval: interval}, s.clock)
	t.Cleanup(sched.Stop)
	return sched, s
}

// TestSchedulerRunsDuePass tests the heartbeat picks up pending work.
func TestSchedulerRunsDuePass(t *testing.T) {
	exec := &scriptedExecutor{fallback: success(`{}`)}
	sched, s := newTestScheduler(t, exec, 15*time.Second)
	sched.Start()

	s.queue.Enqueue("tasks", entity.ActionCreate, uuid.NewTemp(), "", json.RawMessage(`{"title":"t"}`))

	s.clock.Advance(15 * time.Second)

	if len(exec.calls) != 1 {
		t.Errorf("Expected 1 delivery on the first tick, got %d", len(exec.calls))
	}
	if s.queue.Count() != 0 {
		t.Errorf("Expected drained queue, got %d", s.queue.Count())
	}
}

// TestSchedulerIdleQueue tests that an empty queue triggers no passes.
func TestSchedulerIdleQueue(t *testing.T) {
	exec := &scriptedExecutor{fallback: success(`{}`)}
	sched, s := newTestScheduler(t, exec, 15*time.Second)
	sched.Start()

	s.clock.Advance(60 * time.Second)

	if len(exec.calls) != 0 {
		t.Errorf("Expected no calls for an empty queue, got %d", len(exec.calls))
	}
}

// TestSchedulerRespectsBackoff tests that ticks inside the retry window do
// not hit the server.
func TestSchedulerRespectsBackoff(t *testing.T) {
	exec := &scriptedExecutor{fallback: api.Outcome{Kind: api.OutcomeNetwork}}
	sched, s := newTestScheduler(t, exec, time.Second)
	sched.Start()

	s.queue.Enqueue("tasks", entity.ActionCreate, uuid.NewTemp(), "", json.RawMessage(`{"title":"t"}`))

	// First tick fails and schedules a 3s retry window
	s.clock.Advance(time.Second)
	if len(exec.calls) != 1 {
		t.Fatalf("Expected 1 call, got %d", len(exec.calls))
	}

	// Ticks at 2s and 3s fall inside the window
	s.clock.Advance(time.Second)
	s.clock.Advance(time.Second)
	if len(exec.calls) != 1 {
		t.Errorf("Expected no calls inside the backoff window, got %d", len(exec.calls))
	}

	// Window elapses at 4s
	s.clock.Advance(time.Second)
	if len(exec.calls) != 2 {
		t.Errorf("Expected retry after the window, got %d calls", len(exec.calls))
	}
}

// TestTriggerNowOverridesBackoff tests the manual retry endpoint semantics.
func TestTriggerNowOverridesBackoff(t *testing.T) {
	exec := &scriptedExecutor{fallback: api.Outcome{Kind: api.OutcomeNetwork}}
	sched, s := newTestScheduler(t, exec, time.Hour)

	s.queue.Enqueue("tasks", entity.ActionCreate, uuid.NewTemp(), "", json.RawMessage(`{"title":"t"}`))

	if _, err := sched.TriggerNow(context.Background()); err != nil {
		t.Fatalf("TriggerNow failed: %v", err)
	}
	if s.state.State().NextAttempt == 0 {
		t.Fatal("Expected backoff window after failure")
	}

	exec.fallback = success(`{}`)
	result, err := sched.TriggerNow(context.Background())
	if err != nil {
		t.Fatalf("TriggerNow inside window failed: %v", err)
	}
	if result.Succeeded != 1 {
		t.Errorf("Expected forced pass to deliver, got %+v", result)
	}
}

// TestSchedulerStop tests that no passes run after Stop.
func TestSchedulerStop(t *testing.T) {
	exec := &scriptedExecutor{fallback: success(`{}`)}
	sched, s := newTestScheduler(t, exec, time.Second)
	sched.Start()
	sched.Stop()

	s.queue.Enqueue("tasks", entity.ActionCreate, uuid.NewTemp(), "", json.RawMessage(`{"title":"t"}`))
	s.clock.Advance(time.Minute)

	if len(exec.calls) != 0 {
		t.Errorf("Expected no calls after Stop, got %d", len(exec.calls))
	}
}
