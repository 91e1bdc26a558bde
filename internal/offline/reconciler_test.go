package offline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kimhsiao/interntrack/internal/api"
	"github.com/kimhsiao/interntrack/internal/clock"
	"github.com/kimhsiao/interntrack/internal/db"
	"github.com/kimhsiao/interntrack/internal/entity"
	apperrors "github.com/kimhsiao/interntrack/internal/errors"
	"github.com/kimhsiao/interntrack/internal/models"
	"github.com/kimhsiao/interntrack/internal/offline/backoff"
	"github.com/kimhsiao/interntrack/internal/offline/draft"
	"github.com/kimhsiao/interntrack/internal/offline/event"
	"github.com/kimhsiao/interntrack/internal/offline/queue"
	"github.com/kimhsiao/interntrack/internal/offline/validation"
	"github.com/kimhsiao/interntrack/internal/uuid"
)

// scriptedExecutor returns canned outcomes in call order, then the fallback.
type scriptedExecutor struct {
	script   []api.Outcome
	fallback api.Outcome
	calls    []*models.QueuedOperation
}

func (e *scriptedExecutor) Execute(ctx context.Context, op *models.QueuedOperation) api.Outcome {
	e.calls = append(e.calls, op)
	if len(e.script) > 0 {
		outcome := e.script[0]
		e.script = e.script[1:]
		return outcome
	}
	return e.fallback
}

func success(record string) api.Outcome {
	return api.Outcome{Kind: api.OutcomeSuccess, Status: 200, Record: json.RawMessage(record)}
}

type stores struct {
	queue      *queue.Queue
	state      *backoff.Controller
	validation *validation.Store
	drafts     *draft.Store
	bus        *event.Bus
	clock      *clock.Fake
}

func newTestStores(t *testing.T) *stores {
	t.Helper()

	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Failed to initialize migrator: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	repo := db.NewRepository(database.DB)
	t.Cleanup(func() { repo.Close() })

	bus := event.NewBus()
	clk := clock.NewFake(time.UnixMilli(1_000_000))
	return &stores{
		queue:      queue.New(repo, bus, clk),
		state:      backoff.NewController(repo, bus, clk),
		validation: validation.New(repo, bus, clk),
		drafts:     draft.New(repo, bus, clk, 0),
		bus:        bus,
		clock:      clk,
	}
}

func enqueue(t *testing.T, s *stores, entityType string, action entity.Action, tempID, recordID, payload string) *models.QueuedOperation {
	t.Helper()
	op, err := s.queue.Enqueue(entityType, action, tempID, recordID, json.RawMessage(payload))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return op
}

// TestRunPassDrainsQueue tests a fully successful pass.
func TestRunPassDrainsQueue(t *testing.T) {
	s := newTestStores(t)
	exec := &scriptedExecutor{fallback: success(`{}`)}
	rec := NewReconciler(s.queue, s.state, s.validation, exec)

	enqueue(t, s, "tasks", entity.ActionCreate, uuid.NewTemp(), "", `{"title":"a"}`)
	enqueue(t, s, "tasks", entity.ActionCreate, uuid.NewTemp(), "", `{"title":"b"}`)

	result, err := rec.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if result.Succeeded != 2 || result.Halt != HaltNone {
		t.Errorf("Expected 2 successes and no halt, got %+v", result)
	}
	if s.queue.Count() != 0 {
		t.Errorf("Expected empty queue, got %d", s.queue.Count())
	}

	state := s.state.State()
	if state.FailureCount != 0 || state.NextAttempt != 0 || state.IsSyncing {
		t.Errorf("Expected reset state, got %+v", state)
	}
}

// TestRunPassFIFO tests that delivery follows insertion order.
func TestRunPassFIFO(t *testing.T) {
	s := newTestStores(t)
	exec := &scriptedExecutor{fallback: success(`{}`)}
	rec := NewReconciler(s.queue, s.state, s.validation, exec)

	titles := []string{"one", "two", "three"}
	for _, title := range titles {
		payload, _ := json.Marshal(map[string]string{"title": title})
		enqueue(t, s, "tasks", entity.ActionCreate, uuid.NewTemp(), "", string(payload))
	}

	if _, err := rec.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if len(exec.calls) != 3 {
		t.Fatalf("Expected 3 calls, got %d", len(exec.calls))
	}
	for i, op := range exec.calls {
		var payload map[string]string
		json.Unmarshal(op.Payload, &payload)
		if payload["title"] != titles[i] {
			t.Errorf("Call %d: expected %s, got %s", i, titles[i], payload["title"])
		}
	}
}

// TestRunPassValidationRejection tests that a rejected operation moves to
// the validation store and the pass continues without backoff.
func TestRunPassValidationRejection(t *testing.T) {
	s := newTestStores(t)
	exec := &scriptedExecutor{
		script: []api.Outcome{
			{Kind: api.OutcomeValidation, Status: 400, Message: "Validation failed",
				Fields: map[string]string{"title": "too long"}},
		},
		fallback: success(`{}`),
	}
	rec := NewReconciler(s.queue, s.state, s.validation, exec)

	rejected := enqueue(t, s, "tasks", entity.ActionCreate, "tmp_bad", "", `{"title":"bad"}`)
	enqueue(t, s, "tasks", entity.ActionCreate, uuid.NewTemp(), "", `{"title":"good"}`)

	result, err := rec.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if result.Rejected != 1 || result.Succeeded != 1 || result.Halt != HaltNone {
		t.Errorf("Expected pass to continue past rejection, got %+v", result)
	}
	if s.queue.Count() != 0 {
		t.Errorf("Expected rejected operation out of the queue, got %d", s.queue.Count())
	}

	errs, _ := s.validation.List()
	if len(errs) != 1 || errs[0].TempID != rejected.TempID {
		t.Fatalf("Expected validation entry for rejected operation, got %+v", errs)
	}

	// Validation rejections never count as failures
	if s.state.State().FailureCount != 0 {
		t.Errorf("Expected failure count unchanged, got %d", s.state.State().FailureCount)
	}
}

// TestRunPassNetworkHalt tests that the first network failure stops the
// pass and leaves the rest of the queue intact.
func TestRunPassNetworkHalt(t *testing.T) {
	s := newTestStores(t)
	exec := &scriptedExecutor{
		script: []api.Outcome{
			success(`{}`),
			{Kind: api.OutcomeNetwork, Status: 503},
		},
	}
	rec := NewReconciler(s.queue, s.state, s.validation, exec)

	enqueue(t, s, "tasks", entity.ActionCreate, uuid.NewTemp(), "", `{"title":"a"}`)
	failing := enqueue(t, s, "tasks", entity.ActionCreate, uuid.NewTemp(), "", `{"title":"b"}`)
	enqueue(t, s, "tasks", entity.ActionCreate, uuid.NewTemp(), "", `{"title":"c"}`)

	result, err := rec.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if result.Halt != HaltNetwork || result.Succeeded != 1 {
		t.Errorf("Expected network halt after 1 success, got %+v", result)
	}
	if len(exec.calls) != 2 {
		t.Errorf("Expected no calls after the halt, got %d", len(exec.calls))
	}

	ops, _ := s.queue.List()
	if len(ops) != 2 {
		t.Fatalf("Expected 2 operations left, got %d", len(ops))
	}
	if ops[0].ID != failing.ID || ops[0].Attempts != 1 {
		t.Errorf("Expected failing operation first with 1 attempt, got %+v", ops[0])
	}

	state := s.state.State()
	if state.FailureCount != 1 || state.NextAttempt == 0 {
		t.Errorf("Expected backoff scheduled, got %+v", state)
	}
}

// TestRunPassAuthHalt tests that an expired session stops the pass without
// consuming the queue or the backoff schedule.
func TestRunPassAuthHalt(t *testing.T) {
	s := newTestStores(t)
	exec := &scriptedExecutor{
		script: []api.Outcome{{Kind: api.OutcomeAuth, Status: 401}},
	}
	rec := NewReconciler(s.queue, s.state, s.validation, exec)

	enqueue(t, s, "tasks", entity.ActionCreate, uuid.NewTemp(), "", `{"title":"a"}`)

	result, err := rec.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if result.Halt != HaltAuth {
		t.Errorf("Expected auth halt, got %+v", result)
	}
	if s.queue.Count() != 1 {
		t.Errorf("Expected queue untouched, got %d", s.queue.Count())
	}

	state := s.state.State()
	if state.FailureCount != 0 || state.NextAttempt != 0 || state.IsSyncing {
		t.Errorf("Expected backoff untouched and flag released, got %+v", state)
	}
}

// TestRunPassBackoffGate tests that an early pass is refused.
func TestRunPassBackoffGate(t *testing.T) {
	s := newTestStores(t)
	exec := &scriptedExecutor{fallback: api.Outcome{Kind: api.OutcomeNetwork}}
	rec := NewReconciler(s.queue, s.state, s.validation, exec)

	enqueue(t, s, "tasks", entity.ActionCreate, uuid.NewTemp(), "", `{"title":"a"}`)
	if _, err := rec.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if _, err := rec.RunPass(context.Background()); !apperrors.Is(err, apperrors.ErrSyncBackoff) {
		t.Errorf("Expected SYNC_BACKOFF, got %v", err)
	}

	s.clock.Advance(3 * time.Second)
	exec.fallback = success(`{}`)
	if _, err := rec.RunPass(context.Background()); err != nil {
		t.Errorf("Expected pass after window elapsed, got %v", err)
	}
}

// reentrantExecutor calls back into the reconciler from inside a pass.
type reentrantExecutor struct {
	rec *Reconciler
	t   *testing.T
}

func (e *reentrantExecutor) Execute(ctx context.Context, op *models.QueuedOperation) api.Outcome {
	if _, err := e.rec.RunPass(ctx); !apperrors.Is(err, apperrors.ErrSyncInFlight) {
		e.t.Errorf("Expected SYNC_IN_FLIGHT from re-entrant pass, got %v", err)
	}
	return success(`{}`)
}

// TestRunPassNoReentry tests that a pass cannot start inside a pass.
func TestRunPassNoReentry(t *testing.T) {
	s := newTestStores(t)
	exec := &reentrantExecutor{t: t}
	rec := NewReconciler(s.queue, s.state, s.validation, exec)
	exec.rec = rec

	enqueue(t, s, "tasks", entity.ActionCreate, uuid.NewTemp(), "", `{"title":"a"}`)
	if _, err := rec.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
}

// TestRunPassResolvesTempIDs tests server id substitution into dependent
// queued operations.
func TestRunPassResolvesTempIDs(t *testing.T) {
	s := newTestStores(t)
	exec := &scriptedExecutor{
		script: []api.Outcome{
			success(`{"id":"88","title":"a"}`),
			{Kind: api.OutcomeNetwork},
		},
	}
	rec := NewReconciler(s.queue, s.state, s.validation, exec)

	tempID := uuid.NewTemp()
	enqueue(t, s, "tasks", entity.ActionCreate, tempID, "", `{"title":"a"}`)
	enqueue(t, s, "tasks", entity.ActionUpdate, "", tempID, `{"status":"completed"}`)

	if _, err := rec.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	// The update halted on network but must now carry the real id
	ops, _ := s.queue.List()
	if len(ops) != 1 {
		t.Fatalf("Expected 1 remaining operation, got %d", len(ops))
	}
	if ops[0].RecordID != "88" {
		t.Errorf("Expected update rewritten to real id, got %q", ops[0].RecordID)
	}
	if len(exec.calls) != 2 || exec.calls[1].RecordID != "88" {
		t.Errorf("Expected the update call to use the real id, got %+v", exec.calls)
	}
}

// TestRunPassClearsValidationOnResubmit tests that a corrected resubmission
// removes the stale validation entry.
func TestRunPassClearsValidationOnResubmit(t *testing.T) {
	s := newTestStores(t)
	exec := &scriptedExecutor{
		script:   []api.Outcome{{Kind: api.OutcomeValidation, Status: 400, Message: "bad"}},
		fallback: success(`{"id":"5"}`),
	}
	rec := NewReconciler(s.queue, s.state, s.validation, exec)

	tempID := uuid.NewTemp()
	enqueue(t, s, "contracts", entity.ActionCreate, tempID, "",
		`{"title":"x","student_email":"s@x.nl","mentor_email":"m@x.nl"}`)
	if _, err := rec.RunPass(context.Background()); err != nil {
		t.Fatalf("First pass failed: %v", err)
	}

	errs, _ := s.validation.List()
	if len(errs) != 1 {
		t.Fatalf("Expected 1 validation entry, got %d", len(errs))
	}

	// User corrects the data and resubmits under the same temp id
	enqueue(t, s, "contracts", entity.ActionCreate, tempID, "",
		`{"title":"fixed","student_email":"s@x.nl","mentor_email":"m@x.nl"}`)
	if _, err := rec.RunPass(context.Background()); err != nil {
		t.Fatalf("Second pass failed: %v", err)
	}

	errs, _ = s.validation.List()
	if len(errs) != 0 {
		t.Errorf("Expected validation entry cleared after success, got %+v", errs)
	}
}

// TestRunPassEmptyQueue tests that an empty pass still resets cleanly.
func TestRunPassEmptyQueue(t *testing.T) {
	s := newTestStores(t)
	rec := NewReconciler(s.queue, s.state, s.validation, &scriptedExecutor{fallback: success(`{}`)})

	result, err := rec.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if result.Attempted != 0 || result.Halt != HaltNone {
		t.Errorf("Expected empty pass, got %+v", result)
	}
	if s.state.State().IsSyncing {
		t.Error("Expected syncing flag released")
	}
}
