package draft

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kimhsiao/interntrack/internal/clock"
	"github.com/kimhsiao/interntrack/internal/db"
	"github.com/kimhsiao/interntrack/internal/offline/event"
)

func newTestStore(t *testing.T) (*Store, *clock.Fake, *event.Bus) {
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
	clk := clock.NewFake(time.UnixMilli(100_000))
	return New(repo, bus, clk, 750*time.Millisecond), clk, bus
}

// TestAutoSaveDebounce tests that a burst collapses into one persisted write.
func TestAutoSaveDebounce(t *testing.T) {
	store, clk, bus := newTestStore(t)

	var saves int
	bus.Subscribe(func(e event.Event) {
		if e.Name == event.DraftSaved {
			saves++
		}
	})

	store.AutoSave("tasks", "", json.RawMessage(`{"title":"d"}`))
	clk.Advance(300 * time.Millisecond)
	store.AutoSave("tasks", "", json.RawMessage(`{"title":"dr"}`))
	clk.Advance(300 * time.Millisecond)
	store.AutoSave("tasks", "", json.RawMessage(`{"title":"draft"}`))

	// Window not elapsed yet: nothing persisted
	if saves != 0 {
		t.Fatalf("Expected no saves mid-burst, got %d", saves)
	}

	clk.Advance(750 * time.Millisecond)

	if saves != 1 {
		t.Errorf("Expected exactly 1 save after quiet period, got %d", saves)
	}

	d, err := store.Load("tasks", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if d == nil || string(d.Payload) != `{"title":"draft"}` {
		t.Errorf("Expected final burst payload, got %+v", d)
	}
}

// TestAutoSaveIndependentKeys tests that keys debounce independently.
func TestAutoSaveIndependentKeys(t *testing.T) {
	store, clk, _ := newTestStore(t)

	store.AutoSave("tasks", "7", json.RawMessage(`{"title":"a"}`))
	store.AutoSave("vacancies", "", json.RawMessage(`{"title":"b"}`))
	clk.Advance(750 * time.Millisecond)

	taskDraft, _ := store.Load("tasks", "7")
	vacancyDraft, _ := store.Load("vacancies", "")
	if taskDraft == nil || vacancyDraft == nil {
		t.Fatal("Expected both drafts persisted")
	}
	if taskDraft.RecordID != "7" || vacancyDraft.RecordID != NewRecordKey {
		t.Errorf("Expected keys (7, new), got (%s, %s)", taskDraft.RecordID, vacancyDraft.RecordID)
	}
}

// TestLoadMidBurst tests that a buffered payload is visible before flush.
func TestLoadMidBurst(t *testing.T) {
	store, _, _ := newTestStore(t)

	store.AutoSave("contracts", "", json.RawMessage(`{"title":"pending"}`))

	d, err := store.Load("contracts", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if d == nil || string(d.Payload) != `{"title":"pending"}` {
		t.Errorf("Expected buffered payload, got %+v", d)
	}
}

// TestSaveNowCancelsPending tests that an explicit save wins over the buffer.
func TestSaveNowCancelsPending(t *testing.T) {
	store, clk, bus := newTestStore(t)

	var saves int
	bus.Subscribe(func(e event.Event) {
		if e.Name == event.DraftSaved {
			saves++
		}
	})

	store.AutoSave("tasks", "", json.RawMessage(`{"title":"old"}`))
	if err := store.SaveNow("tasks", "", json.RawMessage(`{"title":"final"}`)); err != nil {
		t.Fatalf("SaveNow failed: %v", err)
	}

	clk.Advance(2 * time.Second)

	// The buffered save was cancelled, only SaveNow persisted
	if saves != 1 {
		t.Errorf("Expected 1 save, got %d", saves)
	}
	d, _ := store.Load("tasks", "")
	if string(d.Payload) != `{"title":"final"}` {
		t.Errorf("Expected explicit payload to win, got %s", d.Payload)
	}
}

// TestClearRemovesBufferAndRow tests that submit clears everything.
func TestClearRemovesBufferAndRow(t *testing.T) {
	store, clk, bus := newTestStore(t)

	var cleared int
	bus.Subscribe(func(e event.Event) {
		if e.Name == event.DraftCleared {
			cleared++
		}
	})

	store.SaveNow("tasks", "", json.RawMessage(`{"title":"x"}`))
	store.AutoSave("tasks", "", json.RawMessage(`{"title":"y"}`))

	if err := store.Clear("tasks", ""); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	clk.Advance(2 * time.Second)

	d, err := store.Load("tasks", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if d != nil {
		t.Errorf("Expected no draft after clear, got %+v", d)
	}
	if cleared != 1 {
		t.Errorf("Expected 1 cleared event, got %d", cleared)
	}
}

// TestFlushOnShutdown tests that buffered drafts survive shutdown.
func TestFlushOnShutdown(t *testing.T) {
	store, _, _ := newTestStore(t)

	store.AutoSave("tasks", "", json.RawMessage(`{"title":"unsaved"}`))
	store.Flush()

	d, _ := store.List("tasks")
	if len(d) != 1 || string(d[0].Payload) != `{"title":"unsaved"}` {
		t.Errorf("Expected flushed draft in persistence, got %+v", d)
	}
}
