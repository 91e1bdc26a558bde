// Package draft implements debounced form autosave. Drafts are keyed by
// (entity, record id), with "new" standing in for records that do not exist
// yet. The store is independent of the offline queue: a draft is unsent
// form state, not a pending mutation.
package draft

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/kimhsiao/interntrack/internal/clock"
	"github.com/kimhsiao/interntrack/internal/db"
	apperrors "github.com/kimhsiao/interntrack/internal/errors"
	"github.com/kimhsiao/interntrack/internal/logging"
	"github.com/kimhsiao/interntrack/internal/models"
	"github.com/kimhsiao/interntrack/internal/offline/event"
)

// NewRecordKey is the record id used for drafts of not-yet-created records.
const NewRecordKey = "new"

// DefaultDebounce is the autosave quiet period.
const DefaultDebounce = 750 * time.Millisecond

// Store is the draft store.
type Store struct {
	mu       sync.Mutex
	repo     *db.Repository
	bus      *event.Bus
	clock    clock.Clock
	debounce time.Duration
	pending  map[string]*pendingSave
	logger   *logging.Logger
}

// pendingSave is a buffered payload waiting out the debounce window.
type pendingSave struct {
	entity   string
	recordID string
	payload  json.RawMessage
	timer    clock.Timer
}

// New creates a draft store. A non-positive debounce falls back to the
// default.
func New(repo *db.Repository, bus *event.Bus, clk clock.Clock, debounce time.Duration) *Store {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Store{
		repo:     repo,
		bus:      bus,
		clock:    clk,
		debounce: debounce,
		pending:  make(map[string]*pendingSave),
		logger:   logging.Get(),
	}
}

// normalizeRecordID maps an absent record id to the new-record key.
func normalizeRecordID(recordID string) string {
	if recordID == "" {
		return NewRecordKey
	}
	return recordID
}

func draftKey(entityType, recordID string) string {
	return entityType + "/" + recordID
}

// AutoSave buffers a payload and persists it after the debounce window.
// Repeated calls for the same key replace the buffered payload and restart
// the window, so only the final burst state hits the database.
func (s *Store) AutoSave(entityType, recordID string, payload json.RawMessage) {
	recordID = normalizeRecordID(recordID)
	key := draftKey(entityType, recordID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[key]; ok {
		p.timer.Stop()
		p.payload = payload
		p.timer = s.clock.AfterFunc(s.debounce, func() { s.flush(key) })
		return
	}

	p := &pendingSave{entity: entityType, recordID: recordID, payload: payload}
	p.timer = s.clock.AfterFunc(s.debounce, func() { s.flush(key) })
	s.pending[key] = p
}

// flush persists a buffered payload once its window elapses.
func (s *Store) flush(key string) {
	s.mu.Lock()
	p, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	if err := s.persist(p.entity, p.recordID, p.payload); err != nil {
		s.logger.Error("Autosave flush failed", err, map[string]interface{}{
			"entity":   p.entity,
			"recordId": p.recordID,
		})
	}
}

// SaveNow persists a payload immediately, cancelling any buffered save for
// the same key.
func (s *Store) SaveNow(entityType, recordID string, payload json.RawMessage) error {
	recordID = normalizeRecordID(recordID)
	key := draftKey(entityType, recordID)

	s.mu.Lock()
	if p, ok := s.pending[key]; ok {
		p.timer.Stop()
		delete(s.pending, key)
	}
	s.mu.Unlock()

	return s.persist(entityType, recordID, payload)
}

func (s *Store) persist(entityType, recordID string, payload json.RawMessage) error {
	d := &models.Draft{
		Entity:   entityType,
		RecordID: recordID,
		Payload:  payload,
		SavedAt:  s.clock.Now().UnixMilli(),
		Dirty:    true,
	}
	if err := s.repo.UpsertDraft(d); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to save draft", err)
	}

	s.bus.Publish(event.DraftSaved, map[string]interface{}{
		"entity":   entityType,
		"recordId": recordID,
		"savedAt":  d.SavedAt,
	})
	return nil
}

// Load returns the persisted draft for a key, or nil when none exists.
// A buffered payload that has not flushed yet is returned as-is so callers
// never observe a stale draft mid-burst.
func (s *Store) Load(entityType, recordID string) (*models.Draft, error) {
	recordID = normalizeRecordID(recordID)
	key := draftKey(entityType, recordID)

	s.mu.Lock()
	if p, ok := s.pending[key]; ok {
		d := &models.Draft{
			Entity:   entityType,
			RecordID: recordID,
			Payload:  p.payload,
			SavedAt:  s.clock.Now().UnixMilli(),
			Dirty:    true,
		}
		s.mu.Unlock()
		return d, nil
	}
	s.mu.Unlock()

	d, err := s.repo.GetDraft(entityType, recordID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load draft", err)
	}
	return d, nil
}

// Clear removes the draft for a key, including any buffered save, so a
// submitted form does not resurrect on reload.
func (s *Store) Clear(entityType, recordID string) error {
	recordID = normalizeRecordID(recordID)
	key := draftKey(entityType, recordID)

	s.mu.Lock()
	if p, ok := s.pending[key]; ok {
		p.timer.Stop()
		delete(s.pending, key)
	}
	s.mu.Unlock()

	if _, err := s.repo.DeleteDraft(entityType, recordID); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to clear draft", err)
	}

	s.bus.Publish(event.DraftCleared, map[string]interface{}{
		"entity":   entityType,
		"recordId": recordID,
	})
	return nil
}

// List returns all persisted drafts for an entity type, newest first.
func (s *Store) List(entityType string) ([]*models.Draft, error) {
	drafts, err := s.repo.ListDrafts(entityType)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list drafts", err)
	}
	return drafts, nil
}

// Flush persists every buffered save immediately. Called on shutdown.
func (s *Store) Flush() {
	s.mu.Lock()
	keys := make([]string, 0, len(s.pending))
	for key, p := range s.pending {
		p.timer.Stop()
		keys = append(keys, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.flush(key)
	}
}
