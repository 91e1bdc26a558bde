// Package validation implements the persisted store of operations the
// server permanently rejected. Entries stay until the user corrects and
// resubmits the data or dismisses them; they are never retried.
package validation

import (
	"encoding/json"

	"github.com/kimhsiao/interntrack/internal/clock"
	"github.com/kimhsiao/interntrack/internal/db"
	apperrors "github.com/kimhsiao/interntrack/internal/errors"
	"github.com/kimhsiao/interntrack/internal/logging"
	"github.com/kimhsiao/interntrack/internal/models"
	"github.com/kimhsiao/interntrack/internal/offline/event"
	"github.com/kimhsiao/interntrack/internal/uuid"
)

// Store is the validation error store.
type Store struct {
	repo   *db.Repository
	bus    *event.Bus
	clock  clock.Clock
	logger *logging.Logger
}

// New creates a store over the given repository.
func New(repo *db.Repository, bus *event.Bus, clk clock.Clock) *Store {
	return &Store{
		repo:   repo,
		bus:    bus,
		clock:  clk,
		logger: logging.Get(),
	}
}

// Add records a rejected operation with the server's field errors.
func (s *Store) Add(entityType, action, tempID, recordID, message string, fields map[string]string) (*models.ValidationError, error) {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode field errors", err)
	}

	ve := &models.ValidationError{
		ID:        models.UUID(uuid.New()),
		Entity:    entityType,
		Action:    action,
		TempID:    tempID,
		RecordID:  recordID,
		Errors:    encoded,
		Message:   message,
		CreatedAt: s.clock.Now().UnixMilli(),
	}

	if err := s.repo.InsertValidationError(ve); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to record validation error", err)
	}

	s.logger.Info("Validation error recorded", map[string]interface{}{
		"entity":  entityType,
		"action":  action,
		"message": message,
	})
	s.notify()
	return ve, nil
}

// RemoveByID dismisses one entry. Removing a missing id is a no-op.
func (s *Store) RemoveByID(id string) error {
	n, err := s.repo.DeleteValidationError(id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to remove validation error", err)
	}
	if n > 0 {
		s.notify()
	}
	return nil
}

// RemoveFor clears entries matching the entity and, when non-empty, the
// record id (temp or real) and action. Called when a corrected operation
// succeeds so stale errors do not linger.
func (s *Store) RemoveFor(entityType, recordID, action string) error {
	n, err := s.repo.DeleteValidationErrorsFor(entityType, recordID, action)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to clear validation errors", err)
	}
	if n > 0 {
		s.notify()
	}
	return nil
}

// List returns all recorded validation errors, oldest first.
func (s *Store) List() ([]*models.ValidationError, error) {
	list, err := s.repo.ListValidationErrors()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list validation errors", err)
	}
	return list, nil
}

// Clear removes every entry.
func (s *Store) Clear() error {
	if err := s.repo.ClearValidationErrors(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to clear validation errors", err)
	}
	s.notify()
	return nil
}

// notify publishes the full error list so subscribers never need a
// follow-up read to see what changed.
func (s *Store) notify() {
	list, err := s.repo.ListValidationErrors()
	if err != nil {
		s.logger.Warn("Failed to snapshot validation errors for notification", map[string]interface{}{"error": err.Error()})
		list = nil
	}
	s.bus.Publish(event.ValidationErrorsChanged, map[string]interface{}{
		"count":  len(list),
		"errors": list,
	})
}
