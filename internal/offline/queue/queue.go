// Package queue implements the persisted FIFO of offline mutations. Every
// mutation hits the database before subscribers are notified, so the queue a
// UI client observes is always the queue that survives a restart.
package queue

import (
	"encoding/json"

	"github.com/kimhsiao/interntrack/internal/clock"
	"github.com/kimhsiao/interntrack/internal/db"
	"github.com/kimhsiao/interntrack/internal/entity"
	apperrors "github.com/kimhsiao/interntrack/internal/errors"
	"github.com/kimhsiao/interntrack/internal/logging"
	"github.com/kimhsiao/interntrack/internal/models"
	"github.com/kimhsiao/interntrack/internal/offline/event"
	"github.com/kimhsiao/interntrack/internal/uuid"
)

// Queue is the offline operation queue.
type Queue struct {
	repo   *db.Repository
	bus    *event.Bus
	clock  clock.Clock
	logger *logging.Logger
}

// New creates a queue over the given repository.
func New(repo *db.Repository, bus *event.Bus, clk clock.Clock) *Queue {
	return &Queue{
		repo:   repo,
		bus:    bus,
		clock:  clk,
		logger: logging.Get(),
	}
}

// Enqueue validates and appends an operation. The payload is checked against
// the entity schema here so malformed operations never enter the queue.
func (q *Queue) Enqueue(entityType string, action entity.Action, tempID, recordID string, payload json.RawMessage) (*models.QueuedOperation, error) {
	if err := entity.ValidatePayload(entityType, action, payload); err != nil {
		return nil, err
	}

	op := &models.QueuedOperation{
		ID:        models.UUID(uuid.New()),
		Entity:    entityType,
		Action:    string(action),
		TempID:    tempID,
		RecordID:  recordID,
		Payload:   payload,
		CreatedAt: q.clock.Now().UnixMilli(),
	}

	if err := q.repo.InsertQueuedOperation(op); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to enqueue operation", err)
	}

	q.logger.Debug("Operation enqueued", map[string]interface{}{
		"id":     string(op.ID),
		"entity": op.Entity,
		"action": op.Action,
	})
	q.notify()
	return op, nil
}

// Dequeue removes an operation by id. Removing an id that is no longer
// present is a no-op, so completing the same operation twice is safe.
func (q *Queue) Dequeue(id string) error {
	n, err := q.repo.DeleteQueuedOperation(id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to dequeue operation", err)
	}
	if n > 0 {
		q.notify()
	}
	return nil
}

// List returns a FIFO snapshot of the queue.
func (q *Queue) List() ([]*models.QueuedOperation, error) {
	ops, err := q.repo.ListQueuedOperations()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list queue", err)
	}
	return ops, nil
}

// Count returns the number of pending operations.
func (q *Queue) Count() int {
	count, err := q.repo.CountQueuedOperations()
	if err != nil {
		q.logger.Warn("Failed to count queue", map[string]interface{}{"error": err.Error()})
		return 0
	}
	return count
}

// Clear removes every pending operation.
func (q *Queue) Clear() error {
	if err := q.repo.ClearQueue(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to clear queue", err)
	}
	q.notify()
	return nil
}

// RecordAttempt persists a failed delivery attempt for an operation.
func (q *Queue) RecordAttempt(op *models.QueuedOperation) error {
	op.Attempts++
	if err := q.repo.UpdateQueuedOperationAttempts(string(op.ID), op.Attempts); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to record attempt", err)
	}
	return nil
}

// ResolveTempID rewrites queued operations referencing a temp id to the
// server-assigned record id, preserving their positions.
func (q *Queue) ResolveTempID(tempID, recordID string) error {
	n, err := q.repo.ResolveTempID(tempID, recordID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to resolve temp id", err)
	}
	if n > 0 {
		q.logger.Debug("Resolved temp id", map[string]interface{}{
			"tempId":   tempID,
			"recordId": recordID,
			"rewrites": n,
		})
		q.notify()
	}
	return nil
}

// CancelTemp drops every queued operation tied to a temp id. Used when a
// record that only ever existed locally is deleted.
func (q *Queue) CancelTemp(tempID string) (int64, error) {
	n, err := q.repo.DeleteQueuedOperationsForTemp(tempID)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to cancel temp operations", err)
	}
	if n > 0 {
		q.notify()
	}
	return n, nil
}

// notify publishes the full queue snapshot so subscribers never need a
// follow-up read to see what changed.
func (q *Queue) notify() {
	ops, err := q.repo.ListQueuedOperations()
	if err != nil {
		q.logger.Warn("Failed to snapshot queue for notification", map[string]interface{}{"error": err.Error()})
		ops = nil
	}
	q.bus.Publish(event.QueueChanged, map[string]interface{}{
		"pending":    len(ops),
		"operations": ops,
	})
}
