package offline

import (
	"context"
	"encoding/json"

	"github.com/kimhsiao/interntrack/internal/api"
	"github.com/kimhsiao/interntrack/internal/entity"
	apperrors "github.com/kimhsiao/interntrack/internal/errors"
	"github.com/kimhsiao/interntrack/internal/logging"
	"github.com/kimhsiao/interntrack/internal/models"
	"github.com/kimhsiao/interntrack/internal/offline/draft"
	"github.com/kimhsiao/interntrack/internal/offline/queue"
	"github.com/kimhsiao/interntrack/internal/offline/validation"
	"github.com/kimhsiao/interntrack/internal/uuid"
)

// OpResult reports how a mutation was resolved.
type OpResult struct {
	// Record is the server's response body when the call went through.
	Record json.RawMessage `json:"record,omitempty"`

	// Queued is true when the mutation was deferred to the offline queue.
	Queued bool `json:"queued"`

	// RecordID is the id the caller should use from now on: the server's
	// id when delivered, the temp id when queued.
	RecordID string `json:"recordId,omitempty"`
}

// Operations is the front door for entity mutations: try the API directly,
// fall back to the offline queue on network failure. Validation and auth
// rejections surface immediately and are never queued.
type Operations struct {
	queue      *queue.Queue
	validation *validation.Store
	drafts     *draft.Store
	client     Executor
	logger     *logging.Logger
}

// NewOperations creates the mutation front door.
func NewOperations(q *queue.Queue, vs *validation.Store, ds *draft.Store, client Executor) *Operations {
	return &Operations{
		queue:      q,
		validation: vs,
		drafts:     ds,
		client:     client,
		logger:     logging.Get(),
	}
}

// Create creates a record, queueing it under a temp id when offline.
func (o *Operations) Create(ctx context.Context, entityType string, payload json.RawMessage) (OpResult, error) {
	if err := entity.ValidatePayload(entityType, entity.ActionCreate, payload); err != nil {
		return OpResult{}, err
	}

	op := &models.QueuedOperation{Entity: entityType, Action: string(entity.ActionCreate), Payload: payload}
	outcome := o.client.Execute(ctx, op)

	switch outcome.Kind {
	case api.OutcomeSuccess:
		o.afterDelivery(entityType, "", string(entity.ActionCreate), draft.NewRecordKey)
		return OpResult{Record: outcome.Record, RecordID: recordIDFrom(outcome.Record)}, nil

	case api.OutcomeNetwork:
		tempID := uuid.NewTemp()
		if _, err := o.queue.Enqueue(entityType, entity.ActionCreate, tempID, "", payload); err != nil {
			return OpResult{}, err
		}
		o.clearDraft(entityType, draft.NewRecordKey)
		return OpResult{Queued: true, RecordID: tempID}, nil

	default:
		return OpResult{}, o.reject(entityType, string(entity.ActionCreate), "", outcome)
	}
}

// Update updates a record. Updates to a record that only exists locally are
// queued directly behind its pending create.
func (o *Operations) Update(ctx context.Context, entityType, recordID string, payload json.RawMessage) (OpResult, error) {
	if err := entity.ValidatePayload(entityType, entity.ActionUpdate, payload); err != nil {
		return OpResult{}, err
	}

	if uuid.IsTemp(recordID) {
		if _, err := o.queue.Enqueue(entityType, entity.ActionUpdate, "", recordID, payload); err != nil {
			return OpResult{}, err
		}
		o.clearDraft(entityType, recordID)
		return OpResult{Queued: true, RecordID: recordID}, nil
	}

	op := &models.QueuedOperation{Entity: entityType, Action: string(entity.ActionUpdate), RecordID: recordID, Payload: payload}
	outcome := o.client.Execute(ctx, op)

	switch outcome.Kind {
	case api.OutcomeSuccess:
		o.afterDelivery(entityType, recordID, "", recordID)
		return OpResult{Record: outcome.Record, RecordID: recordID}, nil

	case api.OutcomeNetwork:
		if _, err := o.queue.Enqueue(entityType, entity.ActionUpdate, "", recordID, payload); err != nil {
			return OpResult{}, err
		}
		o.clearDraft(entityType, recordID)
		return OpResult{Queued: true, RecordID: recordID}, nil

	default:
		return OpResult{}, o.reject(entityType, string(entity.ActionUpdate), recordID, outcome)
	}
}

// Delete deletes a record. Deleting a record the server never saw cancels
// its queued operations locally; no server call is made.
func (o *Operations) Delete(ctx context.Context, entityType, recordID string) (OpResult, error) {
	if uuid.IsTemp(recordID) {
		if _, err := o.queue.CancelTemp(recordID); err != nil {
			return OpResult{}, err
		}
		o.afterDelivery(entityType, recordID, "", recordID)
		return OpResult{}, nil
	}

	op := &models.QueuedOperation{Entity: entityType, Action: string(entity.ActionDelete), RecordID: recordID}
	outcome := o.client.Execute(ctx, op)

	switch outcome.Kind {
	case api.OutcomeSuccess:
		o.afterDelivery(entityType, recordID, "", recordID)
		return OpResult{}, nil

	case api.OutcomeNetwork:
		if _, err := o.queue.Enqueue(entityType, entity.ActionDelete, "", recordID, nil); err != nil {
			return OpResult{}, err
		}
		return OpResult{Queued: true, RecordID: recordID}, nil

	default:
		return OpResult{}, o.reject(entityType, string(entity.ActionDelete), recordID, outcome)
	}
}

// afterDelivery clears bookkeeping once a mutation is settled. Matching
// validation errors follow the original resubmit rules: by record id when
// there is one, otherwise by action.
func (o *Operations) afterDelivery(entityType, recordID, action, draftKey string) {
	if err := o.validation.RemoveFor(entityType, recordID, action); err != nil {
		o.logger.Error("Failed to clear validation errors", err)
	}
	o.clearDraft(entityType, draftKey)
}

func (o *Operations) clearDraft(entityType, recordID string) {
	if err := o.drafts.Clear(entityType, recordID); err != nil {
		o.logger.Error("Failed to clear draft", err)
	}
}

// reject converts a non-retryable outcome into the caller-facing error,
// recording validation rejections in the store.
func (o *Operations) reject(entityType, action, recordID string, outcome api.Outcome) error {
	switch outcome.Kind {
	case api.OutcomeValidation:
		if _, err := o.validation.Add(entityType, action, "", recordID, outcome.Message, outcome.Fields); err != nil {
			o.logger.Error("Failed to record validation error", err)
		}
		msg := outcome.Message
		if msg == "" {
			msg = "the server rejected the data"
		}
		return apperrors.New(apperrors.ErrValidation, msg)

	case api.OutcomeAuth:
		if outcome.Status == 403 {
			return apperrors.New(apperrors.ErrAuthForbidden, "not allowed for this account")
		}
		return apperrors.New(apperrors.ErrAuthExpired, "session expired, sign in again")

	default:
		return apperrors.New(apperrors.ErrInternal, "unexpected outcome")
	}
}
