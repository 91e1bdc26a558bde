// Package offline ties the offline stores together: the reconciler drains
// the queue against the upstream API, the operations front door routes
// entity mutations, and the scheduler decides when passes run.
package offline

import (
	"context"
	"encoding/json"

	"github.com/kimhsiao/interntrack/internal/api"
	"github.com/kimhsiao/interntrack/internal/logging"
	"github.com/kimhsiao/interntrack/internal/models"
	"github.com/kimhsiao/interntrack/internal/offline/backoff"
	"github.com/kimhsiao/interntrack/internal/offline/queue"
	"github.com/kimhsiao/interntrack/internal/offline/validation"
)

// Executor performs one operation against the upstream API.
// Implemented by api.Client.
type Executor interface {
	Execute(ctx context.Context, op *models.QueuedOperation) api.Outcome
}

// HaltReason says why a pass stopped before draining the queue.
type HaltReason string

const (
	// HaltNone means the queue was fully drained.
	HaltNone HaltReason = ""

	// HaltNetwork means a network failure stopped the pass; backoff applies.
	HaltNetwork HaltReason = "network"

	// HaltAuth means the session is expired or forbidden; the pass stops
	// without touching the backoff schedule.
	HaltAuth HaltReason = "auth"
)

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	Attempted int        `json:"attempted"`
	Succeeded int        `json:"succeeded"`
	Rejected  int        `json:"rejected"`
	Remaining int        `json:"remaining"`
	Halt      HaltReason `json:"halt,omitempty"`
}

// Reconciler drains the offline queue against the upstream API.
type Reconciler struct {
	queue      *queue.Queue
	state      *backoff.Controller
	validation *validation.Store
	client     Executor
	logger     *logging.Logger
}

// NewReconciler creates a reconciler over the given stores.
func NewReconciler(q *queue.Queue, state *backoff.Controller, vs *validation.Store, client Executor) *Reconciler {
	return &Reconciler{
		queue:      q,
		state:      state,
		validation: vs,
		client:     client,
		logger:     logging.Get(),
	}
}

// RunPass executes one reconciliation pass. The syncing flag gates
// re-entrancy and the backoff window gates early retries; callers see those
// refusals as SYNC_IN_FLIGHT and SYNC_BACKOFF errors.
//
// Operations replay strictly in FIFO order. Per-operation outcomes:
//   - success: dequeue, clear matching validation errors, resolve temp ids
//   - validation: dequeue, record in the validation store, continue
//   - auth: halt the pass; nothing is dequeued, backoff is untouched
//   - network: record the attempt, halt the pass, advance backoff
//
// An operation is therefore in exactly one of the queue or the validation
// store at any time.
func (r *Reconciler) RunPass(ctx context.Context) (PassResult, error) {
	if err := r.state.BeginPass(); err != nil {
		return PassResult{}, err
	}

	ops, err := r.queue.List()
	if err != nil {
		r.state.EndPassHalted()
		return PassResult{}, err
	}

	result := PassResult{Remaining: len(ops)}
	for _, op := range ops {
		if ctx.Err() != nil {
			r.logger.Info("Sync pass cancelled", map[string]interface{}{"remaining": result.Remaining})
			r.state.EndPassHalted()
			return result, ctx.Err()
		}

		result.Attempted++
		outcome := r.client.Execute(ctx, op)

		switch outcome.Kind {
		case api.OutcomeSuccess:
			r.completeOperation(op, outcome)
			result.Succeeded++
			result.Remaining--

		case api.OutcomeValidation:
			r.rejectOperation(op, outcome)
			result.Rejected++
			result.Remaining--

		case api.OutcomeAuth:
			r.logger.Warn("Sync halted, session expired or forbidden", map[string]interface{}{
				"status": outcome.Status,
			})
			result.Halt = HaltAuth
			r.state.EndPassHalted()
			return result, nil

		case api.OutcomeNetwork:
			if err := r.queue.RecordAttempt(op); err != nil {
				r.logger.Error("Failed to record attempt", err)
			}
			r.logger.Info("Sync halted on network failure", map[string]interface{}{
				"operation": string(op.ID),
				"attempts":  op.Attempts,
				"remaining": result.Remaining,
			})
			result.Halt = HaltNetwork
			r.state.EndPassNetworkFailure()
			return result, nil
		}
	}

	r.state.EndPassSuccess()
	return result, nil
}

// completeOperation finalizes a delivered operation: it leaves the queue,
// its validation errors are cleared, and for creates the server-assigned id
// replaces the temp id in every dependent queued operation.
func (r *Reconciler) completeOperation(op *models.QueuedOperation, outcome api.Outcome) {
	if err := r.queue.Dequeue(string(op.ID)); err != nil {
		r.logger.Error("Failed to dequeue completed operation", err)
	}

	ref := op.RecordID
	if ref == "" {
		ref = op.TempID
	}
	if err := r.validation.RemoveFor(op.Entity, ref, ""); err != nil {
		r.logger.Error("Failed to clear validation errors", err)
	}

	if op.TempID != "" {
		if realID := recordIDFrom(outcome.Record); realID != "" {
			if err := r.queue.ResolveTempID(op.TempID, realID); err != nil {
				r.logger.Error("Failed to resolve temp id", err)
			}
		}
	}
}

// rejectOperation moves a permanently rejected operation from the queue to
// the validation store.
func (r *Reconciler) rejectOperation(op *models.QueuedOperation, outcome api.Outcome) {
	if err := r.queue.Dequeue(string(op.ID)); err != nil {
		r.logger.Error("Failed to dequeue rejected operation", err)
	}
	if _, err := r.validation.Add(op.Entity, op.Action, op.TempID, op.RecordID,
		outcome.Message, outcome.Fields); err != nil {
		r.logger.Error("Failed to record validation error", err)
	}
}

// recordIDFrom extracts the server-assigned id from a create response.
func recordIDFrom(record json.RawMessage) string {
	var body struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(record, &body); err != nil || len(body.ID) == 0 {
		return ""
	}

	// Ids arrive as strings or numbers depending on the endpoint
	var asString string
	if err := json.Unmarshal(body.ID, &asString); err == nil {
		return asString
	}
	var asNumber int64
	if err := json.Unmarshal(body.ID, &asNumber); err == nil {
		return string(body.ID)
	}
	return ""
}
