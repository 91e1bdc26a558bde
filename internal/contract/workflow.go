// Package contract implements the internship contract approval workflow.
// Status changes go through the same offline-capable mutation path as any
// other entity update, so an approval made without connectivity is queued
// and replayed like everything else.
package contract

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/kimhsiao/interntrack/internal/errors"
	"github.com/kimhsiao/interntrack/internal/logging"
	"github.com/kimhsiao/interntrack/internal/offline"
)

// Status is a contract workflow state.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusStudentReview   Status = "student_review"
	StatusMentorReview    Status = "mentor_review"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
)

// transitions lists the allowed next states. A rejected contract goes back
// to draft for rework; approved is terminal.
var transitions = map[Status][]Status{
	StatusDraft:           {StatusStudentReview},
	StatusStudentReview:   {StatusMentorReview, StatusDraft},
	StatusMentorReview:    {StatusPendingApproval, StatusDraft},
	StatusPendingApproval: {StatusApproved, StatusRejected},
	StatusRejected:        {StatusDraft},
	StatusApproved:        {},
}

// IsValid reports whether s is a known workflow state.
func IsValid(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from -> to is an allowed step.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// notification describes the message sent when a contract enters a state.
// The recipient is resolved from the contract's own email fields.
type notification struct {
	toStudent bool
	subject   string
	content   string
}

var notifications = map[Status]notification{
	StatusStudentReview: {
		toStudent: true,
		subject:   "Contract ready for your review",
		content:   "Your internship contract %q is ready. Please review and confirm the details.",
	},
	StatusMentorReview: {
		toStudent: false,
		subject:   "Contract awaiting mentor review",
		content:   "The internship contract %q has been confirmed by the student and awaits your review.",
	},
	StatusPendingApproval: {
		toStudent: true,
		subject:   "Contract submitted for approval",
		content:   "The internship contract %q passed mentor review and was submitted for final approval.",
	},
	StatusApproved: {
		toStudent: true,
		subject:   "Contract approved",
		content:   "Your internship contract %q has been approved. You can start logging hours.",
	},
	StatusRejected: {
		toStudent: true,
		subject:   "Contract rejected",
		content:   "Your internship contract %q was rejected. Please review the comments and resubmit.",
	},
	StatusDraft: {
		toStudent: true,
		subject:   "Contract returned to draft",
		content:   "The internship contract %q was returned to draft for rework.",
	},
}

// contractFields is the slice of a contract payload the workflow reads.
type contractFields struct {
	Title        string `json:"title"`
	Status       Status `json:"status"`
	StudentEmail string `json:"student_email"`
	MentorEmail  string `json:"mentor_email"`
}

// Workflow drives contract status changes through the offline mutation path.
type Workflow struct {
	ops    *offline.Operations
	logger *logging.Logger
}

// NewWorkflow creates a workflow over the mutation front door.
func NewWorkflow(ops *offline.Operations) *Workflow {
	return &Workflow{
		ops:    ops,
		logger: logging.Get(),
	}
}

// Advance moves a contract to a new state. The contract argument is the
// current record payload; its status field is the transition source. On an
// allowed transition the status update is submitted (queued when offline)
// and the workflow notification is sent.
func (w *Workflow) Advance(ctx context.Context, recordID string, contract json.RawMessage, to Status) (offline.OpResult, error) {
	var fields contractFields
	if err := json.Unmarshal(contract, &fields); err != nil {
		return offline.OpResult{}, apperrors.Wrap(apperrors.ErrBadPayload, "contract payload is not an object", err)
	}

	from := fields.Status
	if from == "" {
		from = StatusDraft
	}
	if !IsValid(to) {
		return offline.OpResult{}, apperrors.New(apperrors.ErrContractTransition,
			fmt.Sprintf("unknown contract status %q", to))
	}
	if !CanTransition(from, to) {
		return offline.OpResult{}, apperrors.New(apperrors.ErrContractTransition,
			fmt.Sprintf("contract cannot move from %s to %s", from, to))
	}

	update, _ := json.Marshal(map[string]Status{"status": to})
	result, err := w.ops.Update(ctx, "contracts", recordID, update)
	if err != nil {
		return offline.OpResult{}, err
	}

	w.notifyTransition(ctx, fields, to)
	return result, nil
}

// notifyTransition sends the workflow message for the new state. A failed
// notification never fails the transition itself.
func (w *Workflow) notifyTransition(ctx context.Context, fields contractFields, to Status) {
	note, ok := notifications[to]
	if !ok {
		return
	}

	recipient := fields.MentorEmail
	if note.toStudent {
		recipient = fields.StudentEmail
	}
	if recipient == "" {
		return
	}

	payload, _ := json.Marshal(map[string]string{
		"to_email": recipient,
		"subject":  note.subject,
		"content":  fmt.Sprintf(note.content, fields.Title),
	})

	if _, err := w.ops.Create(ctx, "messages", payload); err != nil {
		w.logger.Warn("Workflow notification not sent", map[string]interface{}{
			"status": string(to),
			"error":  err.Error(),
		})
	}
}
