package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kimhsiao/interntrack/internal/contract"
	apperrors "github.com/kimhsiao/interntrack/internal/errors"
	"github.com/kimhsiao/interntrack/internal/offline"
)

// EntityHandler routes entity mutations through the offline-capable front
// door.
type EntityHandler struct {
	ops      *offline.Operations
	workflow *contract.Workflow
}

// NewEntityHandler creates an EntityHandler.
func NewEntityHandler(ops *offline.Operations, workflow *contract.Workflow) *EntityHandler {
	return &EntityHandler{
		ops:      ops,
		workflow: workflow,
	}
}

// Create handles POST /api/entities/{entity}.
func (h *EntityHandler) Create(w http.ResponseWriter, r *http.Request) {
	payload, err := readPayload(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.ops.Create(r.Context(), r.PathValue("entity"), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// Update handles PUT /api/entities/{entity}/{id}.
func (h *EntityHandler) Update(w http.ResponseWriter, r *http.Request) {
	payload, err := readPayload(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.ops.Update(r.Context(), r.PathValue("entity"), r.PathValue("id"), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// Delete handles DELETE /api/entities/{entity}/{id}.
func (h *EntityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	result, err := h.ops.Delete(r.Context(), r.PathValue("entity"), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// Transition handles POST /api/contracts/{id}/transition. The body carries
// the current contract record and the target status.
func (h *EntityHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Status   contract.Status `json:"status"`
		Contract json.RawMessage `json:"contract"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}

	result, err := h.workflow.Advance(r.Context(), r.PathValue("id"), request.Contract, request.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}
