package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	apperrors "github.com/kimhsiao/interntrack/internal/errors"
	"github.com/kimhsiao/interntrack/internal/offline/draft"
)

// DraftHandler exposes the draft store. POST buffers through the debounce
// window like a keystroke; PUT persists immediately.
type DraftHandler struct {
	store *draft.Store
}

// NewDraftHandler creates a DraftHandler.
func NewDraftHandler(store *draft.Store) *DraftHandler {
	return &DraftHandler{store: store}
}

// readPayload reads and checks the request body.
func readPayload(r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to read body", err)
	}
	if !json.Valid(body) {
		return nil, apperrors.New(apperrors.ErrInvalid, "body is not valid JSON")
	}
	return body, nil
}

// AutoSave handles POST /api/drafts/{entity}/{recordId}.
func (h *DraftHandler) AutoSave(w http.ResponseWriter, r *http.Request) {
	payload, err := readPayload(r)
	if err != nil {
		writeError(w, err)
		return
	}

	h.store.AutoSave(r.PathValue("entity"), r.PathValue("recordId"), payload)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "buffered"})
}

// Save handles PUT /api/drafts/{entity}/{recordId}.
func (h *DraftHandler) Save(w http.ResponseWriter, r *http.Request) {
	payload, err := readPayload(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.store.SaveNow(r.PathValue("entity"), r.PathValue("recordId"), payload); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// Get handles GET /api/drafts/{entity}/{recordId}.
func (h *DraftHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.Load(r.PathValue("entity"), r.PathValue("recordId"))
	if err != nil {
		writeError(w, err)
		return
	}
	if d == nil {
		writeError(w, apperrors.New(apperrors.ErrNotFound, "no draft for this record"))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Delete handles DELETE /api/drafts/{entity}/{recordId}.
func (h *DraftHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(r.PathValue("entity"), r.PathValue("recordId")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// List handles GET /api/drafts/{entity}.
func (h *DraftHandler) List(w http.ResponseWriter, r *http.Request) {
	drafts, err := h.store.List(r.PathValue("entity"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"drafts": drafts,
		"count":  len(drafts),
	})
}
