package handlers

import (
	"net/http"

	apperrors "github.com/kimhsiao/interntrack/internal/errors"
	"github.com/kimhsiao/interntrack/internal/offline/validation"
	"github.com/kimhsiao/interntrack/internal/uuid"
)

// ValidationHandler exposes the validation error store.
type ValidationHandler struct {
	store *validation.Store
}

// NewValidationHandler creates a ValidationHandler.
func NewValidationHandler(store *validation.Store) *ValidationHandler {
	return &ValidationHandler{store: store}
}

// List handles GET /api/validation-errors.
func (h *ValidationHandler) List(w http.ResponseWriter, r *http.Request) {
	errs, err := h.store.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"errors": errs,
		"count":  len(errs),
	})
}

// Dismiss handles DELETE /api/validation-errors/{id}.
func (h *ValidationHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := uuid.Validate(id); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "malformed error id", err))
		return
	}
	if err := h.store.RemoveByID(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

// Clear handles DELETE /api/validation-errors.
func (h *ValidationHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
