package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kimhsiao/interntrack/internal/crypto"
	apperrors "github.com/kimhsiao/interntrack/internal/errors"
)

// AuthHandler manages the stored upstream bearer token.
type AuthHandler struct {
	tokens *crypto.TokenStore
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(tokens *crypto.TokenStore) *AuthHandler {
	return &AuthHandler{tokens: tokens}
}

// SetToken handles PUT /api/auth/token.
func (h *AuthHandler) SetToken(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	if request.Token == "" {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "token is required"))
		return
	}

	if err := h.tokens.Save(request.Token); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// ClearToken handles DELETE /api/auth/token.
func (h *AuthHandler) ClearToken(w http.ResponseWriter, r *http.Request) {
	if err := h.tokens.Clear(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
