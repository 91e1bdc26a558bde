// Package handlers provides the agent's localhost REST API.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/kimhsiao/interntrack/internal/errors"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an application error to an HTTP response.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.ErrInternal
	message := err.Error()
	if appErr, ok := err.(*apperrors.AppError); ok {
		code = appErr.Code
		message = appErr.Message
	}

	writeJSON(w, statusFor(code), map[string]interface{}{
		"error": map[string]string{
			"code":    string(code),
			"message": message,
		},
	})
}

// statusFor maps error codes to HTTP status codes.
func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrInvalid, apperrors.ErrBadPayload, apperrors.ErrUnknownEntity,
		apperrors.ErrUnknownAction, apperrors.ErrContractTransition:
		return http.StatusBadRequest
	case apperrors.ErrValidation:
		return http.StatusUnprocessableEntity
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrAuthExpired:
		return http.StatusUnauthorized
	case apperrors.ErrAuthForbidden:
		return http.StatusForbidden
	case apperrors.ErrSyncInFlight:
		return http.StatusConflict
	case apperrors.ErrSyncBackoff:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
