// Package errors provides error code definitions shared across the sync agent.
package errors

import "fmt"

// ErrorCode represents a unique error code surfaced to UI clients.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Local cache errors
	ErrDatabase     ErrorCode = "DATABASE_ERROR"
	ErrMigration    ErrorCode = "MIGRATION_FAILED"
	ErrCacheCorrupt ErrorCode = "CACHE_CORRUPT"

	// Sync errors
	ErrSyncInFlight  ErrorCode = "SYNC_IN_FLIGHT"
	ErrSyncBackoff   ErrorCode = "SYNC_BACKOFF"
	ErrAuthExpired   ErrorCode = "AUTH_EXPIRED"
	ErrAuthForbidden ErrorCode = "AUTH_FORBIDDEN"

	// Entity errors
	ErrUnknownEntity ErrorCode = "UNKNOWN_ENTITY"
	ErrUnknownAction ErrorCode = "UNKNOWN_ACTION"
	ErrBadPayload    ErrorCode = "BAD_PAYLOAD"

	// Contract workflow errors
	ErrContractTransition ErrorCode = "CONTRACT_INVALID_TRANSITION"

	// Token storage errors
	ErrCryptoFailed ErrorCode = "CRYPTO_FAILED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error is of a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}
