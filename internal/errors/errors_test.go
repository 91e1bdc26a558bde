package errors

import (
	"errors"
	"testing"
)

// TestAppErrorError tests error string formatting.
func TestAppErrorError(t *testing.T) {
	err := New(ErrSyncBackoff, "retry window open")
	want := "[SYNC_BACKOFF] retry window open"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	wrapped := Wrap(ErrDatabase, "persist queue", errors.New("disk full"))
	want = "[DATABASE_ERROR] persist queue: disk full"
	if wrapped.Error() != want {
		t.Errorf("Error() = %q, want %q", wrapped.Error(), want)
	}
}

// TestUnwrap tests that wrapped errors are reachable via errors.Is.
func TestUnwrap(t *testing.T) {
	inner := errors.New("boom")
	wrapped := Wrap(ErrInternal, "outer", inner)

	if !errors.Is(wrapped, inner) {
		t.Error("Expected errors.Is to find the inner error")
	}
}

// TestIs tests code matching.
func TestIs(t *testing.T) {
	err := New(ErrAuthExpired, "token expired")

	if !Is(err, ErrAuthExpired) {
		t.Error("Expected Is to match the error code")
	}

	if Is(err, ErrDatabase) {
		t.Error("Expected Is to reject a different code")
	}

	if Is(errors.New("plain"), ErrDatabase) {
		t.Error("Expected Is to reject a non-AppError")
	}
}
