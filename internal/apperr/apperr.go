// Package apperr defines the error kinds shared by the recording core.
// Every operation wraps one of these sentinels so callers can discriminate
// failures with errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidState          = errors.New("invalid state")
	ErrValidation            = errors.New("validation error")
	ErrDuplicateTrack        = errors.New("duplicate track")
	ErrIO                    = errors.New("io failure")
	ErrUpstreamNotConfigured = errors.New("upstream not configured")

	ErrSessionNotFound   = fmt.Errorf("Session not found: %w", ErrNotFound)
	ErrAudioFileNotFound = fmt.Errorf("Audio file not found: %w", ErrNotFound)
	ErrInvalidSpeaker    = fmt.Errorf("invalid speaker: %w", ErrValidation)
)

// InvalidState reports an operation that is not legal for the current status.
func InvalidState(op, status string) error {
	return fmt.Errorf("%w: cannot %s session with status %q", ErrInvalidState, op, status)
}

// Validation reports a malformed field.
func Validation(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, reason)
}

// IO wraps a filesystem failure.
func IO(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrIO, op, err)
}

// HTTPStatus maps an error kind onto a response status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrDuplicateTrack):
		return http.StatusConflict
	case errors.Is(err, ErrUpstreamNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-visible text for an error. Not-found errors
// collapse to their fixed messages; everything else keeps its detail.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrAudioFileNotFound):
		return "Audio file not found"
	case errors.Is(err, ErrSessionNotFound):
		return "Session not found"
	default:
		return err.Error()
	}
}
