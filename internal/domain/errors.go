package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected before any network call.
	ErrValidation = errors.New("validation failed")

	// ErrSessionNotFound is returned when a session ID is unknown to the store.
	ErrSessionNotFound = errors.New("session not found")

	// ErrScenarioNotFound is returned when the catalog has no such scenario.
	ErrScenarioNotFound = errors.New("scenario not found")

	// ErrSessionClosed is returned when a session is no longer active.
	ErrSessionClosed = errors.New("session is no longer active")
)

// Invalidf returns an error wrapping ErrValidation with the formatted detail.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
