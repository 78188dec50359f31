package grading

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured matches every ConfigError.
	ErrNotConfigured = errors.New("grading client not configured")

	// ErrGenerationFailed matches every TransportError.
	ErrGenerationFailed = errors.New("generation failed")
)

// ConfigError reports a missing credential or endpoint. It is returned before
// any network call is attempted.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s is required", ErrNotConfigured, e.Field)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrNotConfigured
}

// TransportError reports a failed or non-successful call to the completion
// endpoint. StatusCode is 0 when no response was received.
type TransportError struct {
	StatusCode int
	err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", ErrGenerationFailed, e.StatusCode, e.err)
	}
	return fmt.Sprintf("%s: %v", ErrGenerationFailed, e.err)
}

func (e *TransportError) Unwrap() error {
	return e.err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrGenerationFailed
}

func newTransportError(status int, err error) error {
	return &TransportError{StatusCode: status, err: err}
}
