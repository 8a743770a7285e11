package llm

import (
	"errors"
)

// Error types for classifying LLM errors.

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError represents a permanent error that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// UnavailableError means every configured endpoint was exhausted without a
// usable response. Callers treat this as "the completion service is down"
// and fall back to deterministic behaviour where they can.
type UnavailableError struct {
	Capability string
	err        error
}

func (e *UnavailableError) Error() string {
	return "completion unavailable for capability " + e.Capability + ": " + e.err.Error()
}

func (e *UnavailableError) Unwrap() error {
	return e.err
}

// NewUnavailableError wraps the last endpoint error as an exhaustion error.
func NewUnavailableError(capability string, err error) error {
	return &UnavailableError{Capability: capability, err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// IsUnavailable returns true if all endpoints were exhausted for a request.
func IsUnavailable(err error) bool {
	var unavailable *UnavailableError
	return errors.As(err, &unavailable)
}
