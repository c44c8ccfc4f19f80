package provider

import (
	"errors"
	"fmt"
)

// Outcome classes for a provider call. Callers test with errors.Is.
var (
	// ErrNotFound means the provider has no document for the key. It is a
	// normal business outcome, not a defect.
	ErrNotFound = errors.New("provider: not found")

	// ErrRateLimited means the provider rejected the call with 429 on every
	// allowed attempt.
	ErrRateLimited = errors.New("provider: rate limited")

	// ErrUnavailable covers network failures and 5xx responses that did not
	// recover within the retry budget.
	ErrUnavailable = errors.New("provider: unavailable")

	// ErrMalformed means a 2xx response did not decode as the expected document.
	ErrMalformed = errors.New("provider: malformed response")

	// ErrUnauthorized means the API key was rejected. The run cannot continue.
	ErrUnauthorized = errors.New("provider: credentials rejected")
)

// CallError describes a failed provider call.
type CallError struct {
	Endpoint string
	Status   int // HTTP status, 0 for transport errors.
	Attempts int
	Err      error // One of the sentinel errors above.
	Cause    error // Underlying transport or decode error, if any.
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("%s: %v (status=%d attempts=%d)", e.Endpoint, e.Err, e.Status, e.Attempts)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Retryable reports whether err belongs to a transient class.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

// Fatal reports whether err must abort the whole run.
func Fatal(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
