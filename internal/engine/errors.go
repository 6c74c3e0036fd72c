package engine

import (
	"context"
	"errors"
	"net"
)

// ErrUpstream marks a non-retryable failure reported by the backend, such as
// a rejected request or bad credentials.
var ErrUpstream = errors.New("text generation failed")

// TransientError marks a text-generation failure that may succeed on retry:
// timeouts, cancellation, rate limits and upstream 5xx responses.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps err as transient.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{err: err}
}

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

type retryable interface {
	Retryable() bool
}

// classify wraps err as transient when it stems from a deadline,
// cancellation, network failure or a retryable upstream status.
func classify(err error) error {
	if err == nil || IsTransient(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewTransientError(err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return NewTransientError(err)
	}
	var r retryable
	if errors.As(err, &r) && r.Retryable() {
		return NewTransientError(err)
	}
	return err
}
