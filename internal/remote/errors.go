package remote

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is returned when no valid session exists for a remote
// call. The engine never retries these as-is; the reconciler treats them as
// a sign-out trigger.
var ErrUnauthenticated = errors.New("unauthenticated")

// Error is a network or server failure carrying a human-readable message.
// The engine treats every Error as retry-later: the failed intent stays
// queued and is retried on the next connectivity event.
type Error struct {
	// Op is the remote operation that failed, e.g. "syncMealPlan".
	Op string
	// Message is a human-readable description for one-shot result surfaces.
	Message string
	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("remote %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a retryable remote error.
func NewError(op, message string, err error) *Error {
	return &Error{Op: op, Message: message, Err: err}
}
