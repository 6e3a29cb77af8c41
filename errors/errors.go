package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

var (
	ErrUnauthenticated = fmt.Errorf("unauthenticated")
	ErrNotFound        = fmt.Errorf("not found")
	ErrBlocked         = fmt.Errorf("blocked")
	ErrPolicyViolation = fmt.Errorf("policy violation")
	ErrTransient       = fmt.Errorf("transient store failure")
	ErrCancelled       = fmt.Errorf("cancelled")

	ErrWorkerPanic    = fmt.Errorf("worker panic")
	ErrInvalidPath    = fmt.Errorf("invalid store path")
	ErrInvalidToken   = fmt.Errorf("invalid session token")
	ErrStoreClosed    = fmt.Errorf("store closed")
	ErrWorkerNotFound = fmt.Errorf("conversation worker not found")
)

// Transient wraps a failed store call so callers can retry it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, ErrTransient) || stderrors.Is(err, ErrCancelled) {
		return err
	}
	if cancelled := FromContext(err); cancelled != err {
		return cancelled
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// FromContext maps context cancellation and deadlines to ErrCancelled.
// Other errors are returned untouched.
func FromContext(err error) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return err
}

// IsRetryable reports whether the operation may succeed if tried again.
func IsRetryable(err error) bool {
	return stderrors.Is(err, ErrTransient)
}

// IsUserVisible is false for errors that must not be surfaced to a user,
// such as a subscription torn down while a call was in flight.
func IsUserVisible(err error) bool {
	return err != nil && !stderrors.Is(err, ErrCancelled)
}
