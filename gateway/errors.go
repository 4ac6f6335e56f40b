/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies operation failures.
type ErrorKind int

const (
	// ErrorKindCancelled means the caller-supplied context was cancelled.
	// Such failures are never retried and propagated immediately.
	ErrorKindCancelled ErrorKind = iota

	// ErrorKindTimeout means a deadline was exceeded.
	ErrorKindTimeout

	// ErrorKindTransient means a temporary network failure.
	// Transient failures are retried with backoff up to the limit.
	ErrorKindTransient

	// ErrorKindTerminal means any other failure. No retry is done.
	ErrorKindTerminal
)

// String returns a human-readable kind name.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindCancelled:
		return "cancelled"
	case ErrorKindTimeout:
		return "timeout"
	case ErrorKindTransient:
		return "transient"
	case ErrorKindTerminal:
		return "terminal"
	}
	return "unknown"
}

// OperationError is returned for every failed operation.
type OperationError struct {
	Kind   ErrorKind
	Target string

	// Attempts is the number of sends that were actually done.
	Attempts int

	Inner error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s operation error: %s", e.Kind, e.Inner.Error())
	}
	return fmt.Sprintf("%s operation error, target %q: %s", e.Kind, e.Target, e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *OperationError) Unwrap() error {
	return e.Inner
}

// IsCancelled reports whether the error is a cancellation of the caller's context.
func IsCancelled(err error) bool {
	return hasKind(err, ErrorKindCancelled)
}

// IsTimeout reports whether the error is a deadline expiry.
func IsTimeout(err error) bool {
	return hasKind(err, ErrorKindTimeout)
}

// IsTransient reports whether the error is a temporary network failure.
func IsTransient(err error) bool {
	return hasKind(err, ErrorKindTransient)
}

func hasKind(err error, kind ErrorKind) bool {
	var opErr *OperationError
	return errors.As(err, &opErr) && opErr.Kind == kind
}

// newContextError converts an expired context's error into an OperationError.
func newContextError(target string, ctxErr error) *OperationError {
	kind := ErrorKindCancelled
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		kind = ErrorKindTimeout
	}
	return &OperationError{Kind: kind, Target: target, Inner: ctxErr}
}
