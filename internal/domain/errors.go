package domain

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrServiceUnavailable   = errors.New("service unavailable")
	ErrTrainingFailed       = errors.New("training failed")
	ErrDeploymentFailed     = errors.New("deployment failed")
	ErrQueryFailed          = errors.New("query failed")
	ErrEndpointNotReady     = errors.New("endpoint not ready")
	ErrScoringMismatch      = errors.New("scoring mismatch")
	ErrTimeout              = errors.New("timeout")
)

// Error attaches a kind and the failing operation to a cause.
type Error struct {
	Kind    error
	Op      string
	Err     error
	Timeout bool
}

// NewError builds an Error for a call made under ctx. The error also matches
// ErrTimeout when ctx hit its deadline or the cause is a deadline error.
func NewError(ctx context.Context, kind error, op string, err error) *Error {
	timeout := errors.Is(err, context.DeadlineExceeded)
	if ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		timeout = true
	}
	return &Error{Kind: kind, Op: op, Err: err, Timeout: timeout}
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Timeout {
		msg += " (timeout)"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	return e.Timeout && target == ErrTimeout
}

func (e *Error) Unwrap() error {
	return e.Err
}
