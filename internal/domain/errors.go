package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrAppendRejected    = errors.New("append rejected: room is terminated")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrBackpressure      = fmt.Errorf("%w: room backlog over limit", ErrResourceExhausted)
	ErrRoomNotFound      = errors.New("room not found")
	ErrAlreadyClaimed    = errors.New("room already claimed")
	ErrLeaseLost         = errors.New("claim lease lost")
	ErrWorkerBusy        = errors.New("worker already holds a claim")
	ErrDecisionClosed    = errors.New("decision closed")
	ErrDecisionNotFound  = errors.New("decision not found")
	ErrDeadLetterMissing = errors.New("dead letter not found")
	ErrAlreadyReplayed   = errors.New("dead letter already replayed")
	ErrBreakerOpen       = errors.New("circuit breaker open")
)

// MalformedEventError marks an event that can never be applied. It is
// dead-lettered without retry.
type MalformedEventError struct {
	Reason string
}

func (e *MalformedEventError) Error() string {
	return "malformed event: " + e.Reason
}

// Malformed builds a MalformedEventError.
func Malformed(format string, args ...any) error {
	return &MalformedEventError{Reason: fmt.Sprintf(format, args...)}
}

// TransientExternalError wraps a retryable failure of an external call.
type TransientExternalError struct {
	Domain string
	Err    error
}

func (e *TransientExternalError) Error() string {
	return fmt.Sprintf("transient failure calling %s: %v", e.Domain, e.Err)
}

func (e *TransientExternalError) Unwrap() error { return e.Err }

// StateConflictError is returned when an event is valid but does not fit
// the room's current state. It is logged and skipped.
type StateConflictError struct {
	Reason string
	Err    error
}

func (e *StateConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("state conflict: %s: %v", e.Reason, e.Err)
	}
	return "state conflict: " + e.Reason
}

func (e *StateConflictError) Unwrap() error { return e.Err }

// Conflict builds a StateConflictError.
func Conflict(reason string, err error) error {
	return &StateConflictError{Reason: reason, Err: err}
}

// ErrorKind is the coarse class used to route failures.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindMalformed         ErrorKind = "malformed"
	KindStateConflict     ErrorKind = "state_conflict"
	KindTransient         ErrorKind = "transient"
	KindResourceExhausted ErrorKind = "resource_exhausted"
	KindFencing           ErrorKind = "fencing"
)

// Classify maps an error to its kind. Unknown errors are treated as
// transient so they are retried and eventually dead-lettered.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var malformed *MalformedEventError
	var conflict *StateConflictError
	switch {
	case errors.As(err, &malformed):
		return KindMalformed
	case errors.As(err, &conflict):
		return KindStateConflict
	case errors.Is(err, ErrResourceExhausted):
		return KindResourceExhausted
	case errors.Is(err, ErrLeaseLost), errors.Is(err, ErrAlreadyClaimed):
		return KindFencing
	default:
		return KindTransient
	}
}
