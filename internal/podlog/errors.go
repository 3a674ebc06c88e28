package podlog

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies failures surfaced by the service.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindForbidden         ErrorKind = "FORBIDDEN"
	KindInvalidInput      ErrorKind = "INVALID_INPUT"
	KindStreamExists      ErrorKind = "STREAM_EXISTS"
	KindPodExists         ErrorKind = "POD_EXISTS"
	KindNameConflict      ErrorKind = "NAME_CONFLICT"
	KindRateLimitExceeded ErrorKind = "RATE_LIMIT_EXCEEDED"
	KindInternal          ErrorKind = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. Any *Error with the same kind matches.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrStreamExists      = &Error{Kind: KindStreamExists}
	ErrPodExists         = &Error{Kind: KindPodExists}
	ErrNameConflict      = &Error{Kind: KindNameConflict}
	ErrRateLimitExceeded = &Error{Kind: KindRateLimitExceeded}
	ErrInternal          = &Error{Kind: KindInternal}
)

// Error is a structured failure carrying a kind, the operation that produced
// it, and an optional underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// NewError builds an *Error with a formatted message.
func NewError(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func newError(kind ErrorKind, op, format string, args ...any) *Error {
	return NewError(kind, op, format, args...)
}

// internalError wraps a storage or transport failure. Errors that already
// carry a kind pass through unchanged.
func internalError(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// KindOf reports the kind of err. Unclassified errors are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return KindRateLimitExceeded
	}
	return KindInternal
}

// RateLimitedError is returned when a caller has exhausted its window.
// It carries the decision so transports can report limits and reset times.
type RateLimitedError struct {
	Action   Action
	Decision Decision
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: %s limit of %d reached, resets at %s",
		KindRateLimitExceeded, e.Action, e.Decision.Limit, e.Decision.ResetAt.UTC().Format(time.RFC3339))
}

func (e *RateLimitedError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t == ErrRateLimitExceeded
}
