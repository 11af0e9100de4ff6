// Package apperr defines the error kinds returned by the escrow and TAC
// services. Callers match kinds with errors.Is against the Err* sentinels or
// read Kind directly from an *Error.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation       Kind = "validation"
	KindUnauthorized     Kind = "unauthorized"
	KindInvalidState     Kind = "invalid_state"
	KindAlreadyReleased  Kind = "already_released"
	KindAlreadyUsed      Kind = "already_used"
	KindExpired          Kind = "expired"
	KindMismatch         Kind = "mismatch"
	KindNotFound         Kind = "not_found"
	KindEscalationFailed Kind = "escalation_failed"
	KindInternal         Kind = "internal"
)

// Sentinels for errors.Is matching. An *Error matches the sentinel of its kind.
var (
	ErrValidation       = &Error{Kind: KindValidation, Message: "validation error"}
	ErrUnauthorized     = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrInvalidState     = &Error{Kind: KindInvalidState, Message: "invalid state"}
	ErrAlreadyReleased  = &Error{Kind: KindAlreadyReleased, Message: "escrow already released"}
	ErrAlreadyUsed      = &Error{Kind: KindAlreadyUsed, Message: "code already used"}
	ErrExpired          = &Error{Kind: KindExpired, Message: "code expired"}
	ErrMismatch         = &Error{Kind: KindMismatch, Message: "code mismatch"}
	ErrNotFound         = &Error{Kind: KindNotFound, Message: "not found"}
	ErrEscalationFailed = &Error{Kind: KindEscalationFailed, Message: "compliance escalation failed"}
	ErrInternal         = &Error{Kind: KindInternal, Message: "internal error"}
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the caller may repeat the request unchanged.
func (e *Error) Retryable() bool {
	return e.Kind == KindEscalationFailed
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return New(KindUnauthorized, format, args...)
}

func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, format, args...)
}

// KindOf returns the kind carried by err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
