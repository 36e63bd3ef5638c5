package services

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies errors crossing the service boundary
type ErrorKind string

const (
	KindRequest      ErrorKind = "REQUEST"
	KindNotFound     ErrorKind = "NOT_FOUND"
	KindAccessDenied ErrorKind = "ACCESS_DENIED"
	KindConflict     ErrorKind = "CONFLICT"
	KindDispatch     ErrorKind = "DISPATCH_FAILED"
	KindInternal     ErrorKind = "INTERNAL"
)

// ConflictReason separates the two uniqueness failures
type ConflictReason string

const (
	ConflictWithinBatch  ConflictReason = "WITHIN_BATCH"
	ConflictAlreadyInUse ConflictReason = "ALREADY_IN_USE"
)

// Error is the typed error returned by every service operation.
// Err carries the underlying cause for logs and is never shown to callers.
type Error struct {
	Kind     ErrorKind
	Code     string
	Message  string
	Field    string
	Conflict ConflictReason
	Values   []string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind, and by code or conflict reason when the
// sentinel sets them.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	if t.Conflict != "" && t.Conflict != e.Conflict {
		return false
	}
	return true
}

var (
	ErrRequest        = &Error{Kind: KindRequest}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrAccessDenied   = &Error{Kind: KindAccessDenied}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrDispatch       = &Error{Kind: KindDispatch}
	ErrInternal       = &Error{Kind: KindInternal}
	ErrWithinBatch    = &Error{Kind: KindConflict, Conflict: ConflictWithinBatch}
	ErrAlreadyInUse   = &Error{Kind: KindConflict, Conflict: ConflictAlreadyInUse}
	ErrInvalidState   = &Error{Kind: KindRequest, Code: "INVALID_STATE"}
	ErrTenantRequired = &Error{Kind: KindRequest, Code: "TENANT_REQUIRED"}
)

// IsRequestError reports whether err is the caller's mistake
func IsRequestError(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindRequest, KindNotFound, KindAccessDenied, KindConflict:
		return true
	}
	return false
}

// AsError returns err as *Error, wrapping unknown errors as internal
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return internalError(err)
}

func requestError(code, message string) *Error {
	return &Error{Kind: KindRequest, Code: code, Message: message}
}

func fieldError(code, field, message string) *Error {
	return &Error{Kind: KindRequest, Code: code, Field: field, Message: message}
}

func notFoundError(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func accessDeniedError(message string) *Error {
	return &Error{Kind: KindAccessDenied, Code: "ACCESS_DENIED", Message: message}
}

func invalidStateError(message string) *Error {
	return &Error{Kind: KindRequest, Code: "INVALID_STATE", Message: message}
}

func dispatchError(task string, err error) *Error {
	return &Error{Kind: KindDispatch, Code: "DISPATCH_FAILED", Message: fmt.Sprintf("failed to dispatch %s task", task), Err: err}
}

func internalError(err error) *Error {
	return &Error{Kind: KindInternal, Code: "INTERNAL_ERROR", Message: "internal error", Err: err}
}

func withinBatchError(values []string) *Error {
	return &Error{
		Kind:     KindConflict,
		Code:     "DUPLICATE_BARCODE",
		Field:    "barcode",
		Conflict: ConflictWithinBatch,
		Values:   values,
		Message:  fmt.Sprintf("duplicate barcode within batch: %s", strings.Join(values, ", ")),
	}
}

func alreadyInUseError(values []string) *Error {
	msg := "identifier already in use"
	if len(values) > 0 {
		msg = fmt.Sprintf("barcode %s already used by another variant", strings.Join(values, ", "))
	}
	return &Error{
		Kind:     KindConflict,
		Code:     "BARCODE_IN_USE",
		Field:    "barcode",
		Conflict: ConflictAlreadyInUse,
		Values:   values,
		Message:  msg,
	}
}
