package core

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Error Taxonomy
// -----------------------------------------------------------------------------

// Code classifies an error for callers: preconditions, missing entities,
// retriable I/O failures and violated internal invariants.
type Code string

const (
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeNotFound     Code = "NOT_FOUND"
	CodeTransientIO  Code = "TRANSIENT_IO"
	CodeInternal     Code = "INTERNAL"
)

type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func WrapError(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func ErrInvalidInput(format string, args ...any) *Error {
	return NewError(CodeInvalidInput, format, args...)
}

func ErrNotFound(format string, args ...any) *Error {
	return NewError(CodeNotFound, format, args...)
}

// CodeOf extracts the taxonomy code from err, or CodeInternal when the error
// does not carry one.
func CodeOf(err error) Code {
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr.Code
	}
	return CodeInternal
}

func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

func IsInvalidInput(err error) bool {
	return CodeOf(err) == CodeInvalidInput
}
