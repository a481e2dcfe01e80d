// Package errors defines structured error types for project storage operations.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode defines specific error types.
type ErrorCode string

const (
	// ErrInvalidArgument is returned when a required field is empty or a value is not allowed.
	ErrInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrAlreadyExists is returned when a target is not eligible because something is already there.
	ErrAlreadyExists ErrorCode = "ALREADY_EXISTS"
	// ErrNotFound is returned when a repository, directory or source file is missing.
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrIO is returned when a filesystem read or write fails.
	ErrIO ErrorCode = "IO_ERROR"
	// ErrStageFailed is returned when a path cannot be recorded in the index.
	ErrStageFailed ErrorCode = "STAGE_FAILED"
	// ErrTreeFailed is returned when the index cannot be flushed or snapshotted into a tree.
	ErrTreeFailed ErrorCode = "TREE_FAILED"
	// ErrCommitFailed is returned when HEAD cannot be read or the commit cannot be written.
	ErrCommitFailed ErrorCode = "COMMIT_FAILED"
	// ErrDestinationConflict is returned when an upload target already exists.
	ErrDestinationConflict ErrorCode = "DESTINATION_CONFLICT"
)

// Sentinels usable with errors.Is. Any *Error with the same code matches.
var (
	InvalidArgument     = &Error{code: ErrInvalidArgument, message: "invalid argument"}
	AlreadyExists       = &Error{code: ErrAlreadyExists, message: "already exists"}
	NotFound            = &Error{code: ErrNotFound, message: "not found"}
	StageFailed         = &Error{code: ErrStageFailed, message: "stage failed"}
	TreeFailed          = &Error{code: ErrTreeFailed, message: "tree failed"}
	CommitFailed        = &Error{code: ErrCommitFailed, message: "commit failed"}
	DestinationConflict = &Error{code: ErrDestinationConflict, message: "destination conflict"}
)

// Error is a concrete error type with a code and optional details.
type Error struct {
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		code:    code,
		message: message,
		details: make(map[string]any),
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithDetail adds a single detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *Error) Wrap(err error) *Error {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Message returns the message without the wrapped cause.
func (e *Error) Message() string {
	return e.message
}

// Details returns additional error details.
func (e *Error) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *Error) Unwrap() error {
	return e.wrappedErr
}

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.code == e.code
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.code
	}
	return ""
}

// Predefined constructors for common cases

// Invalid creates an INVALID_ARGUMENT error.
func Invalid(format string, args ...any) *Error {
	return Newf(ErrInvalidArgument, format, args...)
}

// IOError creates an IO_ERROR wrapping the underlying filesystem error.
func IOError(message string, err error) *Error {
	return New(ErrIO, message).Wrap(err)
}
