package tinyfs

import (
	"fmt"
	"syscall"
)

// Error is a wrapper around system errno codes, with a customizable error
// message. Every failure surfaced by the file system is one of the sentinel
// values below (possibly annotated via WithMessage or Wrap), so callers can
// match with [errors.Is] and the dispatch layer can translate to a negative
// errno without inspecting strings.
type Error struct {
	errnoCode syscall.Errno
	message   string
	wrapped   []error
}

var (
	ErrNotFound          = NewError(syscall.ENOENT)
	ErrExists            = NewError(syscall.EEXIST)
	ErrNotADirectory     = NewError(syscall.ENOTDIR)
	ErrIsADirectory      = NewError(syscall.EISDIR)
	ErrDirectoryNotEmpty = NewError(syscall.ENOTEMPTY)
	ErrDirectoryFull     = NewError(syscall.ENOSPC)
	ErrNoSpace           = NewError(syscall.ENOSPC)
	ErrFileTooLarge      = NewError(syscall.EFBIG)
	ErrNameTooLong       = NewError(syscall.ENAMETOOLONG)
	ErrCorruptSuperblock = NewError(syscall.EUCLEAN)
	ErrIOFailed          = NewError(syscall.EIO)
)

// NewError creates a new Error with a default message derived from the
// system's error code.
func NewError(errnoCode syscall.Errno) *Error {
	return &Error{
		errnoCode: errnoCode,
		message:   errnoCode.Error(),
	}
}

// Error implements the `error` object interface. When called, it returns a
// string describing the error.
func (e *Error) Error() string {
	return e.message
}

// Errno returns the POSIX error code this error is reported as at the
// dispatch boundary.
func (e *Error) Errno() syscall.Errno {
	return e.errnoCode
}

// Unwrap exposes the sentinel this error was derived from (and, for Wrap,
// the underlying cause) so that [errors.Is] matches both.
func (e *Error) Unwrap() []error {
	return e.wrapped
}

// WithMessage returns a copy of this error with `message` appended to the
// error text. The original error is unmodified.
func (e *Error) WithMessage(message string) *Error {
	return &Error{
		errnoCode: e.errnoCode,
		message:   fmt.Sprintf("%s: %s", e.message, message),
		wrapped:   []error{e},
	}
}

// Wrap returns a copy of this error recording `err` as its cause.
func (e *Error) Wrap(err error) *Error {
	return &Error{
		errnoCode: e.errnoCode,
		message:   fmt.Sprintf("%s: %s", e.message, err.Error()),
		wrapped:   []error{e, err},
	}
}
