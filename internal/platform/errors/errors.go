// Package errors provides a structured error type with wrapping and metadata
package errors

// Always import the project errors package as perr (platform/errors)

import (
	stderrs "errors"
	"fmt"
)

// ErrorCode defines supported error codes used across the pipeline
// Values are stable because the ledger persists them; add sparingly
type ErrorCode uint16

const (
	// ErrorCodeUnknown is for unclassified errors
	ErrorCodeUnknown ErrorCode = iota

	// ErrorCodeIO is for channel open/read/write failures (permissions, disk full)
	ErrorCodeIO

	// ErrorCodeDecompression is for corrupt or truncated compressed framing
	ErrorCodeDecompression

	// ErrorCodeMalformed is for a single record that fails to parse
	ErrorCodeMalformed

	// ErrorCodeTransform is for a transform that refuses a record (eg unmapped language code)
	ErrorCodeTransform

	// ErrorCodeConfiguration is for invalid policy values detected at startup
	ErrorCodeConfiguration

	// ErrorCodeCancelled is for work stopped by a global cancellation signal
	ErrorCodeCancelled

	// ErrorCodeInvalidArgument is for bad input parameters
	ErrorCodeInvalidArgument

	// ErrorCodeNotFound is for missing files or units
	ErrorCodeNotFound
)

var codeNames = map[ErrorCode]string{
	ErrorCodeUnknown:         "unknown",
	ErrorCodeIO:              "io",
	ErrorCodeDecompression:   "decompression",
	ErrorCodeMalformed:       "malformed",
	ErrorCodeTransform:       "transform",
	ErrorCodeConfiguration:   "configuration",
	ErrorCodeCancelled:       "cancelled",
	ErrorCodeInvalidArgument: "invalid_argument",
	ErrorCodeNotFound:        "not_found",
}

// String returns the stable kind name used in summaries and the ledger
func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "unknown"
}

// Process exit codes
const (
	ExitOK          = 0
	ExitUnitFailure = 1
	ExitConfig      = 2
	ExitCancelled   = 130
)

// ExitCodeOf turns an ErrorCode into a process exit code
func ExitCodeOf(c ErrorCode) int {
	switch c {
	case ErrorCodeConfiguration, ErrorCodeInvalidArgument:
		return ExitConfig
	case ErrorCodeCancelled:
		return ExitCancelled
	default:
		return ExitUnitFailure
	}
}

// ExitCode returns the mapped exit code for any error, ExitOK for nil
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	return ExitCodeOf(CodeOf(err))
}

// ErrNotFound is a sentinel not found error for convenience
var ErrNotFound = New(ErrorCodeNotFound, "not found")

// Error is the structured error type with wrapping and metadata
// msg is human/developer facing; code is machine facing
// field is optional (for validation); op is optional operation tag
// offset and index locate a record inside a decompressed stream when hasPos is set
// orig is the wrapped cause
type Error struct {
	orig   error
	msg    string
	code   ErrorCode
	field  string
	op     string
	offset int64
	index  int64
	hasPos bool
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.orig != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.orig)
	}
	return e.msg
}

// Unwrap returns the wrapped error, if any
func (e *Error) Unwrap() error { return e.orig }

// Code returns the error code
func (e *Error) Code() ErrorCode { return e.code }

// Message returns the message without the wrapped cause
func (e *Error) Message() string { return e.msg }

// Field returns the offending field, if any
func (e *Error) Field() string { return e.field }

// Op returns the operation label, if set
func (e *Error) Op() string { return e.op }

// Position returns the byte offset and record index, ok is false when unset
func (e *Error) Position() (offset, index int64, ok bool) {
	return e.offset, e.index, e.hasPos
}

// Root returns the deepest wrapped cause
func Root(err error) error {
	for err != nil {
		u := stderrs.Unwrap(err)
		if u == nil {
			return err
		}
		err = u
	}
	return nil
}

// CodeOf extracts an ErrorCode from any error, defaulting to Unknown
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.code
	}
	return ErrorCodeUnknown
}

// IsCode reports whether err has the given code
func IsCode(err error, code ErrorCode) bool { return CodeOf(err) == code }

// PositionOf returns the first position found on the error chain
func PositionOf(err error) (offset, index int64, ok bool) {
	for err != nil {
		var e *Error
		if !stderrs.As(err, &e) {
			return 0, 0, false
		}
		if e.hasPos {
			return e.offset, e.index, true
		}
		err = e.orig
	}
	return 0, 0, false
}

// As unwraps and returns (*Error, true) if err is one of ours
func As(err error) (*Error, bool) {
	var e *Error
	if stderrs.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Mutators (copy-on-write)

// WithField attaches a field to an *Error (copy-on-write). If err isn't *Error, returns err unchanged
func WithField(err error, field string) error {
	if e, ok := As(err); ok {
		c := *e
		c.field = field
		return &c
	}
	return err
}

// WithOp attaches an operation label to an *Error (copy-on-write). If err isn't *Error, returns err unchanged
func WithOp(err error, op string) error {
	if e, ok := As(err); ok {
		c := *e
		c.op = op
		return &c
	}
	return err
}

// WithPosition attaches a stream position to an *Error (copy-on-write)
// A foreign error is wrapped with Unknown code so the position survives
func WithPosition(err error, offset, index int64) error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		c := *e
		c.offset, c.index, c.hasPos = offset, index, true
		return &c
	}
	return &Error{code: ErrorCodeUnknown, msg: err.Error(), orig: err, offset: offset, index: index, hasPos: true}
}

// WithFieldChain sets field on *Error or wraps a foreign error into an *Error with Unknown code (copy-on-write)
func WithFieldChain(err error, field string) error {
	if e, ok := As(err); ok {
		c := *e
		c.field = field
		return &c
	}
	return &Error{code: ErrorCodeUnknown, msg: err.Error(), field: field, orig: err}
}

// Constructors

// New returns a new *Error with the given code and message
func New(code ErrorCode, msg string) error { return &Error{code: code, msg: msg} }

// Newf returns a new *Error with code and formatted message
func Newf(code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...)}
}

// Wrap returns a new *Error that wraps orig with code and message
func Wrap(orig error, code ErrorCode, msg string) error {
	return &Error{code: code, msg: msg, orig: orig}
}

// Wrapf returns a new *Error that wraps orig with code and formatted message
func Wrapf(orig error, code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...), orig: orig}
}

// WrapIf wraps only when err != nil (helper for 1-liners)
func WrapIf(err error, code ErrorCode, msg string) error {
	if err == nil {
		return nil
	}
	return Wrap(err, code, msg)
}

// Sugar

// IOf returns an io error
func IOf(format string, a ...any) error { return Newf(ErrorCodeIO, format, a...) }

// Malformedf returns a malformed record error
func Malformedf(format string, a ...any) error { return Newf(ErrorCodeMalformed, format, a...) }

// Transformf returns a transform error
func Transformf(format string, a ...any) error { return Newf(ErrorCodeTransform, format, a...) }

// Configf returns a configuration error
func Configf(format string, a ...any) error { return Newf(ErrorCodeConfiguration, format, a...) }

// NotFoundf returns a not found error
func NotFoundf(format string, a ...any) error { return Newf(ErrorCodeNotFound, format, a...) }

// InvalidArgf returns an invalid argument error
func InvalidArgf(format string, a ...any) error { return Newf(ErrorCodeInvalidArgument, format, a...) }

// Internalf returns a generic internal error
func Internalf(format string, a ...any) error { return Newf(ErrorCodeUnknown, format, a...) }

// Cancelled wraps a context error as a cancellation
func Cancelled(cause error) error { return Wrap(cause, ErrorCodeCancelled, "cancelled") }
