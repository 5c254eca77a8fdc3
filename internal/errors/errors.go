// Package errors provides the error kinds and stack-carrying errors used across nestedcv.
package errors

import (
	"fmt"
	"strings"

	crdb "github.com/cockroachdb/errors"
)

// Error kinds. Every *Error carries exactly one of these as its Kind and
// matches it with Is.
var (
	// ErrInvalidConfiguration reports an impossible fold/sample relationship,
	// a bad budget or an otherwise unusable setting.
	ErrInvalidConfiguration = crdb.New("invalid configuration")
	// ErrDuplicateBranchKey reports two options or dimensions sharing a key
	// at the same level of a search space.
	ErrDuplicateBranchKey = crdb.New("duplicate branch key")
	// ErrInvalidRange reports a leaf range with low >= high, a non-finite
	// bound, or a value outside its range.
	ErrInvalidRange = crdb.New("invalid range")
	// ErrNoValidConfiguration is returned when every evaluation of a budget failed.
	ErrNoValidConfiguration = crdb.New("no valid configuration")
	// ErrUnknownKernel reports an unrecognised kernel tag.
	ErrUnknownKernel = crdb.New("unknown kernel")
	// ErrNotFitted is returned when a model is used before Fit succeeded.
	ErrNotFitted = crdb.New("model not fitted")
	// ErrDimensionMismatch reports inputs whose shapes disagree.
	ErrDimensionMismatch = crdb.New("dimension mismatch")
	// ErrNotFound reports a lookup of an unknown job.
	ErrNotFound = crdb.New("not found")
)

// Error is an error with a kind, the operation and component that produced
// it, and a cause that records the stack at construction.
type Error struct {
	// Kind is one of the package level sentinels, or nil.
	Kind error
	// Operation is the operation that was being performed.
	Operation string
	// Component is the package or subsystem where the error occurred.
	Component string

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var builder strings.Builder
	if e.Component != "" {
		builder.WriteString(e.Component)
		builder.WriteString(": ")
	}
	if e.Operation != "" {
		builder.WriteString(e.Operation)
		builder.WriteString(": ")
	}
	builder.WriteString(e.cause.Error())
	return builder.String()
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	return e != nil && e.Kind != nil && target == e.Kind
}

// WithOperation sets the operation and returns e.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithComponent sets the component and returns e.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// StackTrace renders the cause with its recorded stack.
func (e *Error) StackTrace() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%+v", e.cause)
}

// New creates an error of the given kind.
func New(kind error, msg string) *Error {
	return newError(kind, crdb.NewWithDepth(1, msg))
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind error, format string, args ...interface{}) *Error {
	return newError(kind, crdb.NewWithDepthf(1, format, args...))
}

// Wrap wraps err with a message and a kind. If err is nil, Wrap returns nil.
// A nil kind inherits the kind of err, if any.
func Wrap(err error, kind error, msg string) error {
	if err == nil {
		return nil
	}
	if kind == nil {
		kind = KindOf(err)
	}
	return newError(kind, crdb.WrapWithDepth(1, err, msg))
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, kind error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if kind == nil {
		kind = KindOf(err)
	}
	return newError(kind, crdb.WrapWithDepthf(1, err, format, args...))
}

func newError(kind error, cause error) *Error {
	if kind != nil {
		cause = crdb.Mark(cause, kind)
	}
	return &Error{Kind: kind, cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or nil.
func KindOf(err error) error {
	var e *Error
	if crdb.As(err, &e) {
		return e.Kind
	}
	return nil
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return crdb.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return crdb.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err, if any.
func Unwrap(err error) error {
	return crdb.UnwrapOnce(err)
}
