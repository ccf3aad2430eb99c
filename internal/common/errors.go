package common

import (
	"errors"
	"fmt"
)

// Kind classifies a failure surfaced to callers of the pipeline.
type Kind string

const (
	KindUnsupportedFormat Kind = "UnsupportedFormat"
	KindMissingParameter  Kind = "MissingParameter"
	KindNotFound          Kind = "NotFound"
	KindPending           Kind = "Pending"
	KindUnknownError      Kind = "UnknownError"
	KindJobFailed         Kind = "JobFailed"
	KindChannelMismatch   Kind = "ChannelMismatch"
	KindUnexpectedState   Kind = "UnexpectedState"
	KindInvalidEvent      Kind = "InvalidEvent"
	KindExternalFailure   Kind = "ExternalFailure"
)

// Error is a pipeline failure tagged with a Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Errorf builds an Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// External wraps a collaborator failure (storage, database, detector, trigger).
func External(message string, cause error) *Error {
	return &Error{Kind: KindExternalFailure, Message: message, Cause: cause}
}

// Text returns the message shown to callers: the bare message for domain
// errors without a cause, the full error text otherwise.
func Text(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Cause == nil {
		return appErr.Message
	}
	return err.Error()
}

// KindOf reports the Kind of err. Untagged errors are collaborator failures.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindExternalFailure
}

// IsKind reports whether the first Error in err's chain has the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
