// Package faults defines the failure taxonomy shared by the transport, the
// message harness and the compliance suite.
//
// Every failure observed while driving a server is classified into exactly one
// Kind. The suite never lets these errors escape a test case: they are
// converted into FAILED cases with the concise message returned by Message.
package faults

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure.
type Kind string

const (
	// KindStartupFailure indicates the server could not be spawned or exited
	// before any interaction.
	KindStartupFailure Kind = "STARTUP_FAILURE"

	// KindTransport indicates malformed bytes or an unexpected stream close.
	KindTransport Kind = "TRANSPORT_ERROR"

	// KindTimeout indicates no correlated response arrived before the deadline.
	KindTimeout Kind = "TIMEOUT"

	// KindProtocolViolation indicates a well-formed but non-conforming response.
	KindProtocolViolation Kind = "PROTOCOL_VIOLATION"

	// KindAssertion indicates a conforming response with the wrong value for
	// the scenario being checked.
	KindAssertion Kind = "ASSERTION_FAILURE"
)

// Error is a classified failure.
type Error struct {
	// Kind identifies the failure category.
	Kind Kind

	// Op names the operation that failed (e.g. "tools/list", "start").
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Startup creates a KindStartupFailure error.
func Startup(message string, err error) *Error {
	return Wrap(KindStartupFailure, "start", message, err)
}

// Timeout creates a KindTimeout error for an awaited operation.
func Timeout(op string, after fmt.Stringer) *Error {
	return New(KindTimeout, op, fmt.Sprintf("no response within %s", after))
}

// Protocolf creates a KindProtocolViolation error.
func Protocolf(op, format string, args ...any) *Error {
	return New(KindProtocolViolation, op, fmt.Sprintf(format, args...))
}

// Assertf creates a KindAssertion error.
func Assertf(op, format string, args ...any) *Error {
	return New(KindAssertion, op, fmt.Sprintf(format, args...))
}

// KindOf returns the Kind of the first classified error in err's chain.
// Unclassified errors report KindTransport: anything that escaped the
// harness without classification came from the byte stream.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransport
}

// Is reports whether err carries the given Kind.
// Uses errors.As to handle wrapped errors.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// IsTimeout reports whether err is a timeout.
func IsTimeout(err error) bool {
	return Is(err, KindTimeout)
}

// IsStartupFailure reports whether err is a startup failure.
func IsStartupFailure(err error) bool {
	return Is(err, KindStartupFailure)
}

// Message renders err as the single line recorded on a FAILED test case.
// The kind prefix is kept so reports can be grouped by failure class.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Error()
	}
	return fmt.Sprintf("%s: %v", KindTransport, err)
}
