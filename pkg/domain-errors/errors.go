// Package domainerrors provides the coded error taxonomy shared by every
// pipeline component. Lower layers return these typed errors; the
// orchestrator classifies them into retry-or-terminate without parsing
// message strings.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies the class of a domain error.
type Code string

const (
	// CodeInvalidInput marks malformed caller input (bad webhook URL,
	// missing identifier). Never retried; terminal immediately.
	CodeInvalidInput Code = "invalid_input"

	// CodeEncoding marks an unreadable sample or encoder failure.
	CodeEncoding Code = "encoding_failed"

	// CodeNoCandidate marks an empty candidate set from the vector index.
	// This is an expected business outcome (auth failure), not a fault.
	CodeNoCandidate Code = "no_candidate"

	// CodeTransient marks timeouts and connection failures to external
	// systems. Retried with bounded attempts at the stage level.
	CodeTransient Code = "transient"

	// CodeLedgerExecution marks a submitted transaction that reverted.
	// Fatal for the run; never retried with the same commitments.
	CodeLedgerExecution Code = "ledger_execution"

	// CodeDeliveryExhausted marks webhook retries running out.
	CodeDeliveryExhausted Code = "delivery_exhausted"

	CodeNotFound     Code = "not_found"
	CodeUnauthorized Code = "unauthorized"
	CodeTimeout      Code = "timeout"
	CodeInternal     Code = "internal"
)

// Error carries a code, a human-readable message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes two coded errors equal when code and message match, so tests can
// use errors.Is against a freshly constructed expectation.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && (t.Message == "" || e.Message == t.Message)
}

// New builds a coded error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// CodeOf returns the code of the outermost coded error in the chain, or
// CodeInternal when the error carries no code.
func CodeOf(err error) Code {
	var e *Error
	if !errors.As(err, &e) {
		return CodeInternal
	}
	return e.Code
}
