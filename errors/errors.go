// Package errors provides the coded error type shared by the pipeline engines
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode represents a specific error type
type ErrorCode int

const (
	// Common error codes
	ErrUnknown ErrorCode = iota
	ErrNotFound
	ErrInvalidInput
	ErrConfiguration
	ErrConnection
	ErrTimeout
	ErrCancelled

	// Orchestrator error codes
	ErrContractViolation
	ErrStageNotReady

	// Task tracker error codes
	ErrUnitBusy

	// Infrastructure error codes
	ErrTransport
	ErrSecret
)

var codeNames = map[ErrorCode]string{
	ErrUnknown:           "unknown",
	ErrNotFound:          "not-found",
	ErrInvalidInput:      "invalid-input",
	ErrConfiguration:     "configuration",
	ErrConnection:        "connection",
	ErrTimeout:           "timeout",
	ErrCancelled:         "cancelled",
	ErrContractViolation: "contract-violation",
	ErrStageNotReady:     "stage-not-ready",
	ErrUnitBusy:          "unit-busy",
	ErrTransport:         "transport",
	ErrSecret:            "secret",
}

// String returns the short name of the code
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error represents a domain-specific error with context
type Error struct {
	// Code identifies the error type
	Code ErrorCode

	// Message provides human-readable error details
	Message string

	// Op describes the operation that failed
	Op string

	// Cause is the underlying error that triggered this one
	Cause error

	// Context holds additional error context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	prefix := e.Op
	if prefix == "" {
		prefix = e.Code.String()
	}
	if e.Cause != nil {
		if e.Message == "" {
			return fmt.Sprintf("%s: %v", prefix, e.Cause)
		}
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error
func New(code ErrorCode, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with a code and message
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WithOp attaches the failing operation name
func WithOp(err error, op string) error {
	if err == nil {
		return nil
	}

	var e *Error
	if !errors.As(err, &e) {
		return &Error{
			Code:    ErrUnknown,
			Message: err.Error(),
			Op:      op,
			Cause:   err,
		}
	}

	if err != error(e) {
		// keep the outer wrapper and its message as the cause
		return &Error{
			Code:    e.Code,
			Op:      op,
			Cause:   err,
			Context: e.Context,
		}
	}

	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Op:      op,
		Cause:   e.Cause,
		Context: e.Context,
	}
}

// WithContext merges key/value context into the error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}

	var e *Error
	if !errors.As(err, &e) {
		return &Error{
			Code:    ErrUnknown,
			Message: err.Error(),
			Cause:   err,
			Context: context,
		}
	}

	merged := make(map[string]interface{}, len(e.Context)+len(context))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range context {
		merged[k] = v
	}

	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Op:      e.Op,
		Cause:   e.Cause,
		Context: merged,
	}
}

// FromContext converts a context error into a coded error, or returns nil
func FromContext(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, ErrTimeout, "deadline exceeded")
	}
	return Wrap(err, ErrCancelled, "operation cancelled")
}

// GetCode returns the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrUnknown
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrUnknown
}

// GetContext returns the error context
func GetContext(err error) map[string]interface{} {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Context
	}
	return nil
}

// IsNotFound returns true if the error is a not found error
func IsNotFound(err error) bool {
	return GetCode(err) == ErrNotFound
}

// IsInvalidInput returns true if the error was caused by bad caller input
func IsInvalidInput(err error) bool {
	return GetCode(err) == ErrInvalidInput
}

// IsCancelled returns true if the error is a cancelled error
func IsCancelled(err error) bool {
	return GetCode(err) == ErrCancelled
}

// IsContractViolation reports a broken orchestrator invariant
func IsContractViolation(err error) bool {
	return GetCode(err) == ErrContractViolation
}

// IsRetryable returns true if the error can be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	code := GetCode(err)
	return code == ErrTimeout ||
		code == ErrConnection ||
		code == ErrTransport ||
		code == ErrUnitBusy
}
