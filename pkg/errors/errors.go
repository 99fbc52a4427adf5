// Unified error handling for the cancel-object host
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// ErrConfig is a malformed pattern, tag or option. Raised at startup.
	ErrConfig ErrorCode = "CONFIG"

	// Registry and operator errors
	ErrNotFound      ErrorCode = "NOT_FOUND"
	ErrUnknownObject ErrorCode = "UNKNOWN_OBJECT"
	ErrForbidden     ErrorCode = "FORBIDDEN"
	ErrBadRequest    ErrorCode = "BAD_REQUEST"

	// ErrLineProcessing is a single line that could not be handled during a
	// scan or normalization pass.
	ErrLineProcessing ErrorCode = "LINE_PROCESSING"

	// Glue errors
	ErrIO      ErrorCode = "IO"
	ErrStorage ErrorCode = "STORAGE"
	ErrRuntime ErrorCode = "RUNTIME"
)

// HostError is the unified error type for the host system
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Line is the 1-based line number in the source file (if available)
	Line int

	// Object is the object name involved (if applicable)
	Object string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Line > 0 {
		msg = fmt.Sprintf("%s (line %d)", msg, e.Line)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetLine sets the line number
func (e *HostError) SetLine(line int) *HostError {
	e.Line = line
	return e
}

// SetObject sets the object name
func (e *HostError) SetObject(name string) *HostError {
	e.Object = name
	return e
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// ConfigError creates an error for an invalid option.
func ConfigError(option, reason string) *HostError {
	return New(ErrConfig, fmt.Sprintf("option '%s': %s", option, reason)).
		SetContext("option", option)
}

// NotFoundError creates an error for an object absent from the registry.
func NotFoundError(name string) *HostError {
	return New(ErrNotFound, fmt.Sprintf("object '%s' not found", name)).SetObject(name)
}

// UnknownObjectError creates an error for a tag naming an object the registry
// never saw during the scan.
func UnknownObjectError(name string) *HostError {
	return New(ErrUnknownObject, fmt.Sprintf("tag references unknown object '%s'", name)).SetObject(name)
}

// ForbiddenError creates an error for a caller lacking rights.
func ForbiddenError(action string) *HostError {
	return New(ErrForbidden, fmt.Sprintf("insufficient rights to %s", action))
}

// BadRequestError creates an error for a malformed operator request.
func BadRequestError(reason string) *HostError {
	return New(ErrBadRequest, reason)
}

// LineProcessingError creates an error for a single line that failed.
func LineProcessingError(line int, reason string) *HostError {
	return New(ErrLineProcessing, reason).SetLine(line)
}

// RuntimeError creates a general runtime error
func RuntimeError(message string) *HostError {
	return New(ErrRuntime, message)
}

// RecoverPanic converts a recovered panic value into an error. It must be
// called with the value returned by recover().
func RecoverPanic(r interface{}) *HostError {
	if r == nil {
		return nil
	}
	switch x := r.(type) {
	case string:
		return RuntimeError(fmt.Sprintf("panic: %s", x))
	case error:
		return Wrap(x, ErrRuntime, "panic")
	default:
		return RuntimeError(fmt.Sprintf("panic: %v", x))
	}
}

// Is checks if error matches given error code
func Is(err error, code ErrorCode) bool {
	var hostErr *HostError
	if stderrors.As(err, &hostErr) {
		return hostErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first HostError in the chain, or "".
func CodeOf(err error) ErrorCode {
	var hostErr *HostError
	if stderrors.As(err, &hostErr) {
		return hostErr.Code
	}
	return ""
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
