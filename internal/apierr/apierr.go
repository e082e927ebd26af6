// Package apierr gives every externally visible failure a stable
// machine-readable code and a human recovery hint, per the error handling
// design: validation errors return 400, auth failures 401/403, and
// everything else propagates as a terminal run failure or a 500.
package apierr

import "fmt"

// Code is a stable, machine-readable error classification.
type Code string

const (
	CodeValidation      Code = "validation_error"
	CodeNotFound        Code = "not_found"
	CodeConflict        Code = "conflict"
	CodeUnauthorized    Code = "unauthorized"
	CodeForbidden       Code = "forbidden"
	CodeRateLimited     Code = "rate_limited"
	CodeLLMError        Code = "llm_error"
	CodeToolError       Code = "tool_error"
	CodeTransportError  Code = "transport_error"
	CodeStoreError      Code = "store_error"
	CodeInternal        Code = "internal_error"
)

// Error is the shape returned to API clients and recorded in run.error.
type Error struct {
	Code         Code
	Message      string
	RecoveryHint string
	Cause        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %v", e.Code, e.Cause)
	}
	return string(e.Code)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusCode maps a Code to the HTTP status the API adapter should return.
func (e *Error) StatusCode() int {
	switch e.Code {
	case CodeValidation:
		return 400
	case CodeUnauthorized:
		return 401
	case CodeForbidden:
		return 403
	case CodeNotFound:
		return 404
	case CodeConflict:
		return 409
	case CodeRateLimited:
		return 429
	default:
		return 500
	}
}

// New builds an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error that carries an underlying cause.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithHint attaches a recovery hint and returns the same error for chaining.
func (e *Error) WithHint(hint string) *Error {
	e.RecoveryHint = hint
	return e
}

// Validation is a shorthand for the most common client-caused error.
func Validation(format string, args ...any) *Error {
	return New(CodeValidation, fmt.Sprintf(format, args...))
}

// NotFound is a shorthand for a missing resource.
func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, fmt.Sprintf(format, args...))
}
