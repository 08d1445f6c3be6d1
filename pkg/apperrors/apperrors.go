// Package apperrors carries typed error kinds across service boundaries so the
// transport edge can map them to HTTP statuses without string matching.
package apperrors

import "fmt"

type Code string

const (
	CodeBadRequest   Code = "BAD_REQUEST"
	CodeAuthFailed   Code = "AUTH_FAILED"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeRateLimited  Code = "RATE_LIMITED"
	CodeInternal     Code = "INTERNAL"
)

type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func BadRequest(msg string) *Error { return New(CodeBadRequest, msg) }
func NotFound(msg string) *Error   { return New(CodeNotFound, msg) }
func Conflict(msg string) *Error   { return New(CodeConflict, msg) }
func Internal(msg string) *Error   { return New(CodeInternal, msg) }

// AuthFailed is deliberately generic: unknown user, expired challenge and bad
// signature must all render the same wording to avoid an enumeration oracle.
func AuthFailed() *Error { return New(CodeAuthFailed, "Authentication failed") }
