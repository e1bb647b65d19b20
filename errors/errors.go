// Package errors provides the service's coded error type.
package errors

import (
	"errors"
	"fmt"
)

// Codes rendered in the "code" field of error bodies.
const (
	CodeInternal          = "INTERNAL_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeBadRequest        = "BAD_REQUEST"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeConflict          = "CONFLICT"
	CodeValidation        = "VALIDATION_ERROR"
	CodeMalformedGeometry = "MALFORMED_GEOMETRY"
	CodeTimeout           = "TIMEOUT"
	CodeRateLimited       = "RATE_LIMITED"
)

// AppError carries a client-facing code and message. Err is kept for logs
// and errors.Is/As but never rendered.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

// Is reports whether target is an AppError with the same code, so
// errors.Is(err, NotFound("")) matches any not-found error.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// New returns an AppError without a cause.
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap attaches code and message to err.
func Wrap(err error, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func Internal(message string) *AppError { return New(CodeInternal, message) }

func InternalWrap(err error, message string) *AppError { return Wrap(err, CodeInternal, message) }

// NotFound names the missing resource, e.g. "geofence not found".
func NotFound(resource string) *AppError {
	return New(CodeNotFound, resource+" not found")
}

func BadRequest(message string) *AppError { return New(CodeBadRequest, message) }

func Validation(message string) *AppError { return New(CodeValidation, message) }

// ValidationWithDetails maps field names to what is wrong with them.
func ValidationWithDetails(message string, details map[string]string) *AppError {
	e := New(CodeValidation, message)
	e.Details = details
	return e
}

// MalformedGeometry uses the geometry error text as the message.
func MalformedGeometry(err error) *AppError {
	if err == nil {
		return New(CodeMalformedGeometry, "malformed geometry")
	}
	return Wrap(err, CodeMalformedGeometry, err.Error())
}

// Unauthorized defaults the message to "authentication required".
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return New(CodeUnauthorized, message)
}

func Conflict(message string) *AppError { return New(CodeConflict, message) }

func Timeout(message string) *AppError { return New(CodeTimeout, message) }

func RateLimited(message string) *AppError { return New(CodeRateLimited, message) }

// Code returns the code of the first AppError in err's chain, or "".
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func IsNotFound(err error) bool          { return Code(err) == CodeNotFound }
func IsConflict(err error) bool          { return Code(err) == CodeConflict }
func IsValidation(err error) bool        { return Code(err) == CodeValidation }
func IsMalformedGeometry(err error) bool { return Code(err) == CodeMalformedGeometry }
func IsUnauthorized(err error) bool      { return Code(err) == CodeUnauthorized }
