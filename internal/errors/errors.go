// Package errors defines typed service errors with machine-readable codes
// that the HTTP layer maps to status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error class to API clients.
type Code string

const (
	CodeStorageError           Code = "STORAGE_ERROR"
	CodeConcurrentModification Code = "CONCURRENT_MODIFICATION"
	CodeValidationError        Code = "VALIDATION_ERROR"
	CodeUnauthorized           Code = "UNAUTHORIZED"
	CodeInvalidToken           Code = "INVALID_TOKEN"
	CodeRateLimitExceeded      Code = "RATE_LIMIT_EXCEEDED"
	CodeNotFound               Code = "NOT_FOUND"
	CodeInternalError          Code = "INTERNAL_ERROR"
)

// ServiceError carries an error code, HTTP status and optional details.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value detail and returns the error for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Storage wraps an underlying document store failure.
func Storage(op string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeStorageError,
		Message:    fmt.Sprintf("Failed to %s configuration", op),
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Conflict signals a detected concurrent modification.
func Conflict(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeConcurrentModification,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// Validation rejects a malformed request payload.
func Validation(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeValidationError,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Unauthorized signals a missing or unacceptable credential.
func Unauthorized(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// InvalidToken signals a bearer token that failed verification.
func InvalidToken(err error) *ServiceError {
	return &ServiceError{
		Code:       CodeInvalidToken,
		Message:    "Invalid token",
		HTTPStatus: http.StatusUnauthorized,
		Err:        err,
	}
}

// RateLimitExceeded signals that the caller exhausted its request budget.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return (&ServiceError{
		Code:       CodeRateLimitExceeded,
		Message:    "Too many requests, please try again later.",
		HTTPStatus: http.StatusTooManyRequests,
	}).WithDetails("limit", limit).WithDetails("window", window)
}

// NotFound signals a missing resource.
func NotFound(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeNotFound,
		Message:    message,
		HTTPStatus: http.StatusNotFound,
	}
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// GetServiceError extracts a *ServiceError from an error chain, or nil.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}
