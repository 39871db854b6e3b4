package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is an error that knows which HTTP status and user-facing message it maps to.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"` // Internal error for logging
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the internal error to errors.Is / errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NotFound creates a 404 error
func NotFound(message string) *AppError {
	return New(http.StatusNotFound, message, nil)
}

// BadRequest creates a 400 error
func BadRequest(message string) *AppError {
	return New(http.StatusBadRequest, message, nil)
}

// Conflict creates a 409 error
func Conflict(message string, err error) *AppError {
	return New(http.StatusConflict, message, err)
}

// Unavailable creates a 503 error
func Unavailable(message string, err error) *AppError {
	return New(http.StatusServiceUnavailable, message, err)
}

// Unauthorized creates a 401 error
func Unauthorized(message string) *AppError {
	return New(http.StatusUnauthorized, message, nil)
}

// Internal creates a 500 error with a generic message; err is kept for logs only.
func Internal(err error) *AppError {
	return New(http.StatusInternalServerError, "An unexpected error occurred. Please try again.", err)
}

// As returns err as an *AppError, wrapping anything else as Internal.
func As(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}
