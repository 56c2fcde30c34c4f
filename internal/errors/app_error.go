package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is the error type the service returns across package
// boundaries. Code is a stable machine-readable identifier, StatusCode
// the HTTP status the REST layer should map it to.
type AppError struct {
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// NewValidationError reports malformed or out-of-range input.
func NewValidationError(code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: http.StatusBadRequest}
}

// NewNotFoundError distinguishes a missing resource from an empty list.
func NewNotFoundError(code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: http.StatusNotFound}
}

// NewConflictError reports a single-flight violation: a crawl run is
// already in progress.
func NewConflictError(code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: http.StatusConflict}
}

// NewInternalError wraps an unexpected failure in the pipeline or store.
func NewInternalError(code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: http.StatusInternalServerError}
}

// NewTransientError marks an error worth retrying (rate limits,
// upstream timeouts).
func NewTransientError(code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: http.StatusServiceUnavailable, Retryable: true}
}

// IsNotFound reports whether err carries a not-found AppError.
func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err carries a conflict AppError.
func IsConflict(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.StatusCode == http.StatusConflict
}
