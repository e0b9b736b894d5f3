package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType defines the category of the error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "VALIDATION_ERROR"
	ErrorTypeDatabase   ErrorType = "DATABASE_ERROR"
	ErrorTypeFilesystem ErrorType = "FILESYSTEM_ERROR"
	ErrorTypeNetwork    ErrorType = "NETWORK_ERROR"
	ErrorTypeTimeout    ErrorType = "TIMEOUT_ERROR"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND_ERROR"
	ErrorTypeInternal   ErrorType = "INTERNAL_ERROR"
)

// AppError represents a structured error for the application
type AppError struct {
	Type          ErrorType `json:"type"`
	Message       string    `json:"message"`
	StatusCode    int       `json:"statusCode"`
	ErrorCode     string    `json:"errorCode"`
	IsOperational bool      `json:"isOperational"`
	Recovery      string    `json:"recoverySuggestion,omitempty"`
	Err           error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Code returns the application-specific error code
func (e *AppError) Code() string {
	return e.ErrorCode
}

// RecoverySuggestion returns the suggestion on how to recover from the error
func (e *AppError) RecoverySuggestion() string {
	return e.Recovery
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Err
}

// IsRetryable determines if the operation that caused the error should be retried
func (e *AppError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeNetwork, ErrorTypeTimeout:
		return true
	case ErrorTypeDatabase:
		// Only connection-level failures are worth retrying
		return e.StatusCode == http.StatusServiceUnavailable
	default:
		return false
	}
}

// NewValidationError creates a new validation error (400)
func NewValidationError(message string, errorCode string, suggestion string) *AppError {
	return &AppError{
		Type:          ErrorTypeValidation,
		Message:       message,
		StatusCode:    http.StatusBadRequest,
		ErrorCode:     errorCode,
		IsOperational: true,
		Recovery:      suggestion,
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string, errorCode string, suggestion string) *AppError {
	return &AppError{
		Type:          ErrorTypeNotFound,
		Message:       message,
		StatusCode:    http.StatusNotFound,
		ErrorCode:     errorCode,
		IsOperational: true,
		Recovery:      suggestion,
	}
}

// NewDatabaseError creates a new database error (500)
func NewDatabaseError(message string, errorCode string, err error) *AppError {
	return &AppError{
		Type:          ErrorTypeDatabase,
		Message:       message,
		StatusCode:    http.StatusInternalServerError,
		ErrorCode:     errorCode,
		IsOperational: true,
		Recovery:      "Check the database connection and schema, then retry.",
		Err:           err,
	}
}

// NewFilesystemError creates a new filesystem error (500)
func NewFilesystemError(message string, errorCode string, err error) *AppError {
	return &AppError{
		Type:          ErrorTypeFilesystem,
		Message:       message,
		StatusCode:    http.StatusInternalServerError,
		ErrorCode:     errorCode,
		IsOperational: true,
		Recovery:      "Verify the file exists and the process can read it.",
		Err:           err,
	}
}

// NewNetworkError creates a new downstream network error (502)
func NewNetworkError(message string, errorCode string, err error) *AppError {
	return &AppError{
		Type:          ErrorTypeNetwork,
		Message:       message,
		StatusCode:    http.StatusBadGateway,
		ErrorCode:     errorCode,
		IsOperational: true,
		Recovery:      "The downstream service is unreachable; try again later.",
		Err:           err,
	}
}

// NewTimeoutError creates a new timeout error (504)
func NewTimeoutError(message string, errorCode string, err error) *AppError {
	return &AppError{
		Type:          ErrorTypeTimeout,
		Message:       message,
		StatusCode:    http.StatusGatewayTimeout,
		ErrorCode:     errorCode,
		IsOperational: true,
		Recovery:      "Retry with a shorter delay.",
		Err:           err,
	}
}

// NewInternalError creates a new non-operational internal error (500)
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:          ErrorTypeInternal,
		Message:       message,
		StatusCode:    http.StatusInternalServerError,
		ErrorCode:     "INTERNAL",
		IsOperational: false,
		Err:           err,
	}
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
