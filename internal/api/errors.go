package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
)

// Error types for cloud API operations

// ErrorType represents the category of error that occurred
type ErrorType int

const (
	// ErrTypeNetwork indicates a network-level error (connection refused, timeout, etc.)
	ErrTypeNetwork ErrorType = iota
	// ErrTypeAuth indicates an authentication failure (invalid or expired credentials)
	ErrTypeAuth
	// ErrTypeHTTP indicates an HTTP-level error (non-200 status code)
	ErrTypeHTTP
	// ErrTypeParse indicates a parsing error (malformed JSON, invalid response)
	ErrTypeParse
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeNetwork:
		return "Network Error"
	case ErrTypeAuth:
		return "Authentication Error"
	case ErrTypeHTTP:
		return "HTTP Error"
	case ErrTypeParse:
		return "Parse Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// APIError represents an error that occurred while talking to the vendor cloud
type APIError struct {
	Type       ErrorType // Category of error
	Message    string    // Human-readable error message
	StatusCode int       // HTTP status code (if applicable)
	Err        error     // Underlying error (if any)
	Retryable  bool      // Whether the next scheduled poll may succeed
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *APIError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a network-level error. Timeouts are marked
// retryable so the next scheduled poll retries them.
func NewNetworkError(message string, err error) *APIError {
	retryable := true
	if err != nil && os.IsTimeout(err) {
		message = message + " (timed out)"
	}
	return &APIError{
		Type:      ErrTypeNetwork,
		Message:   message,
		Err:       err,
		Retryable: retryable,
	}
}

// NewAuthError creates an authentication error. Auth errors are never
// retried automatically; the caller must obtain fresh credentials.
func NewAuthError(message string) *APIError {
	return &APIError{
		Type:       ErrTypeAuth,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Retryable:  false,
	}
}

// NewHTTPError creates an HTTP-level error
func NewHTTPError(statusCode int, message string) *APIError {
	retryable := statusCode >= 500 // Server errors are retryable
	return &APIError{
		Type:       ErrTypeHTTP,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
	}
}

// NewParseError creates a parsing error
func NewParseError(message string, err error) *APIError {
	return &APIError{
		Type:      ErrTypeParse,
		Message:   message,
		Err:       err,
		Retryable: false,
	}
}

// IsAuthError checks if an error is an authentication error
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Type == ErrTypeAuth
	}
	return false
}

// IsNetworkError checks if an error is a network error
func IsNetworkError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Type == ErrTypeNetwork
	}
	return false
}

// IsRetryable checks if the next scheduled poll may succeed
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	// Unknown errors are not retryable by default
	return false
}
