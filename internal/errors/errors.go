package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a gepdash error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrConflict       ErrorCode = "CONFLICT"        // 409
	ErrTransport      ErrorCode = "TRANSPORT"       // 502 or the remote status
	ErrClosed         ErrorCode = "CLOSED"          // 503
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// AppError represents a structured error with code, status, and details.
type AppError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	cause error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *AppError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *AppError {
	return &AppError{
		Code:    ErrInvalidRequest,
		Status:  http.StatusBadRequest,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a record that cannot be found.
func NewNotFound(kind, id string) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("%s not found: %s", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

// NewHTTPStatus classifies a non-2xx response from the remote service.
// The status code is the only signal the remote guarantees, so the code is
// derived from it alone; excerpt is kept in Details for logging.
func NewHTTPStatus(status int, method, path, excerpt string) *AppError {
	code := ErrTransport
	switch status {
	case http.StatusNotFound:
		code = ErrNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		code = ErrInvalidRequest
	case http.StatusConflict:
		code = ErrConflict
	}

	details := map[string]any{
		"method": method,
		"path":   path,
		"status": status,
	}
	if excerpt != "" {
		details["body"] = excerpt
	}

	return &AppError{
		Code:    code,
		Status:  status,
		Message: fmt.Sprintf("API error: %d", status),
		Details: details,
	}
}

// NewTransport creates an error for a request that never produced a response.
func NewTransport(method, path string, err error) *AppError {
	msg := "request failed"
	if err != nil {
		msg = err.Error()
	}
	return &AppError{
		Code:    ErrTransport,
		Status:  http.StatusBadGateway,
		Message: msg,
		Details: map[string]any{"method": method, "path": path},
		cause:   err,
	}
}

// NewClosed creates an error for operations on a disposed cache or session.
func NewClosed(what string) *AppError {
	return &AppError{
		Code:    ErrClosed,
		Status:  http.StatusServiceUnavailable,
		Message: what + " is closed",
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the original error is kept in Details.
func NewInternal(err error) *AppError {
	e := &AppError{
		Code:    ErrInternal,
		Status:  http.StatusInternalServerError,
		Message: "an internal error occurred",
		Details: map[string]any{},
		cause:   err,
	}
	if err != nil {
		e.Details["internal_error"] = err.Error()
	}
	return e
}

// Is checks if an error is an AppError with the given code.
// Wrapped errors are unwrapped.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// As returns the AppError in err's chain, or nil.
func As(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}
