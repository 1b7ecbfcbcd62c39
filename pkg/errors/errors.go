// Package errors defines custom error types and error handling utilities for the portal gateway.
// This package provides structured error types that map session and upstream failures to HTTP status codes.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of failure across the gateway.
type ErrorCode string

const (
	// ErrCodeInvalidSessionData indicates an incomplete or malformed session was rejected
	ErrCodeInvalidSessionData ErrorCode = "invalid_session_data"

	// ErrCodeRefreshFailed indicates one refresh attempt failed or timed out
	ErrCodeRefreshFailed ErrorCode = "refresh_failed"

	// ErrCodeRequiresReauthentication indicates the user must log in again
	ErrCodeRequiresReauthentication ErrorCode = "requires_reauthentication"

	// ErrCodeRequestFailed indicates an upstream call failed for a non-authentication reason
	ErrCodeRequestFailed ErrorCode = "request_failed"

	// ErrCodeInvalidRequest indicates the inbound request is malformed
	ErrCodeInvalidRequest ErrorCode = "invalid_request"

	// ErrCodeInternal indicates an unexpected server-side failure
	ErrCodeInternal ErrorCode = "internal_error"

	// ErrCodeRateLimitExceeded indicates the caller is being throttled
	ErrCodeRateLimitExceeded ErrorCode = "rate_limit_exceeded"

	// ErrCodeNotConfigured indicates an optional collaborator is disabled
	ErrCodeNotConfigured ErrorCode = "not_configured"
)

// ================================================================================
// Base Error Interface
// ================================================================================

// PortalError represents a structured error with additional metadata
type PortalError interface {
	error

	// Code returns the gateway error code
	Code() ErrorCode

	// HTTPStatus returns the HTTP status code
	HTTPStatus() int

	// Description returns a human-readable description
	Description() string

	// Unwrap returns the underlying error for error chain support
	Unwrap() error

	// WithCause adds a cause error to the error chain
	WithCause(cause error) PortalError

	// WithMetadata adds additional context metadata
	WithMetadata(key string, value interface{}) PortalError

	// Metadata returns all metadata
	Metadata() map[string]interface{}
}

// ================================================================================
// Base Error Implementation
// ================================================================================

// baseError is the internal implementation of PortalError
type baseError struct {
	code        ErrorCode
	httpStatus  int
	description string
	message     string
	cause       error
	metadata    map[string]interface{}
}

// Error implements the error interface
func (e *baseError) Error() string {
	if e.message != "" {
		return e.message
	}
	return e.description
}

// Code returns the gateway error code
func (e *baseError) Code() ErrorCode {
	return e.code
}

// HTTPStatus returns the HTTP status code
func (e *baseError) HTTPStatus() int {
	return e.httpStatus
}

// Description returns the error description
func (e *baseError) Description() string {
	return e.description
}

// Unwrap returns the underlying cause error
func (e *baseError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause error to the error chain
func (e *baseError) WithCause(cause error) PortalError {
	e.cause = cause
	return e
}

// WithMetadata adds additional context metadata
func (e *baseError) WithMetadata(key string, value interface{}) PortalError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

// Metadata returns all metadata
func (e *baseError) Metadata() map[string]interface{} {
	return e.metadata
}

// ================================================================================
// Error Constructor
// ================================================================================

// NewError creates a new PortalError with the specified parameters
func NewError(code ErrorCode, httpStatus int, description string, message string) PortalError {
	return &baseError{
		code:        code,
		httpStatus:  httpStatus,
		description: description,
		message:     message,
		metadata:    make(map[string]interface{}),
	}
}

// ================================================================================
// Session Error Constructors
// ================================================================================

// ErrInvalidSessionData is returned when a session is missing a required field or carries an unreadable token
func ErrInvalidSessionData(reason string) PortalError {
	return NewError(
		ErrCodeInvalidSessionData,
		http.StatusBadRequest,
		"The session data is incomplete or malformed.",
		fmt.Sprintf("invalid session data: %s", reason),
	).WithMetadata("reason", reason)
}

// ErrRefreshFailed is returned when a single refresh attempt fails or times out
func ErrRefreshFailed(reason string) PortalError {
	return NewError(
		ErrCodeRefreshFailed,
		http.StatusUnauthorized,
		"The access token could not be refreshed.",
		fmt.Sprintf("token refresh failed: %s", reason),
	).WithMetadata("reason", reason)
}

// ErrRequiresReauthentication is returned when the session is gone and the user must log in again
func ErrRequiresReauthentication(reason string) PortalError {
	return NewError(
		ErrCodeRequiresReauthentication,
		http.StatusUnauthorized,
		"The session has ended. Please log in again.",
		fmt.Sprintf("re-authentication required: %s", reason),
	).WithMetadata("reason", reason)
}

// ErrRequestFailed is returned for any upstream failure that is not an authentication rejection.
// A zero status means the request never produced an HTTP response.
func ErrRequestFailed(status int, code string, message string) PortalError {
	httpStatus := status
	if httpStatus < 400 || httpStatus > 599 {
		httpStatus = http.StatusBadGateway
	}
	return NewError(
		ErrCodeRequestFailed,
		httpStatus,
		"The upstream request failed.",
		message,
	).WithMetadata("status", status).
		WithMetadata("upstream_code", code)
}

// ================================================================================
// General Error Constructors
// ================================================================================

// ErrInvalidRequest creates an invalid_request error
func ErrInvalidRequest(message string) PortalError {
	return NewError(
		ErrCodeInvalidRequest,
		http.StatusBadRequest,
		"The request is missing a required parameter, includes an invalid parameter value, or is otherwise malformed.",
		message,
	)
}

// ErrInternal creates an internal_error error
func ErrInternal(message string) PortalError {
	return NewError(
		ErrCodeInternal,
		http.StatusInternalServerError,
		"The gateway encountered an unexpected condition that prevented it from fulfilling the request.",
		message,
	)
}

// ErrRateLimitExceeded creates a rate limit exceeded error
func ErrRateLimitExceeded(scope string, limit float64) PortalError {
	return NewError(
		ErrCodeRateLimitExceeded,
		http.StatusTooManyRequests,
		"Rate limit exceeded. Please try again later.",
		fmt.Sprintf("rate limit exceeded for scope '%s': %.2f requests/s", scope, limit),
	).WithMetadata("scope", scope).
		WithMetadata("limit", limit)
}

// ErrNotConfigured creates an error for a disabled optional feature
func ErrNotConfigured(feature string) PortalError {
	return NewError(
		ErrCodeNotConfigured,
		http.StatusServiceUnavailable,
		"The requested feature is not configured on this gateway.",
		fmt.Sprintf("%s is not configured", feature),
	).WithMetadata("feature", feature)
}

// ErrMissingRequiredParameter creates a missing required parameter error
func ErrMissingRequiredParameter(paramName string) PortalError {
	return ErrInvalidRequest(fmt.Sprintf("missing required parameter: %s", paramName)).
		WithMetadata("parameter", paramName)
}

// ================================================================================
// Error Validation Utilities
// ================================================================================

// AsPortalError finds the first PortalError in err's chain
func AsPortalError(err error) (PortalError, bool) {
	var pe PortalError
	if stderrors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// HasCode reports whether any PortalError in err's chain carries code
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if pe, ok := err.(PortalError); ok && pe.Code() == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsRequiresReauthentication reports whether the user must log in again
func IsRequiresReauthentication(err error) bool {
	return HasCode(err, ErrCodeRequiresReauthentication)
}

// WrapError wraps a generic error into a PortalError
func WrapError(err error, code ErrorCode, message string) PortalError {
	var httpStatus int

	switch code {
	case ErrCodeInvalidRequest, ErrCodeInvalidSessionData:
		httpStatus = http.StatusBadRequest
	case ErrCodeRefreshFailed, ErrCodeRequiresReauthentication:
		httpStatus = http.StatusUnauthorized
	case ErrCodeRequestFailed:
		httpStatus = http.StatusBadGateway
	case ErrCodeRateLimitExceeded:
		httpStatus = http.StatusTooManyRequests
	default:
		httpStatus = http.StatusInternalServerError
	}

	return NewError(code, httpStatus, err.Error(), message).WithCause(err)
}

// ShouldLogError determines if an error should be logged based on severity
func ShouldLogError(err error) bool {
	if pe, ok := AsPortalError(err); ok {
		// Client errors are expected, except throttling
		status := pe.HTTPStatus()
		return status >= 500 || status == http.StatusTooManyRequests
	}
	return true
}

//Personal.AI order the ending
