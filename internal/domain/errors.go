// Package domain provides canonical error types for the relay.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of an upstream or relay error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeAuthentication indicates the upstream rejected our credentials.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypePermission indicates a permission/authorization failure.
	ErrorTypePermission ErrorType = "permission"

	// ErrorTypeNotFound indicates a resource (model, vector store, file) was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeRateLimit indicates rate limiting was triggered upstream.
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeOverloaded indicates the upstream service is overloaded.
	ErrorTypeOverloaded ErrorType = "overloaded"

	// ErrorTypeServer indicates an internal server error.
	ErrorTypeServer ErrorType = "server"

	// ErrorTypeContextLength indicates the context length was exceeded.
	ErrorTypeContextLength ErrorType = "context_length"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeContextLengthExceeded ErrorCode = "context_length_exceeded"
	ErrorCodeRateLimitExceeded     ErrorCode = "rate_limit_exceeded"
	ErrorCodeInvalidAPIKey         ErrorCode = "invalid_api_key"
	ErrorCodeModelNotFound         ErrorCode = "model_not_found"
	ErrorCodeMissingParameter      ErrorCode = "missing_parameter"
)

// APIError is the canonical error surfaced by the upstream client and
// translated by the frontdoor handlers.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Param is the parameter that caused the error (if applicable)
	Param string `json:"param,omitempty"`

	// StatusCode is the HTTP status the upstream answered with, when known.
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest, ErrorTypeContextLength:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypePermission:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithParam adds a parameter name to the error.
func (e *APIError) WithParam(param string) *APIError {
	e.Param = param
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrMissingParameter creates an invalid request error naming the absent parameter.
func ErrMissingParameter(param string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, param+" is required").
		WithCode(ErrorCodeMissingParameter).
		WithParam(param)
}

// ErrServer creates a server error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}

// ErrorTypeForStatus picks a canonical type for an upstream status code
// when the body carried no usable error object.
func ErrorTypeForStatus(status int) ErrorType {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrorTypeInvalidRequest
	case http.StatusUnauthorized:
		return ErrorTypeAuthentication
	case http.StatusForbidden:
		return ErrorTypePermission
	case http.StatusNotFound:
		return ErrorTypeNotFound
	case http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return ErrorTypeOverloaded
	default:
		return ErrorTypeServer
	}
}

// ToCanonicalError converts any error to an *APIError.
// If the error already wraps one, it is returned directly.
func ToCanonicalError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrServer(err.Error())
}
