package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{"without code", ErrServer("boom"), "server: boom"},
		{"with code", ErrMissingParameter("messages"), "invalid_request (missing_parameter): messages is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		err  *APIError
		want int
	}{
		{NewAPIError(ErrorTypeInvalidRequest, ""), http.StatusBadRequest},
		{NewAPIError(ErrorTypeContextLength, ""), http.StatusBadRequest},
		{NewAPIError(ErrorTypeAuthentication, ""), http.StatusUnauthorized},
		{NewAPIError(ErrorTypePermission, ""), http.StatusForbidden},
		{NewAPIError(ErrorTypeNotFound, ""), http.StatusNotFound},
		{NewAPIError(ErrorTypeRateLimit, ""), http.StatusTooManyRequests},
		{NewAPIError(ErrorTypeOverloaded, ""), http.StatusServiceUnavailable},
		{NewAPIError(ErrorTypeServer, ""), http.StatusInternalServerError},
		{NewAPIError(ErrorTypeServer, "").WithStatusCode(http.StatusBadGateway), http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got := tt.err.HTTPStatusCode(); got != tt.want {
			t.Errorf("%s.HTTPStatusCode() = %d, want %d", tt.err.Type, got, tt.want)
		}
	}
}

func TestErrorTypeForStatus(t *testing.T) {
	tests := map[int]ErrorType{
		http.StatusBadRequest:          ErrorTypeInvalidRequest,
		http.StatusUnprocessableEntity: ErrorTypeInvalidRequest,
		http.StatusUnauthorized:        ErrorTypeAuthentication,
		http.StatusForbidden:           ErrorTypePermission,
		http.StatusNotFound:            ErrorTypeNotFound,
		http.StatusTooManyRequests:     ErrorTypeRateLimit,
		http.StatusBadGateway:          ErrorTypeOverloaded,
		http.StatusServiceUnavailable:  ErrorTypeOverloaded,
		http.StatusInternalServerError: ErrorTypeServer,
		http.StatusTeapot:              ErrorTypeServer,
	}
	for status, want := range tests {
		if got := ErrorTypeForStatus(status); got != want {
			t.Errorf("ErrorTypeForStatus(%d) = %q, want %q", status, got, want)
		}
	}
}

func TestToCanonicalError(t *testing.T) {
	apiErr := NewAPIError(ErrorTypeNotFound, "model not found").WithCode(ErrorCodeModelNotFound)

	if got := ToCanonicalError(fmt.Errorf("upstream: %w", apiErr)); got != apiErr {
		t.Errorf("wrapped APIError not unwrapped, got %+v", got)
	}

	got := ToCanonicalError(errors.New("dial tcp: connection refused"))
	if got.Type != ErrorTypeServer || got.Message != "dial tcp: connection refused" {
		t.Errorf("ToCanonicalError() = %+v", got)
	}
}
