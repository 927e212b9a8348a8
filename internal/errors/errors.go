// Package errors defines the structured error types rendered on the HTTP
// surface: a plain APIError for machine consumption and RFC 7807 problem
// details for the admin endpoints.
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/render"
)

// APIError represents a structured API error response.
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render.
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// New creates a new APIError.
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates a new APIError with additional details.
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidRequest  = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
	ErrUnauthorized    = New(http.StatusUnauthorized, "UNAUTHORIZED", "Admin credential missing or invalid")
	ErrLicenseNotFound = New(http.StatusNotFound, "LICENSE_NOT_FOUND", "The specified license key was not found")
	ErrDeviceNotFound  = New(http.StatusNotFound, "DEVICE_NOT_FOUND", "The specified device was not found")
	ErrRateLimited     = New(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded")
	ErrInternalServer  = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
)

// InvalidRequestWithError creates an invalid request error carrying the cause.
func InvalidRequestWithError(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
}

// ValidationFailedWithError creates a validation error carrying the failed
// constraints, distinguishing a well-formed but invalid payload from a
// malformed one.
func ValidationFailedWithError(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", err.Error())
}

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// MarshalJSON flattens extensions into the top-level object.
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := map[string]interface{}{
		"type":   pd.Type,
		"title":  pd.Title,
		"status": pd.Status,
	}
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	for k, v := range pd.Extensions {
		data[k] = v
	}
	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error.
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details.
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// Problem converts an APIError into problem details for the admin surface,
// keeping the machine-readable error code as an extension.
func Problem(e *APIError, instance string) *ProblemDetails {
	pd := NewProblemDetails(e.StatusCode, "about:blank", http.StatusText(e.StatusCode),
		e.Message, instance).WithExtension("error_code", e.ErrorCode)
	if e.Details != nil {
		pd.WithExtension("details", e.Details)
	}
	return pd
}

// RenderProblem writes pd as application/problem+json. render.JSON always
// stamps application/json, so problems bypass it.
func RenderProblem(w http.ResponseWriter, pd *ProblemDetails) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(pd.Status)
	_ = json.NewEncoder(w).Encode(pd)
}
