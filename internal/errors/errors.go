// Package errors defines the HTTP error response contract shared by
// server middleware and handlers.
package errors

// HTTPErrorResponse is the JSON body for every non-2xx API response.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// HTTPErrorDetail carries the machine-readable error payload.
type HTTPErrorDetail struct {
	// Code is a stable machine-readable error code (e.g. "NOT_FOUND").
	Code string `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// RequestID correlates the response with server logs.
	RequestID string `json:"request_id,omitempty"`

	// Details carries optional structured context.
	Details map[string]any `json:"details,omitempty"`
}

// Common error codes.
const (
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeBadRequest       = "BAD_REQUEST"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeTooManyRequests  = "TOO_MANY_REQUESTS"
	CodeConflict         = "CONFLICT"
	CodeInternal         = "INTERNAL_ERROR"
	CodeUpstream         = "UPSTREAM_ERROR"
)
