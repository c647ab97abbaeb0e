// Package middleware provides the HTTP middleware stack for the API
// server: request correlation, panic recovery, API-key auth, and
// client rate limiting.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/extrecon/extrecon/internal/observability"
	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"
)

// ErrorResponse is the JSON body written for errors raised inside the
// middleware stack. Matches the handler-level error contract.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error payload.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Recovery converts panics into 500 responses instead of killing the
// connection. The response carries the request id when one is present.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				observability.CLILogger.Error("panic in handler",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", GetRequestID(r.Context())))

				envelope := errors.NewErrorEnvelope("INTERNAL_ERROR",
					fmt.Sprintf("panic: %v", rec))
				if id := GetRequestID(r.Context()); id != "" {
					envelope = envelope.WithCorrelationID(id)
				}
				writeErrorResponse(w, envelope, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is an alias for Recovery kept for middleware-stack
// readability at the registration site.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

// writeErrorResponse translates an error envelope into the HTTP error
// contract.
func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	resp := ErrorResponse{
		Error: ErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			RequestID: envelope.CorrelationID,
			Details:   envelope.Context,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}
