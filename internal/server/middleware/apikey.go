package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
)

// APIKeyHeader is the header clients send their key in.
const APIKeyHeader = "X-API-Key"

// APIKey rejects requests without the configured key. An empty
// configured key disables authentication entirely, which is the
// default for local single-user deployments.
func APIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			supplied := r.Header.Get(APIKeyHeader)
			if subtle.ConstantTimeCompare([]byte(supplied), []byte(key)) != 1 {
				envelope := errors.NewErrorEnvelope("UNAUTHORIZED", "missing or invalid API key")
				if id := GetRequestID(r.Context()); id != "" {
					envelope = envelope.WithCorrelationID(id)
				}
				writeErrorResponse(w, envelope, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
