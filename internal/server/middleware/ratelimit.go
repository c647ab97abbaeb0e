package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-client request limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per client IP.
	// Zero disables limiting.
	RequestsPerSecond float64

	// Burst is the per-client burst allowance.
	// Default: 10
	Burst int
}

// RateLimit throttles requests per client IP with a token bucket per
// client. Idle client buckets are evicted after an hour so the map
// cannot grow without bound.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}

	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var mu sync.Mutex
	clients := make(map[string]*client)

	evict := func(now time.Time) {
		for ip, c := range clients {
			if now.Sub(c.lastSeen) > time.Hour {
				delete(clients, ip)
			}
		}
	}

	return func(next http.Handler) http.Handler {
		if cfg.RequestsPerSecond <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			mu.Lock()
			now := time.Now()
			c, ok := clients[ip]
			if !ok {
				// The new bucket is stamped before the idle sweep runs,
				// otherwise the sweep would evict it immediately.
				c = &client{
					limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
					lastSeen: now,
				}
				clients[ip] = c
				evict(now)
			}
			c.lastSeen = now
			allowed := c.limiter.Allow()
			mu.Unlock()

			if !allowed {
				envelope := errors.NewErrorEnvelope("TOO_MANY_REQUESTS", "rate limit exceeded")
				if id := GetRequestID(r.Context()); id != "" {
					envelope = envelope.WithCorrelationID(id)
				}
				writeErrorResponse(w, envelope, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the client address, honoring the first hop of
// X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
