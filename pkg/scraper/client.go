package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// maxResponseBytes bounds how much of a storefront response we read.
// Store pages and API payloads are well under this.
const maxResponseBytes = 8 << 20

// client is the shared HTTP plumbing under every adapter. It applies
// the per-store rate limiter before each request and bounds response
// reads.
type client struct {
	http      *http.Client
	userAgent string
	limiter   *rate.Limiter
}

func newClient(timeout time.Duration, userAgent string, limiter *rate.Limiter) *client {
	return &client{
		http:      &http.Client{Timeout: timeout},
		userAgent: userAgent,
		limiter:   limiter,
	}
}

// get performs a rate-limited GET and returns the response body. The
// caller receives the status code even on non-2xx responses so adapters
// can map 404 to a confirmed absence.
func (c *client) get(ctx context.Context, url string, headers map[string]string) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response from %s: %w", url, err)
	}

	return resp.StatusCode, body, nil
}

// formatCount renders a numeric count API field for the verbatim
// string fields on a Record. Zero means the store did not report one.
func formatCount(n int64) string {
	if n <= 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}

// formatRating renders a store rating with one decimal place.
func formatRating(r float64) string {
	if r <= 0 {
		return ""
	}
	return strconv.FormatFloat(r, 'f', 1, 64)
}
