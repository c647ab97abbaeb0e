// Package scraper implements per-storefront adapters that resolve an
// extension identifier into a metadata Record.
//
// Adapters implement a minimal capability surface: identifier
// validation and normalization, a Scrape call, and an optional
// name search. A Record with Found=false is a confirmed absence;
// network and parse failures surface as errors instead, so callers can
// tell "the store says no" apart from "we could not ask the store".
//
// Adapters hold no mutable state besides a shared HTTP client and rate
// limiter, so a fresh instance per task is cheap and safe.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/extrecon/extrecon/pkg/extension"
	"golang.org/x/time/rate"
)

// Sentinel errors for scrape operations.
var (
	// ErrUnknownStore indicates no adapter exists for the store.
	ErrUnknownStore = errors.New("unknown store")

	// ErrUpstreamStatus indicates the storefront answered with an
	// unexpected HTTP status.
	ErrUpstreamStatus = errors.New("unexpected upstream status")

	// ErrUpstreamFormat indicates the storefront response could not be
	// parsed.
	ErrUpstreamFormat = errors.New("malformed upstream response")
)

// ScrapeError wraps adapter errors with store and identifier context.
type ScrapeError struct {
	Store extension.Store
	ID    string
	Op    string
	Err   error
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Store, e.Op, e.ID, e.Err)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// Options configures a single Scrape call.
type Options struct {
	// IncludePermissions requests manifest permission extraction for
	// stores where it needs an extra fetch (Chrome). Stores whose API
	// responses already carry permissions ignore this flag.
	IncludePermissions bool
}

// Scraper resolves extension identifiers against one storefront.
//
// Implementations must be safe to construct per task and must not
// share mutable state across concurrent Scrape calls.
type Scraper interface {
	// Store identifies the storefront this adapter serves.
	Store() extension.Store

	// ValidateID reports whether the identifier matches the store's
	// format.
	ValidateID(id string) bool

	// NormalizeID canonicalizes an identifier (case, whitespace).
	NormalizeID(id string) string

	// ExtensionURL returns the public storefront page for an id.
	ExtensionURL(id string) string

	// Scrape fetches metadata for one identifier. A Found=false record
	// means the store confirmed absence.
	Scrape(ctx context.Context, id string, opts Options) (*extension.Record, error)

	// SearchByName searches the store by display name. Adapters without
	// a search API return an empty slice.
	SearchByName(ctx context.Context, name string, limit int) ([]extension.Record, error)
}

// Config configures the adapter registry.
type Config struct {
	// Timeout bounds each storefront request.
	// Default: 15s
	Timeout time.Duration

	// UserAgent is sent on storefront requests. Individual adapters
	// override it where a store expects a matching browser.
	UserAgent string

	// RateLimit is the maximum requests per second per store.
	// Zero means unlimited.
	RateLimit float64
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 15 * time.Second,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		RateLimit: 1,
	}
}

// Registry constructs adapters per task while sharing per-store rate
// limiters, so a bounded worker pool cannot hammer one storefront.
type Registry struct {
	cfg      Config
	limiters map[extension.Store]*rate.Limiter
}

// NewRegistry creates a registry for all known stores.
func NewRegistry(cfg Config) *Registry {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig().UserAgent
	}

	limiters := make(map[extension.Store]*rate.Limiter, len(extension.KnownStores()))
	if cfg.RateLimit > 0 {
		for _, store := range extension.KnownStores() {
			limiters[store] = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
		}
	}

	return &Registry{cfg: cfg, limiters: limiters}
}

// Stores lists the stores this registry can serve.
func (r *Registry) Stores() []extension.Store {
	return extension.KnownStores()
}

// Known reports whether a store has an adapter.
func (r *Registry) Known(store extension.Store) bool {
	switch store {
	case extension.StoreChrome, extension.StoreFirefox, extension.StoreEdge, extension.StoreSafari:
		return true
	default:
		return false
	}
}

// New constructs a fresh adapter for the store.
func (r *Registry) New(store extension.Store) (Scraper, error) {
	c := r.client(store)
	switch store {
	case extension.StoreChrome:
		return newChromeScraper(c), nil
	case extension.StoreFirefox:
		return newFirefoxScraper(c), nil
	case extension.StoreEdge:
		return newEdgeScraper(c), nil
	case extension.StoreSafari:
		return newSafariScraper(c), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, store)
	}
}

func (r *Registry) client(store extension.Store) *client {
	return newClient(r.cfg.Timeout, r.cfg.UserAgent, r.limiters[store])
}
