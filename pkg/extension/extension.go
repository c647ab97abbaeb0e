// Package extension defines the shared data model for browser-extension
// metadata collected from storefronts.
//
// A Record is the latest known truth for one (identifier, store) pair.
// A Snapshot is an immutable historical capture derived from Records as
// their observable state changes over time.
package extension

import (
	"strings"
	"time"
)

// Store identifies a browser-extension marketplace.
type Store string

const (
	// StoreChrome represents the Chrome Web Store.
	StoreChrome Store = "chrome"

	// StoreFirefox represents Mozilla's addons.mozilla.org.
	StoreFirefox Store = "firefox"

	// StoreEdge represents Microsoft Edge Add-ons.
	StoreEdge Store = "edge"

	// StoreSafari represents Safari extensions on the App Store.
	StoreSafari Store = "safari"
)

// String returns the string representation of the store.
func (s Store) String() string {
	return string(s)
}

// KnownStores lists every store with a scraper adapter, in the order
// results are presented.
func KnownStores() []Store {
	return []Store{StoreChrome, StoreFirefox, StoreEdge, StoreSafari}
}

// ParseStore normalizes a user-supplied store name. The second return
// value reports whether the name maps to a known store.
func ParseStore(name string) (Store, bool) {
	switch Store(strings.ToLower(strings.TrimSpace(name))) {
	case StoreChrome:
		return StoreChrome, true
	case StoreFirefox:
		return StoreFirefox, true
	case StoreEdge:
		return StoreEdge, true
	case StoreSafari:
		return StoreSafari, true
	default:
		return "", false
	}
}

// Record is the unified metadata for one extension in one store.
//
// Found distinguishes a confirmed absence (the store said "no such
// extension") from scrape errors, which never produce a Record at all.
// Not-found Records retain only identifying and URL fields.
type Record struct {
	// ID is the store-specific extension identifier.
	ID string `json:"extension_id"`

	// Store is the marketplace this record was scraped from.
	Store Store `json:"store"`

	// Name is the display name shown on the storefront.
	Name string `json:"name"`

	Publisher   string `json:"publisher,omitempty"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`

	// UserCount is the storefront's install-count text, kept verbatim
	// (e.g. "2,000,000+ users") since formats differ per store.
	UserCount string `json:"user_count,omitempty"`

	Category    string `json:"category,omitempty"`
	Rating      string `json:"rating,omitempty"`
	RatingCount string `json:"rating_count,omitempty"`
	LastUpdated string `json:"last_updated,omitempty"`

	// StoreURL is the canonical storefront page for this extension.
	StoreURL string `json:"store_url,omitempty"`

	IconURL          string `json:"icon_url,omitempty"`
	HomepageURL      string `json:"homepage_url,omitempty"`
	PrivacyPolicyURL string `json:"privacy_policy_url,omitempty"`

	// Permissions is the unordered set of permissions declared by the
	// extension's manifest, when the store exposes them.
	Permissions []string `json:"permissions,omitempty"`

	// Found reports whether the store confirmed the extension exists.
	Found bool `json:"found"`

	// Cached reports whether this record was served from the cache
	// rather than a live scrape. Never persisted.
	Cached bool `json:"cached,omitempty"`

	// Delisted reports that the extension was previously confirmed
	// present in this store and is now confirmed absent. Derived at
	// lookup time, never persisted.
	Delisted bool `json:"delisted,omitempty"`

	// ScrapedAt is when this record was produced by a scrape.
	ScrapedAt time.Time `json:"scraped_at,omitempty"`
}

// Key returns the cache key for this record.
func (r *Record) Key() (string, Store) {
	return r.ID, r.Store
}

// NotFound creates a confirmed-absence record for an identifier.
// Only identifying and URL fields are populated.
func NotFound(id string, store Store, storeURL string) *Record {
	return &Record{
		ID:       id,
		Store:    store,
		Name:     "Not Found",
		StoreURL: storeURL,
		Found:    false,
	}
}

// Snapshot is an append-only historical capture of the fields whose
// changes are tracked over time.
type Snapshot struct {
	ID          string    `json:"extension_id"`
	Store       Store     `json:"store"`
	Version     string    `json:"version"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	CapturedAt  time.Time `json:"captured_at"`
}

// PermissionSet returns the snapshot's permissions as a set.
func (s *Snapshot) PermissionSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Permissions))
	for _, p := range s.Permissions {
		set[p] = struct{}{}
	}
	return set
}

// SamePermissions reports whether two permission lists contain the same
// set of permissions, ignoring order and duplicates.
func SamePermissions(a, b []string) bool {
	as := make(map[string]struct{}, len(a))
	for _, p := range a {
		as[p] = struct{}{}
	}
	bs := make(map[string]struct{}, len(b))
	for _, p := range b {
		bs[p] = struct{}{}
	}
	if len(as) != len(bs) {
		return false
	}
	for p := range as {
		if _, ok := bs[p]; !ok {
			return false
		}
	}
	return true
}
