// Package recon orchestrates single-extension lookups: cache first,
// storefront scrape on miss, delisting detection, and blocklist
// annotation. Bulk jobs run the same pipeline through their own
// executor; this package serves interactive lookups from the API and
// the CLI.
package recon

import (
	"context"
	"errors"
	"fmt"

	"github.com/extrecon/extrecon/pkg/blocklist"
	"github.com/extrecon/extrecon/pkg/cachestore"
	"github.com/extrecon/extrecon/pkg/extension"
	"github.com/extrecon/extrecon/pkg/scraper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidID indicates an identifier that does not match the target
// store's format.
var ErrInvalidID = errors.New("invalid extension identifier for store")

// AdapterRegistry constructs storefront adapters. *scraper.Registry is
// the production implementation.
type AdapterRegistry interface {
	Stores() []extension.Store
	New(store extension.Store) (scraper.Scraper, error)
}

// LookupOptions tunes one lookup.
type LookupOptions struct {
	// IncludePermissions requests manifest permission extraction.
	IncludePermissions bool

	// ClientIP and UserAgent are recorded in the search log when set.
	ClientIP  string
	UserAgent string

	// SkipLog suppresses the search-log entry.
	SkipLog bool
}

// Result is the outcome of one (identifier, store) lookup.
type Result struct {
	Record *extension.Record `json:"record"`

	// Previous carries the last-found metadata when Record is a
	// delisting tombstone.
	Previous *extension.Record `json:"previous,omitempty"`

	// Blocklist lists threat-feed matches for the identifier.
	Blocklist []blocklist.Match `json:"blocklist,omitempty"`
}

// StoreResult pairs a per-store outcome with the store it came from,
// for lookups fanned out across storefronts.
type StoreResult struct {
	Store  extension.Store `json:"store"`
	Result *Result         `json:"result,omitempty"`
	Err    error           `json:"-"`
	Error  string          `json:"error,omitempty"`
}

// Service wires the lookup pipeline together.
type Service struct {
	store    *cachestore.Store
	registry AdapterRegistry
	bl       *blocklist.Service
	log      *zap.Logger
}

// NewService constructs a lookup service. The blocklist service and
// logger may be nil.
func NewService(store *cachestore.Store, registry AdapterRegistry, bl *blocklist.Service, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, registry: registry, bl: bl, log: log}
}

// Lookup resolves one identifier against one store. Fresh cache rows
// are served without touching the storefront; on a miss the storefront
// is scraped and the result saved. When a previously found extension
// comes back absent, the returned record is marked delisted and
// Previous carries the last-found metadata.
func (s *Service) Lookup(ctx context.Context, store extension.Store, id string, opts LookupOptions) (*Result, error) {
	sc, err := s.registry.New(store)
	if err != nil {
		return nil, err
	}

	id = sc.NormalizeID(id)
	if !sc.ValidateID(id) {
		return nil, fmt.Errorf("%w: %q (%s)", ErrInvalidID, id, store)
	}

	result, err := s.resolve(ctx, sc, store, id, opts)
	if err != nil {
		return nil, err
	}

	if !opts.SkipLog {
		var found []string
		if result.Record.Found {
			found = []string{string(store)}
		}
		if logErr := s.store.LogSearch(ctx, id, found, opts.ClientIP, opts.UserAgent); logErr != nil {
			s.log.Warn("search log write failed", zap.Error(logErr))
		}
	}
	return result, nil
}

// LookupAll fans one identifier out across every known store,
// skipping stores whose identifier format does not match. Results come
// back in registry store order; per-store scrape failures are reported
// in the entry, not as an overall error.
func (s *Service) LookupAll(ctx context.Context, id string, opts LookupOptions) ([]StoreResult, error) {
	stores := s.registry.Stores()
	results := make([]StoreResult, len(stores))

	g, gctx := errgroup.WithContext(ctx)
	for i, store := range stores {
		results[i].Store = store

		sc, err := s.registry.New(store)
		if err != nil {
			results[i].Err = err
			results[i].Error = err.Error()
			continue
		}
		nid := sc.NormalizeID(id)
		if !sc.ValidateID(nid) {
			continue
		}

		i, store, sc, nid := i, store, sc, nid
		g.Go(func() error {
			res, err := s.resolve(gctx, sc, store, nid, opts)
			if err != nil {
				results[i].Err = err
				results[i].Error = err.Error()
				return nil
			}
			results[i].Result = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !opts.SkipLog {
		var found []string
		for _, r := range results {
			if r.Result != nil && r.Result.Record.Found {
				found = append(found, string(r.Store))
			}
		}
		if logErr := s.store.LogSearch(ctx, id, found, opts.ClientIP, opts.UserAgent); logErr != nil {
			s.log.Warn("search log write failed", zap.Error(logErr))
		}
	}
	return results, nil
}

// Search queries one storefront by display name.
func (s *Service) Search(ctx context.Context, store extension.Store, name string, limit int) ([]extension.Record, error) {
	sc, err := s.registry.New(store)
	if err != nil {
		return nil, err
	}
	return sc.SearchByName(ctx, name, limit)
}

// resolve runs the cache-scrape-save pipeline for a validated id.
func (s *Service) resolve(ctx context.Context, sc scraper.Scraper, store extension.Store, id string, opts LookupOptions) (*Result, error) {
	if cached, err := s.store.Get(ctx, id, store); err != nil {
		return nil, err
	} else if cached != nil {
		cached.Cached = true
		result := &Result{Record: cached}
		s.annotate(ctx, id, result)
		return result, nil
	}

	rec, err := sc.Scrape(ctx, id, scraper.Options{IncludePermissions: opts.IncludePermissions})
	if err != nil {
		return nil, err
	}

	result := &Result{Record: rec}
	if !rec.Found {
		// The last-found row must be read before the save below
		// replaces it.
		prev, err := s.store.GetLastFound(ctx, id, store)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			rec.Delisted = true
			result.Previous = prev
		}
	}

	if err := s.store.Save(ctx, rec); err != nil {
		return nil, err
	}
	s.annotate(ctx, id, result)
	return result, nil
}

// annotate attaches blocklist matches, best effort.
func (s *Service) annotate(ctx context.Context, id string, result *Result) {
	if s.bl == nil {
		return
	}
	matches, err := s.bl.Check(ctx, id)
	if err != nil {
		s.log.Warn("blocklist check failed", zap.String("id", id), zap.Error(err))
		return
	}
	result.Blocklist = matches
}
