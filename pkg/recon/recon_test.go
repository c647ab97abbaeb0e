package recon

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/extrecon/extrecon/pkg/cachestore"
	"github.com/extrecon/extrecon/pkg/extension"
	"github.com/extrecon/extrecon/pkg/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScraper struct {
	store   extension.Store
	goneIDs map[string]bool
	failIDs map[string]bool
	calls   atomic.Int64
}

func (f *fakeScraper) Store() extension.Store { return f.store }

func (f *fakeScraper) ValidateID(id string) bool {
	return !strings.HasPrefix(id, "bad-")
}

func (f *fakeScraper) NormalizeID(id string) string {
	return strings.TrimSpace(strings.ToLower(id))
}

func (f *fakeScraper) ExtensionURL(id string) string {
	return fmt.Sprintf("https://store.example/%s/%s", f.store, id)
}

func (f *fakeScraper) Scrape(ctx context.Context, id string, opts scraper.Options) (*extension.Record, error) {
	f.calls.Add(1)
	if f.failIDs[id] {
		return nil, fmt.Errorf("storefront exploded for %s", id)
	}
	if f.goneIDs[id] {
		return extension.NotFound(id, f.store, f.ExtensionURL(id)), nil
	}
	return &extension.Record{
		ID:      id,
		Store:   f.store,
		Name:    "Extension " + id,
		Version: "2.1.0",
		Found:   true,
	}, nil
}

func (f *fakeScraper) SearchByName(ctx context.Context, name string, limit int) ([]extension.Record, error) {
	return []extension.Record{{ID: "search-hit", Store: f.store, Name: name, Found: true}}, nil
}

type fakeRegistry struct {
	scrapers map[extension.Store]*fakeScraper
}

func newFakeRegistry(stores ...extension.Store) *fakeRegistry {
	reg := &fakeRegistry{scrapers: make(map[extension.Store]*fakeScraper)}
	for _, st := range stores {
		reg.scrapers[st] = &fakeScraper{
			store:   st,
			goneIDs: make(map[string]bool),
			failIDs: make(map[string]bool),
		}
	}
	return reg
}

func (r *fakeRegistry) Stores() []extension.Store {
	stores := make([]extension.Store, 0, len(r.scrapers))
	for st := range r.scrapers {
		stores = append(stores, st)
	}
	return stores
}

func (r *fakeRegistry) New(store extension.Store) (scraper.Scraper, error) {
	sc, ok := r.scrapers[store]
	if !ok {
		return nil, scraper.ErrUnknownStore
	}
	return sc, nil
}

func newTestService(t *testing.T, freshness *time.Duration) (*Service, *cachestore.Store, *fakeRegistry) {
	t.Helper()
	store, err := cachestore.Open(context.Background(), cachestore.Config{
		Path:      ":memory:",
		Freshness: freshness,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := newFakeRegistry(extension.StoreChrome, extension.StoreFirefox)
	return NewService(store, reg, nil, nil), store, reg
}

func TestLookupScrapesAndCaches(t *testing.T) {
	svc, store, reg := newTestService(t, nil)
	ctx := context.Background()

	res, err := svc.Lookup(ctx, extension.StoreChrome, "My-Ext", LookupOptions{})
	require.NoError(t, err)
	assert.Equal(t, "my-ext", res.Record.ID)
	assert.True(t, res.Record.Found)
	assert.False(t, res.Record.Cached)

	// Second lookup is served from cache without another scrape.
	res, err = svc.Lookup(ctx, extension.StoreChrome, "my-ext", LookupOptions{})
	require.NoError(t, err)
	assert.True(t, res.Record.Cached)
	assert.Equal(t, int64(1), reg.scrapers[extension.StoreChrome].calls.Load())

	saved, err := store.Get(ctx, "my-ext", extension.StoreChrome)
	require.NoError(t, err)
	require.NotNil(t, saved)
}

func TestLookupRejectsInvalidID(t *testing.T) {
	svc, _, reg := newTestService(t, nil)

	_, err := svc.Lookup(context.Background(), extension.StoreChrome, "bad-id", LookupOptions{})
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.Zero(t, reg.scrapers[extension.StoreChrome].calls.Load())
}

func TestLookupUnknownStore(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	_, err := svc.Lookup(context.Background(), extension.Store("opera"), "some-ext", LookupOptions{})
	assert.ErrorIs(t, err, scraper.ErrUnknownStore)
}

func TestLookupDetectsDelisting(t *testing.T) {
	zero := time.Duration(0)
	svc, store, reg := newTestService(t, &zero)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &extension.Record{
		ID:      "vanishing",
		Store:   extension.StoreChrome,
		Name:    "Vanishing Act",
		Version: "3.0.0",
		Found:   true,
	}))

	reg.scrapers[extension.StoreChrome].goneIDs["vanishing"] = true

	res, err := svc.Lookup(ctx, extension.StoreChrome, "vanishing", LookupOptions{})
	require.NoError(t, err)
	assert.False(t, res.Record.Found)
	assert.True(t, res.Record.Delisted)
	require.NotNil(t, res.Previous)
	assert.Equal(t, "Vanishing Act", res.Previous.Name)
}

func TestLookupAllFansOutAndSkipsInvalid(t *testing.T) {
	svc, _, reg := newTestService(t, nil)
	ctx := context.Background()

	results, err := svc.LookupAll(ctx, "shared-ext", LookupOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.NotNil(t, r.Result, "store %s", r.Store)
		assert.True(t, r.Result.Record.Found)
	}

	// An invalid identifier is skipped everywhere, not errored.
	results, err = svc.LookupAll(ctx, "bad-everywhere", LookupOptions{})
	require.NoError(t, err)
	for _, r := range results {
		assert.Nil(t, r.Result)
		assert.Empty(t, r.Error)
	}
	total := reg.scrapers[extension.StoreChrome].calls.Load() +
		reg.scrapers[extension.StoreFirefox].calls.Load()
	assert.Equal(t, int64(2), total, "invalid id must not reach any storefront")
}

func TestLookupAllReportsPerStoreFailure(t *testing.T) {
	svc, _, reg := newTestService(t, nil)
	reg.scrapers[extension.StoreFirefox].failIDs["flaky"] = true

	results, err := svc.LookupAll(context.Background(), "flaky", LookupOptions{})
	require.NoError(t, err)

	var okCount, errCount int
	for _, r := range results {
		switch {
		case r.Result != nil:
			okCount++
		case r.Error != "":
			errCount++
		}
	}
	assert.Equal(t, 1, okCount)
	assert.Equal(t, 1, errCount)
}

func TestLookupWritesSearchLog(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Lookup(ctx, extension.StoreChrome, "logged-ext", LookupOptions{ClientIP: "203.0.113.5"})
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Searches24h)
}

func TestLookupSkipLog(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Lookup(ctx, extension.StoreChrome, "quiet-ext", LookupOptions{SkipLog: true})
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Searches24h)
}

func TestSearchDelegatesToAdapter(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	hits, err := svc.Search(context.Background(), extension.StoreFirefox, "dark reader", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "dark reader", hits[0].Name)
}
