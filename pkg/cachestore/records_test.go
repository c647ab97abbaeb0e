package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/extrecon/extrecon/pkg/extension"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, freshness *time.Duration) *Store {
	t.Helper()
	store, err := Open(context.Background(), Config{
		Path:      ":memory:",
		Freshness: freshness,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRecord() *extension.Record {
	return &extension.Record{
		ID:          "cjpalhdlnbpafiamejdnhcphjbkeiagm",
		Store:       extension.StoreChrome,
		Name:        "uBlock Origin",
		Publisher:   "Raymond Hill",
		Description: "Finally, an efficient blocker.",
		Version:     "1.57.2",
		UserCount:   "2,000,000",
		Category:    "Productivity",
		Rating:      "4.7",
		RatingCount: "29841",
		LastUpdated: "May 10, 2024",
		StoreURL:    "https://chromewebstore.google.com/detail/cjpalhdlnbpafiamejdnhcphjbkeiagm",
		IconURL:     "https://lh3.googleusercontent.com/icon.png",
		Permissions: []string{"tabs", "webRequest", "<all_urls>"},
		Found:       true,
	}
}

func TestSaveThenGetRoundTrip(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	rec := sampleRecord()
	require.NoError(t, store.Save(ctx, rec))
	assert.False(t, rec.ScrapedAt.IsZero(), "Save must stamp ScrapedAt")

	got, err := store.Get(ctx, rec.ID, rec.Store)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Store, got.Store)
	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, rec.Publisher, got.Publisher)
	assert.Equal(t, rec.Version, got.Version)
	assert.Equal(t, rec.UserCount, got.UserCount)
	assert.Equal(t, rec.Rating, got.Rating)
	assert.ElementsMatch(t, rec.Permissions, got.Permissions)
	assert.True(t, got.Found)
	assert.True(t, got.Cached, "records served from the store are marked cached")
	assert.WithinDuration(t, rec.ScrapedAt, got.ScrapedAt, time.Second)
}

func TestGetMissingKey(t *testing.T) {
	store := openTestStore(t, nil)

	got, err := store.Get(context.Background(), "unknown", extension.StoreChrome)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveUpsertsSameKey(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	first := sampleRecord()
	require.NoError(t, store.Save(ctx, first))

	second := sampleRecord()
	second.Version = "1.58.0"
	second.Name = "uBlock Origin"
	require.NoError(t, store.Save(ctx, second))

	got, err := store.Get(ctx, first.ID, first.Store)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "1.58.0", got.Version)
}

func TestFreshnessWindow(t *testing.T) {
	window := time.Hour
	store := openTestStore(t, &window)
	ctx := context.Background()

	stale := sampleRecord()
	stale.ScrapedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, store.Save(ctx, stale))

	got, err := store.Get(ctx, stale.ID, stale.Store)
	require.NoError(t, err)
	assert.Nil(t, got, "rows older than the window are cache misses")

	fresh := sampleRecord()
	fresh.ScrapedAt = time.Now().UTC()
	require.NoError(t, store.Save(ctx, fresh))

	got, err = store.Get(ctx, fresh.ID, fresh.Store)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestFreshnessNilVersusZero(t *testing.T) {
	ctx := context.Background()

	// nil: rows never go stale.
	never := openTestStore(t, nil)
	old := sampleRecord()
	old.ScrapedAt = time.Now().UTC().Add(-24 * 365 * time.Hour)
	require.NoError(t, never.Save(ctx, old))
	got, err := never.Get(ctx, old.ID, old.Store)
	require.NoError(t, err)
	assert.NotNil(t, got)

	// zero: every row is already stale.
	zero := time.Duration(0)
	always := openTestStore(t, &zero)
	rec := sampleRecord()
	require.NoError(t, always.Save(ctx, rec))
	got, err = always.Get(ctx, rec.ID, rec.Store)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetLastFoundBeforeNotFoundOverwrite(t *testing.T) {
	zero := time.Duration(0)
	store := openTestStore(t, &zero)
	ctx := context.Background()

	rec := sampleRecord()
	require.NoError(t, store.Save(ctx, rec))

	// Read the prior confirmed-present row first, as a caller must.
	prev, err := store.GetLastFound(ctx, rec.ID, rec.Store)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "uBlock Origin", prev.Name)

	gone := extension.NotFound(rec.ID, rec.Store, rec.StoreURL)
	require.NoError(t, store.Save(ctx, gone))

	// The upsert destroyed the prior row: GetLastFound now sees the
	// not-found row and reports nothing.
	prev, err = store.GetLastFound(ctx, rec.ID, rec.Store)
	require.NoError(t, err)
	assert.Nil(t, prev)
}

func TestGetLastFoundIgnoresFreshness(t *testing.T) {
	window := time.Hour
	store := openTestStore(t, &window)
	ctx := context.Background()

	rec := sampleRecord()
	rec.ScrapedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, store.Save(ctx, rec))

	miss, err := store.Get(ctx, rec.ID, rec.Store)
	require.NoError(t, err)
	assert.Nil(t, miss)

	prev, err := store.GetLastFound(ctx, rec.ID, rec.Store)
	require.NoError(t, err)
	assert.NotNil(t, prev)
}

func TestCleanup(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	old := sampleRecord()
	old.ScrapedAt = time.Now().UTC().Add(-72 * time.Hour)
	require.NoError(t, store.Save(ctx, old))

	fresh := sampleRecord()
	fresh.ID = "ponmlkjihgfedcbaponmlkjihgfedcba"
	require.NoError(t, store.Save(ctx, fresh))

	deleted, err := store.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	got, err := store.Get(ctx, old.ID, old.Store)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.Get(ctx, fresh.ID, fresh.Store)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestSaveValidatesKey(t *testing.T) {
	store := openTestStore(t, nil)

	require.Error(t, store.Save(context.Background(), nil))
	require.Error(t, store.Save(context.Background(), &extension.Record{Store: extension.StoreChrome}))
	require.Error(t, store.Save(context.Background(), &extension.Record{ID: "x"}))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
}
