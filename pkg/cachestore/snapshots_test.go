package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/extrecon/extrecon/pkg/extension"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstSaveAppendsSnapshot(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	rec := sampleRecord()
	require.NoError(t, store.Save(ctx, rec))

	history, err := store.History(ctx, rec.ID, rec.Store)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, rec.Version, history[0].Version)
	assert.Equal(t, rec.Name, history[0].Name)
	assert.ElementsMatch(t, rec.Permissions, history[0].Permissions)
}

func TestUnchangedSaveAppendsNothing(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	rec := sampleRecord()
	require.NoError(t, store.Save(ctx, rec))
	require.NoError(t, store.Save(ctx, sampleRecord()))
	require.NoError(t, store.Save(ctx, sampleRecord()))

	history, err := store.History(ctx, rec.ID, rec.Store)
	require.NoError(t, err)
	assert.Len(t, history, 1, "identical observations must not grow history")
}

func TestReorderedPermissionsAppendNothing(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	rec := sampleRecord()
	rec.Permissions = []string{"tabs", "webRequest", "<all_urls>"}
	require.NoError(t, store.Save(ctx, rec))

	reordered := sampleRecord()
	reordered.Permissions = []string{"<all_urls>", "tabs", "webRequest"}
	require.NoError(t, store.Save(ctx, reordered))

	history, err := store.History(ctx, rec.ID, rec.Store)
	require.NoError(t, err)
	assert.Len(t, history, 1, "permission order is not an observable change")
}

func TestVersionChangeAppendsSnapshot(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	first := sampleRecord()
	first.ScrapedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.Save(ctx, first))

	second := sampleRecord()
	second.Version = "1.58.0"
	require.NoError(t, store.Save(ctx, second))

	history, err := store.History(ctx, first.ID, first.Store)
	require.NoError(t, err)
	require.Len(t, history, 2)

	// Oldest first.
	assert.Equal(t, "1.57.2", history[0].Version)
	assert.Equal(t, "1.58.0", history[1].Version)
	assert.True(t, history[0].CapturedAt.Before(history[1].CapturedAt))
}

func TestPermissionChangeAppendsSnapshot(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	first := sampleRecord()
	first.ScrapedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.Save(ctx, first))

	second := sampleRecord()
	second.Permissions = append(second.Permissions, "nativeMessaging")
	require.NoError(t, store.Save(ctx, second))

	history, err := store.History(ctx, first.ID, first.Store)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Contains(t, history[1].Permissions, "nativeMessaging")
}

func TestNotFoundSaveAppendsNoSnapshot(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	rec := sampleRecord()
	gone := extension.NotFound(rec.ID, rec.Store, rec.StoreURL)
	require.NoError(t, store.Save(ctx, gone))

	history, err := store.History(ctx, rec.ID, rec.Store)
	require.NoError(t, err)
	assert.Empty(t, history, "absences never enter history")
}

func TestHistoryIsolatedPerStore(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	chrome := sampleRecord()
	require.NoError(t, store.Save(ctx, chrome))

	edge := sampleRecord()
	edge.Store = extension.StoreEdge
	edge.Version = "1.55.0"
	require.NoError(t, store.Save(ctx, edge))

	chromeHistory, err := store.History(ctx, chrome.ID, extension.StoreChrome)
	require.NoError(t, err)
	require.Len(t, chromeHistory, 1)
	assert.Equal(t, "1.57.2", chromeHistory[0].Version)

	edgeHistory, err := store.History(ctx, chrome.ID, extension.StoreEdge)
	require.NoError(t, err)
	require.Len(t, edgeHistory, 1)
	assert.Equal(t, "1.55.0", edgeHistory[0].Version)
}
