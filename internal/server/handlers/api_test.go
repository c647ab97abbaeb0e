package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "github.com/extrecon/extrecon/internal/errors"
	"github.com/extrecon/extrecon/pkg/bulk"
	"github.com/extrecon/extrecon/pkg/cachestore"
	"github.com/extrecon/extrecon/pkg/extension"
	"github.com/extrecon/extrecon/pkg/recon"
	"github.com/extrecon/extrecon/pkg/scraper"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cannedScraper struct {
	store   extension.Store
	goneIDs map[string]bool
	stall   chan struct{}
}

func (c *cannedScraper) Store() extension.Store { return c.store }

func (c *cannedScraper) ValidateID(id string) bool { return !strings.HasPrefix(id, "bad-") }

func (c *cannedScraper) NormalizeID(id string) string { return strings.ToLower(strings.TrimSpace(id)) }

func (c *cannedScraper) ExtensionURL(id string) string {
	return fmt.Sprintf("https://store.example/%s/%s", c.store, id)
}

func (c *cannedScraper) Scrape(ctx context.Context, id string, opts scraper.Options) (*extension.Record, error) {
	if c.stall != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.stall:
		}
	}
	if c.goneIDs[id] {
		return extension.NotFound(id, c.store, c.ExtensionURL(id)), nil
	}
	return &extension.Record{
		ID:      id,
		Store:   c.store,
		Name:    "Extension " + id,
		Version: "1.4.2",
		Found:   true,
	}, nil
}

func (c *cannedScraper) SearchByName(ctx context.Context, name string, limit int) ([]extension.Record, error) {
	return []extension.Record{{ID: "hit-1", Store: c.store, Name: name, Found: true}}, nil
}

type cannedRegistry struct {
	scrapers map[extension.Store]*cannedScraper
}

func newCannedRegistry(stores ...extension.Store) *cannedRegistry {
	reg := &cannedRegistry{scrapers: make(map[extension.Store]*cannedScraper)}
	for _, st := range stores {
		reg.scrapers[st] = &cannedScraper{store: st, goneIDs: make(map[string]bool)}
	}
	return reg
}

func (r *cannedRegistry) Stores() []extension.Store {
	stores := make([]extension.Store, 0, len(r.scrapers))
	for st := range r.scrapers {
		stores = append(stores, st)
	}
	return stores
}

func (r *cannedRegistry) New(store extension.Store) (scraper.Scraper, error) {
	sc, ok := r.scrapers[store]
	if !ok {
		return nil, scraper.ErrUnknownStore
	}
	return sc, nil
}

func newTestRouter(t *testing.T) (chi.Router, *API, *cachestore.Store) {
	t.Helper()

	store, err := cachestore.Open(context.Background(), cachestore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := newCannedRegistry(extension.StoreChrome, extension.StoreFirefox)
	rc := recon.NewService(store, reg, nil, nil)
	jobs := bulk.NewManager(store, reg, nil, bulk.ManagerConfig{})
	api := NewAPI(rc, store, jobs, nil, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/extensions/{store}/{id}", api.LookupExtension)
		r.Get("/extensions/{store}/{id}/history", api.ExtensionHistory)
		r.Get("/lookup/{id}", api.LookupAllStores)
		r.Get("/search", api.SearchExtensions)
		r.Post("/jobs", api.SubmitJob)
		r.Get("/jobs/{id}", api.GetJob)
		r.Get("/jobs/{id}/events", api.StreamJobEvents)
		r.Delete("/jobs/{id}", api.CancelJob)
		r.Get("/blocklist", api.BlocklistStatus)
		r.Get("/blocklist/{id}", api.CheckBlocklist)
		r.Get("/stats", api.Stats)
		r.Post("/cache/cleanup", api.CleanupCache)
	})
	return r, api, store
}

func doJSON(t *testing.T, router chi.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestLookupExtensionEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/extensions/chrome/some-ext", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result recon.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "some-ext", result.Record.ID)
	assert.True(t, result.Record.Found)
}

func TestLookupExtensionUnknownStore(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/extensions/opera/some-ext", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperrors.CodeBadRequest, body.Error.Code)
}

func TestLookupAllStoresEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/lookup/everywhere-ext", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ID      string              `json:"id"`
		Results []recon.StoreResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "everywhere-ext", body.ID)
	assert.Len(t, body.Results, 2)
}

func TestSearchEndpointValidation(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/search?store=chrome", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/search?store=chrome&q=dark&limit=900", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/search?store=chrome&q=dark+reader", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Results []extension.Record `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "dark reader", body.Results[0].Name)
}

func TestHistoryEndpoint(t *testing.T) {
	router, _, store := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &extension.Record{
		ID: "tracked", Store: extension.StoreChrome, Name: "Tracked",
		Version: "1.0.0", Permissions: []string{"tabs"}, Found: true,
	}))
	require.NoError(t, store.Save(ctx, &extension.Record{
		ID: "tracked", Store: extension.StoreChrome, Name: "Tracked",
		Version: "2.0.0", Permissions: []string{"tabs", "history"}, Found: true,
	}))

	rec := doJSON(t, router, http.MethodGet, "/api/v1/extensions/chrome/tracked/history", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Entries           []cachestore.HistoryEntry `json:"entries"`
		PermissionChanges bool                      `json:"permission_changes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 2)
	assert.True(t, body.PermissionChanges)
	require.NotNil(t, body.Entries[1].Diff)
	assert.Equal(t, []string{"history"}, body.Entries[1].Diff.AddedPermissions)
}

func waitForTerminalJob(t *testing.T, router chi.Router, jobID string) *cachestore.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, router, http.MethodGet, "/api/v1/jobs/"+jobID, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var job cachestore.Job
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
		if job.Status.Terminal() {
			return &job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal status")
	return nil
}

func TestJobLifecycleEndpoints(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/jobs",
		`{"extension_ids":["ext-a","ext-b"],"stores":["chrome"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var job cachestore.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.NotEmpty(t, job.JobID)
	assert.Equal(t, 2, job.TotalTasks)

	final := waitForTerminalJob(t, router, job.JobID)
	assert.Equal(t, cachestore.JobStatusCompleted, final.Status)
	assert.Equal(t, 2, final.CompletedTasks)
	assert.NotEmpty(t, final.Results)
}

func TestSubmitJobValidation(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/jobs", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/jobs", `{"extension_ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/jobs/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperrors.CodeNotFound, body.Error.Code)
}

func TestCancelJobNotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodDelete, "/api/v1/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamJobEventsRelaysCompletion(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/jobs",
		`{"extension_ids":["stream-ext"],"stores":["chrome"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var job cachestore.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	waitForTerminalJob(t, router, job.JobID)

	events := doJSON(t, router, http.MethodGet, "/api/v1/jobs/"+job.JobID+"/events", "")
	require.Equal(t, http.StatusOK, events.Code)
	assert.Equal(t, "text/event-stream", events.Header().Get("Content-Type"))
	assert.Contains(t, events.Body.String(), bulk.TypeComplete)
}

// newStalledJob submits a job whose only scrape parks until the test
// finishes, keeping the live event stream open and quiet.
func newStalledJob(t *testing.T) (*API, *cachestore.Store, *cachestore.Job) {
	t.Helper()

	store, err := cachestore.Open(context.Background(), cachestore.Config{Path: ":memory:"})
	require.NoError(t, err)

	reg := newCannedRegistry(extension.StoreChrome)
	stall := make(chan struct{})
	reg.scrapers[extension.StoreChrome].stall = stall

	jobs := bulk.NewManager(store, reg, nil, bulk.ManagerConfig{})
	api := NewAPI(recon.NewService(store, reg, nil, nil), store, jobs, nil, nil)

	job, err := jobs.Submit(context.Background(), bulk.SubmitRequest{
		ExtensionIDs: []string{"slow-ext"},
		Stores:       []string{"chrome"},
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		close(stall)
		if events, ok := jobs.Events(job.JobID); ok {
			for range events {
			}
		}
		_ = store.Close()
	})
	return api, store, job
}

func eventsRouter(api *API) chi.Router {
	r := chi.NewRouter()
	r.Get("/api/v1/jobs/{id}/events", api.StreamJobEvents)
	return r
}

func TestStreamJobEventsEnforcesDeadline(t *testing.T) {
	old := streamMaxLifetime
	streamMaxLifetime = 100 * time.Millisecond
	t.Cleanup(func() { streamMaxLifetime = old })

	api, _, job := newStalledJob(t)

	rec := doJSON(t, eventsRouter(api), http.MethodGet, "/api/v1/jobs/"+job.JobID+"/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), bulk.TypeError)
	assert.Contains(t, rec.Body.String(), "stream deadline exceeded")
}

func TestStreamJobEventsPollsQuietStream(t *testing.T) {
	old := streamPollInterval
	streamPollInterval = 50 * time.Millisecond
	t.Cleanup(func() { streamPollInterval = old })

	api, store, job := newStalledJob(t)
	ctx := context.Background()

	// Wait for the executor's own running transition so the terminal
	// status written below cannot be overwritten by it.
	deadline := time.Now().Add(5 * time.Second)
	for {
		row, err := store.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		if row.Status == cachestore.JobStatusRunning {
			break
		}
		require.True(t, time.Now().Before(deadline), "job never started running")
		time.Sleep(5 * time.Millisecond)
	}

	// The durable row goes terminal while the live channel stays open,
	// as when another process finishes the job.
	completed := cachestore.JobStatusCompleted
	require.NoError(t, store.UpdateJob(ctx, job.JobID, cachestore.JobUpdate{Status: &completed}))

	rec := doJSON(t, eventsRouter(api), http.MethodGet, "/api/v1/jobs/"+job.JobID+"/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), bulk.TypeComplete)
}

func TestBlocklistDisabled(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/blocklist", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/blocklist/some-ext", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	router, _, store := newTestRouter(t)

	require.NoError(t, store.Save(context.Background(), &extension.Record{
		ID: "counted", Store: extension.StoreChrome, Name: "Counted", Found: true,
	}))

	rec := doJSON(t, router, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats cachestore.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalCached)
}

func TestCleanupEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/cache/cleanup?older_than=banana", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/cache/cleanup?older_than=720h", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Removed   int64  `json:"removed"`
		OlderThan string `json:"older_than"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "720h0m0s", body.OlderThan)
}
