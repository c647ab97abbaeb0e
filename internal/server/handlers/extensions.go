package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	apperrors "github.com/extrecon/extrecon/internal/errors"
	"github.com/extrecon/extrecon/pkg/cachestore"
	"github.com/extrecon/extrecon/pkg/extension"
	"github.com/extrecon/extrecon/pkg/recon"
	"github.com/go-chi/chi/v5"
)

func writeUnknownStore(w http.ResponseWriter, name string) {
	apperrors.Write(w, http.StatusBadRequest, apperrors.HTTPErrorDetail{
		Code:    apperrors.CodeBadRequest,
		Message: fmt.Sprintf("unknown store %q", name),
	})
}

// LookupExtension serves GET /api/v1/extensions/{store}/{id}.
// permissions=true requests manifest permission extraction.
func (a *API) LookupExtension(w http.ResponseWriter, r *http.Request) {
	store, ok := extension.ParseStore(chi.URLParam(r, "store"))
	if !ok {
		writeUnknownStore(w, chi.URLParam(r, "store"))
		return
	}

	opts := recon.LookupOptions{
		IncludePermissions: r.URL.Query().Get("permissions") == "true",
		ClientIP:           clientAddr(r),
		UserAgent:          r.UserAgent(),
	}

	result, err := a.Recon.Lookup(r.Context(), store, chi.URLParam(r, "id"), opts)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// LookupAllStores serves GET /api/v1/lookup/{id}: one identifier fanned
// out across every storefront whose id format matches.
func (a *API) LookupAllStores(w http.ResponseWriter, r *http.Request) {
	opts := recon.LookupOptions{
		IncludePermissions: r.URL.Query().Get("permissions") == "true",
		ClientIP:           clientAddr(r),
		UserAgent:          r.UserAgent(),
	}

	results, err := a.Recon.LookupAll(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      chi.URLParam(r, "id"),
		"results": results,
	})
}

// SearchExtensions serves GET /api/v1/search?store=...&q=...&limit=...
func (a *API) SearchExtensions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		apperrors.Write(w, http.StatusBadRequest, apperrors.HTTPErrorDetail{
			Code:    apperrors.CodeBadRequest,
			Message: "missing required query parameter q",
		})
		return
	}

	store, ok := extension.ParseStore(r.URL.Query().Get("store"))
	if !ok {
		writeUnknownStore(w, r.URL.Query().Get("store"))
		return
	}

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 50 {
			apperrors.Write(w, http.StatusBadRequest, apperrors.HTTPErrorDetail{
				Code:    apperrors.CodeBadRequest,
				Message: "limit must be an integer between 1 and 50",
			})
			return
		}
		limit = n
	}

	hits, err := a.Recon.Search(r.Context(), store, q, limit)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if hits == nil {
		hits = []extension.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"store":   store,
		"query":   q,
		"results": hits,
	})
}

// ExtensionHistory serves GET /api/v1/extensions/{store}/{id}/history:
// the snapshot timeline with consecutive-pair diffs.
func (a *API) ExtensionHistory(w http.ResponseWriter, r *http.Request) {
	store, ok := extension.ParseStore(chi.URLParam(r, "store"))
	if !ok {
		writeUnknownStore(w, chi.URLParam(r, "store"))
		return
	}
	id := chi.URLParam(r, "id")

	snapshots, err := a.Cache.History(r.Context(), id, store)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	entries, permissionChanges := cachestore.DiffHistory(snapshots)
	if entries == nil {
		entries = []cachestore.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                 id,
		"store":              store,
		"entries":            entries,
		"permission_changes": permissionChanges,
	})
}
