package handlers

import (
	"net/http"
	"strings"

	apperrors "github.com/extrecon/extrecon/internal/errors"
	"github.com/extrecon/extrecon/pkg/blocklist"
	"github.com/go-chi/chi/v5"
)

// blocklistUnavailable answers when the feature is disabled by config.
func (a *API) blocklistUnavailable(w http.ResponseWriter) bool {
	if a.Blocklist != nil {
		return false
	}
	apperrors.Write(w, http.StatusServiceUnavailable, apperrors.HTTPErrorDetail{
		Code:    "SERVICE_UNAVAILABLE",
		Message: "blocklist checking is disabled",
	})
	return true
}

// BlocklistStatus serves GET /api/v1/blocklist.
func (a *API) BlocklistStatus(w http.ResponseWriter, r *http.Request) {
	if a.blocklistUnavailable(w) {
		return
	}
	writeJSON(w, http.StatusOK, a.Blocklist.Status())
}

// RefreshBlocklist serves POST /api/v1/blocklist/refresh, forcing a
// refetch of every source regardless of TTL.
func (a *API) RefreshBlocklist(w http.ResponseWriter, r *http.Request) {
	if a.blocklistUnavailable(w) {
		return
	}
	if err := a.Blocklist.Refresh(r.Context()); err != nil {
		apperrors.Write(w, http.StatusBadGateway, apperrors.HTTPErrorDetail{
			Code:    apperrors.CodeUpstream,
			Message: err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, a.Blocklist.Status())
}

// CheckBlocklist serves GET /api/v1/blocklist/{id}.
func (a *API) CheckBlocklist(w http.ResponseWriter, r *http.Request) {
	if a.blocklistUnavailable(w) {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		apperrors.Write(w, http.StatusBadRequest, apperrors.HTTPErrorDetail{
			Code:    apperrors.CodeBadRequest,
			Message: "missing extension id",
		})
		return
	}

	matches, err := a.Blocklist.Check(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if matches == nil {
		matches = []blocklist.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      id,
		"listed":  len(matches) > 0,
		"matches": matches,
	})
}
