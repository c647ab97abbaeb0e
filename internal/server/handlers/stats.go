package handlers

import (
	"net/http"
	"time"

	apperrors "github.com/extrecon/extrecon/internal/errors"
	"go.uber.org/zap"
)

// Stats serves GET /api/v1/stats: cache totals, per-store counts, and
// the most-searched leaderboard.
func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Cache.Stats(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// CleanupCache serves POST /api/v1/cache/cleanup?older_than=720h,
// deleting cache rows older than the cutoff. History snapshots are
// never touched.
func (a *API) CleanupCache(w http.ResponseWriter, r *http.Request) {
	olderThan := 30 * 24 * time.Hour
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			apperrors.Write(w, http.StatusBadRequest, apperrors.HTTPErrorDetail{
				Code:    apperrors.CodeBadRequest,
				Message: "older_than must be a non-negative duration (e.g. 720h)",
			})
			return
		}
		olderThan = d
	}

	removed, err := a.Cache.Cleanup(r.Context(), olderThan)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	a.Log.Info("cache cleanup complete",
		zap.Duration("older_than", olderThan),
		zap.Int64("removed", removed))
	writeJSON(w, http.StatusOK, map[string]any{
		"removed":    removed,
		"older_than": olderThan.String(),
	})
}
