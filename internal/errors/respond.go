package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/extrecon/extrecon/pkg/bulk"
	"github.com/extrecon/extrecon/pkg/recon"
	"github.com/extrecon/extrecon/pkg/scraper"
)

// Write emits the standard error body with the given status.
func Write(w http.ResponseWriter, status int, detail HTTPErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: detail})
}

// RespondWithError maps a domain error onto the HTTP error contract.
// Unrecognized errors become 500 INTERNAL_ERROR.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)

	detail := HTTPErrorDetail{
		Code:    code,
		Message: err.Error(),
	}
	if id := w.Header().Get("X-Request-ID"); id != "" {
		detail.RequestID = id
	}
	Write(w, status, detail)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, bulk.ErrJobNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, bulk.ErrTooManyActiveJobs):
		return http.StatusTooManyRequests, CodeTooManyRequests
	case errors.Is(err, bulk.ErrJobFinished):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, bulk.ErrNoExtensions),
		errors.Is(err, bulk.ErrTooManyExtensions),
		errors.Is(err, bulk.ErrNoValidStores),
		errors.Is(err, recon.ErrInvalidID),
		errors.Is(err, scraper.ErrUnknownStore):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, scraper.ErrUpstreamStatus),
		errors.Is(err, scraper.ErrUpstreamFormat):
		return http.StatusBadGateway, CodeUpstream
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeUpstream
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
