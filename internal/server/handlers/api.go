package handlers

import (
	"net"
	"net/http"
	"strings"

	"github.com/extrecon/extrecon/pkg/blocklist"
	"github.com/extrecon/extrecon/pkg/bulk"
	"github.com/extrecon/extrecon/pkg/cachestore"
	"github.com/extrecon/extrecon/pkg/recon"
	"go.uber.org/zap"
)

// API bundles the dependencies behind the /api/v1 surface.
type API struct {
	Recon     *recon.Service
	Cache     *cachestore.Store
	Jobs      *bulk.Manager
	Blocklist *blocklist.Service
	Log       *zap.Logger
}

// NewAPI constructs the API handler set. Log may be nil.
func NewAPI(rc *recon.Service, cache *cachestore.Store, jobs *bulk.Manager, bl *blocklist.Service, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{Recon: rc, Cache: cache, Jobs: jobs, Blocklist: bl, Log: log}
}

// clientAddr extracts the requesting client's IP for the search log,
// honoring the first hop of X-Forwarded-For.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
