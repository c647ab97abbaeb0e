package handlers

import (
	"net/http"
	"runtime"
	"sync"
	"time"
)

// VersionInfo describes the running build.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var (
	versionMu   sync.RWMutex
	versionInfo = VersionInfo{Version: "dev"}
)

// SetVersionInfo records build metadata injected at link time.
func SetVersionInfo(version, commit, date string) {
	versionMu.Lock()
	defer versionMu.Unlock()
	if version != "" {
		versionInfo.Version = version
	}
	versionInfo.GitCommit = commit
	versionInfo.BuildDate = date
}

// GetVersionInfo returns the current build metadata.
func GetVersionInfo() VersionInfo {
	versionMu.RLock()
	defer versionMu.RUnlock()
	info := versionInfo
	info.GoVersion = runtime.Version()
	info.Platform = runtime.GOOS + "/" + runtime.GOARCH
	return info
}

// VersionHandler serves build metadata.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	type response struct {
		VersionInfo
		Timestamp time.Time `json:"timestamp"`
	}
	writeJSON(w, http.StatusOK, response{
		VersionInfo: GetVersionInfo(),
		Timestamp:   time.Now().UTC(),
	})
}
