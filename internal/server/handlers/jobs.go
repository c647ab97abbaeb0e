package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/extrecon/extrecon/internal/errors"
	"github.com/extrecon/extrecon/pkg/bulk"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Event stream relay limits. Vars so tests can tighten them.
var (
	// streamPollInterval bounds how long the relay waits on a quiet
	// stream before consulting the durable job row.
	streamPollInterval = 30 * time.Second

	// streamMaxLifetime caps one relay connection regardless of job
	// state, since serve mode runs without a write timeout.
	streamMaxLifetime = 10 * time.Minute
)

// submitJobRequest is the POST /api/v1/jobs body.
type submitJobRequest struct {
	ExtensionIDs       []string `json:"extension_ids"`
	Stores             []string `json:"stores,omitempty"`
	IncludePermissions bool     `json:"include_permissions,omitempty"`
}

// SubmitJob serves POST /api/v1/jobs.
func (a *API) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.Write(w, http.StatusBadRequest, apperrors.HTTPErrorDetail{
			Code:    apperrors.CodeBadRequest,
			Message: fmt.Sprintf("invalid request body: %v", err),
		})
		return
	}

	job, err := a.Jobs.Submit(r.Context(), bulk.SubmitRequest{
		ExtensionIDs:       req.ExtensionIDs,
		Stores:             req.Stores,
		IncludePermissions: req.IncludePermissions,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	a.Log.Info("bulk job submitted",
		zap.String("job_id", job.JobID),
		zap.Int("total_tasks", job.TotalTasks))
	writeJSON(w, http.StatusAccepted, job)
}

// GetJob serves GET /api/v1/jobs/{id}.
func (a *API) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob serves DELETE /api/v1/jobs/{id}.
func (a *API) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if err := a.Jobs.Cancel(r.Context(), jobID); err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": "cancelling",
	})
}

// StreamJobEvents serves GET /api/v1/jobs/{id}/events as Server-Sent
// Events. For a still-active job the live executor stream is relayed
// until it closes; for a job that already finished a single snapshot
// event is sent so late subscribers still get a terminal signal.
func (a *API) StreamJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		apperrors.Write(w, http.StatusInternalServerError, apperrors.HTTPErrorDetail{
			Code:    apperrors.CodeInternal,
			Message: "streaming unsupported by connection",
		})
		return
	}

	events, active := a.Jobs.Events(jobID)
	if !active {
		job, err := a.Jobs.Get(r.Context(), jobID)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		a.startSSE(w)
		payload, _ := json.Marshal(job)
		writeSSE(w, bulk.TypeComplete, payload)
		flusher.Flush()
		return
	}

	a.startSSE(w)
	flusher.Flush()

	poll := time.NewTicker(streamPollInterval)
	defer poll.Stop()
	deadline := time.NewTimer(streamMaxLifetime)
	defer deadline.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-deadline.C:
			payload, _ := json.Marshal(bulk.ErrorPayload{Message: "stream deadline exceeded"})
			writeSSE(w, bulk.TypeError, payload)
			flusher.Flush()
			return
		case <-poll.C:
			// Quiet stream. If the durable row went terminal without the
			// channel closing, send the snapshot instead of holding the
			// connection open.
			job, err := a.Jobs.Get(r.Context(), jobID)
			if err != nil || !job.Status.Terminal() {
				continue
			}
			payload, _ := json.Marshal(job)
			writeSSE(w, bulk.TypeComplete, payload)
			flusher.Flush()
			return
		case evt, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				a.Log.Warn("event marshal failed", zap.String("job_id", jobID), zap.Error(err))
				continue
			}
			writeSSE(w, evt.Type, data)
			flusher.Flush()
		}
	}
}

func (a *API) startSSE(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func writeSSE(w http.ResponseWriter, eventType string, data []byte) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
}
