// Package bulk executes concurrent multi-extension lookup jobs.
//
// A job is the cross product of requested identifiers and stores. Tasks
// run on a bounded worker pool; each task consults the cache, scrapes
// on a miss, and persists what it learned. Observers follow the job
// through a stream of typed event envelopes, and the job row in the
// cache store remains the durable record once the stream is gone.
package bulk

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event type constants define the envelope types for job streams.
// These follow the pattern: extrecon.<type>.v<version>
const (
	// TypeProgress identifies task completion updates.
	TypeProgress = "extrecon.progress.v1"

	// TypeResult identifies per-task results.
	TypeResult = "extrecon.result.v1"

	// TypeError identifies per-task failures.
	TypeError = "extrecon.error.v1"

	// TypeComplete identifies the terminal job summary. It is always
	// the last event on a stream.
	TypeComplete = "extrecon.complete.v1"
)

// Event is the envelope for all job stream output.
//
// The type field determines how to interpret the Data payload. Each
// event is self-contained and JSON-serializable, so transports can
// forward envelopes without understanding them.
type Event struct {
	// Type identifies the event type (e.g., "extrecon.progress.v1").
	Type string `json:"type"`

	// TS is when the event was created.
	TS time.Time `json:"ts"`

	// JobID is the correlation ID for the job.
	JobID string `json:"job_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// ProgressPayload is the data payload for progress events, emitted
// after every finished task.
type ProgressPayload struct {
	// Completed counts finished tasks, including failed ones.
	Completed int `json:"completed"`

	// Failed counts tasks that errored.
	Failed int `json:"failed"`

	// Total is the task count for the whole job.
	Total int `json:"total"`

	// Percent is Completed over Total in [0, 100].
	Percent float64 `json:"percent"`

	// ExtensionID and Store identify the task that just finished.
	ExtensionID string `json:"extension_id"`
	Store       string `json:"store"`
}

// ErrorPayload is the data payload for task failures. Failures are
// emitted as events rather than aborting the job, so partial results
// survive flaky storefronts.
type ErrorPayload struct {
	ExtensionID string `json:"extension_id"`
	Store       string `json:"store"`
	Message     string `json:"message"`
}

// CompletePayload is the data payload for the terminal event.
type CompletePayload struct {
	// Status is the job's terminal status.
	Status string `json:"status"`

	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`

	// DurationHuman is a human-readable job duration.
	DurationHuman string `json:"duration"`
}

// newEvent wraps a payload in an envelope.
func newEvent(eventType, jobID string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		Type:  eventType,
		TS:    time.Now().UTC(),
		JobID: jobID,
		Data:  data,
	}, nil
}
