package bulk

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/extrecon/extrecon/pkg/blocklist"
	"github.com/extrecon/extrecon/pkg/cachestore"
	"github.com/extrecon/extrecon/pkg/extension"
	"github.com/extrecon/extrecon/pkg/scraper"
	"go.uber.org/zap"
)

// AdapterRegistry constructs a per-task storefront adapter. Satisfied
// by scraper.Registry.
type AdapterRegistry interface {
	New(store extension.Store) (scraper.Scraper, error)
}

// Config configures executor behavior.
type Config struct {
	// Concurrency is the number of tasks running in parallel.
	// Default: 6
	Concurrency int

	// EventBuffer is the size of the event channel. A full buffer drops
	// progress events rather than blocking workers; result, error, and
	// complete events always block until delivered or the job ends.
	// Default: 256
	EventBuffer int

	// Logger defaults to a nop logger.
	Logger *zap.Logger
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency: 6,
		EventBuffer: 256,
	}
}

// TaskResult is the outcome of one (identifier, store) task.
type TaskResult struct {
	ExtensionID string             `json:"extension_id"`
	Store       string             `json:"store"`
	Record      *extension.Record  `json:"record,omitempty"`
	Previous    *extension.Record  `json:"previous,omitempty"`
	Blocklist   []blocklist.Match  `json:"blocklist_matches,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// task is one unit of the job's cross product.
type task struct {
	id    string
	store extension.Store
}

// Executor runs one bulk job to completion.
//
// Executor is safe for single use only. Create a new Executor for each
// job. Progress and result state is guarded by one mutex so the
// completed counter, the persisted row, and the emitted event can never
// disagree about ordering.
type Executor struct {
	store     *cachestore.Store
	registry  AdapterRegistry
	blocklist *blocklist.Service
	config    Config
	log       *zap.Logger

	jobID              string
	ids                []string
	stores             []extension.Store
	includePermissions bool

	events chan Event
	cancel context.CancelFunc

	mu        sync.Mutex
	completed int
	failed    int
	results   map[string]map[string]TaskResult
	cancelled bool
	done      bool
}

// NewExecutor creates an executor for a created job row.
//
// The blocklist service is optional; when nil, results carry no threat
// annotations.
func NewExecutor(store *cachestore.Store, registry AdapterRegistry, bl *blocklist.Service,
	job *cachestore.Job, cfg Config) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	stores := make([]extension.Store, 0, len(job.Stores))
	for _, name := range job.Stores {
		if st, ok := extension.ParseStore(name); ok {
			stores = append(stores, st)
		}
	}

	// The buffer must hold every event the job can produce so workers
	// never block on a stream nobody is consuming.
	if capacity := 2*len(job.ExtensionIDs)*len(stores) + 8; cfg.EventBuffer < capacity {
		cfg.EventBuffer = capacity
	}

	return &Executor{
		store:              store,
		registry:           registry,
		blocklist:          bl,
		config:             cfg,
		log:                cfg.Logger.Named("bulk").With(zap.String("job_id", job.JobID)),
		jobID:              job.JobID,
		ids:                job.ExtensionIDs,
		stores:             stores,
		includePermissions: job.IncludePermissions,
		events:             make(chan Event, cfg.EventBuffer),
		results:            make(map[string]map[string]TaskResult),
	}
}

// JobID returns the job this executor runs.
func (e *Executor) JobID() string { return e.jobID }

// Events returns the job's event stream. The channel is closed after
// the terminal complete event.
func (e *Executor) Events() <-chan Event { return e.events }

// Cancel requests cooperative cancellation. In-flight tasks run to
// completion; tasks not yet dispatched are abandoned.
func (e *Executor) Cancel() {
	e.mu.Lock()
	e.cancelled = true
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done reports whether the job reached a terminal status.
func (e *Executor) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Run executes every task and drives the job row through its
// lifecycle. Run blocks until the job is terminal and always closes
// the event stream before returning.
func (e *Executor) Run(ctx context.Context) {
	defer close(e.events)

	// Cancel stops dispatch only. Tasks already handed to a worker keep
	// the parent context so their scrapes are not interrupted.
	dispatchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	started := time.Now().UTC()
	total := len(e.ids) * len(e.stores)

	running := cachestore.JobStatusRunning
	if err := e.store.UpdateJob(ctx, e.jobID, cachestore.JobUpdate{
		Status:    &running,
		StartedAt: &started,
	}); err != nil {
		e.log.Error("mark job running", zap.Error(err))
	}

	e.runTasks(ctx, dispatchCtx, total)
	e.finish(ctx, total, time.Since(started))
}

// runTasks fans the cross product out over a semaphore-bounded pool.
// dispatchCtx gates admission of new tasks; ctx is what the tasks
// themselves run under.
func (e *Executor) runTasks(ctx, dispatchCtx context.Context, total int) {
	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup

	for _, id := range e.ids {
		for _, st := range e.stores {
			select {
			case <-dispatchCtx.Done():
			case sem <- struct{}{}:
			}
			if dispatchCtx.Err() != nil {
				wg.Wait()
				return
			}

			wg.Add(1)
			go func(t task) {
				defer wg.Done()
				defer func() { <-sem }()
				result := e.runTask(ctx, t)
				e.recordResult(ctx, t, result, total)
			}(task{id: id, store: st})
		}
	}

	wg.Wait()
}

// runTask resolves one (identifier, store) pair: cache first, then a
// live scrape, persisting whatever the storefront answered.
func (e *Executor) runTask(ctx context.Context, t task) TaskResult {
	result := TaskResult{ExtensionID: t.id, Store: t.store.String()}

	adapter, err := e.registry.New(t.store)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	id := adapter.NormalizeID(t.id)
	result.ExtensionID = id

	if !adapter.ValidateID(id) {
		result.Error = "invalid extension identifier for store"
		return result
	}

	if cached, err := e.store.Get(ctx, id, t.store); err != nil {
		e.log.Warn("cache read failed",
			zap.String("extension_id", id),
			zap.String("store", t.store.String()),
			zap.Error(err))
	} else if cached != nil {
		result.Record = cached
		e.annotate(ctx, &result)
		return result
	}

	rec, err := adapter.Scrape(ctx, id, scraper.Options{
		IncludePermissions: e.includePermissions,
	})
	if err != nil {
		result.Error = err.Error()
		return result
	}

	// A confirmed absence for an extension we previously confirmed
	// present means it was delisted. The previous row must be read
	// before Save overwrites it.
	if !rec.Found {
		if prev, err := e.store.GetLastFound(ctx, id, t.store); err == nil && prev != nil {
			rec.Delisted = true
			result.Previous = prev
		}
	}

	if err := e.store.Save(ctx, rec); err != nil {
		e.log.Warn("cache write failed",
			zap.String("extension_id", id),
			zap.String("store", t.store.String()),
			zap.Error(err))
	}

	result.Record = rec
	e.annotate(ctx, &result)
	return result
}

// annotate attaches blocklist matches to a result.
func (e *Executor) annotate(ctx context.Context, result *TaskResult) {
	if e.blocklist == nil {
		return
	}
	matches, err := e.blocklist.Check(ctx, result.ExtensionID)
	if err != nil {
		e.log.Warn("blocklist check failed",
			zap.String("extension_id", result.ExtensionID),
			zap.Error(err))
		return
	}
	result.Blocklist = matches
}

// recordResult updates counters, persists progress, and emits events
// for one finished task. All three happen under the mutex so observers
// see a consistent ordering.
func (e *Executor) recordResult(ctx context.Context, t task, result TaskResult, total int) {
	e.mu.Lock()
	e.completed++
	if result.Error != "" {
		e.failed++
	}
	byStore, ok := e.results[result.ExtensionID]
	if !ok {
		byStore = make(map[string]TaskResult, len(e.stores))
		e.results[result.ExtensionID] = byStore
	}
	byStore[result.Store] = result
	completed, failed := e.completed, e.failed
	e.mu.Unlock()

	if err := e.store.UpdateJob(ctx, e.jobID, cachestore.JobUpdate{
		CompletedTasks: &completed,
		FailedTasks:    &failed,
	}); err != nil {
		e.log.Warn("persist progress", zap.Error(err))
	}

	if result.Error != "" {
		e.emit(TypeError, ErrorPayload{
			ExtensionID: result.ExtensionID,
			Store:       result.Store,
			Message:     result.Error,
		}, true)
	} else {
		e.emit(TypeResult, result, true)
	}

	percent := float64(0)
	if total > 0 {
		percent = float64(completed) / float64(total) * 100
	}
	e.emit(TypeProgress, ProgressPayload{
		Completed:   completed,
		Failed:      failed,
		Total:       total,
		Percent:     percent,
		ExtensionID: result.ExtensionID,
		Store:       result.Store,
	}, false)
}

// finish derives the terminal status, persists the final row, and
// emits the complete event.
func (e *Executor) finish(ctx context.Context, total int, elapsed time.Duration) {
	e.mu.Lock()
	status := cachestore.JobStatusCompleted
	switch {
	case e.cancelled:
		status = cachestore.JobStatusCancelled
	case total > 0 && e.failed == total:
		status = cachestore.JobStatusFailed
	}
	completed, failed := e.completed, e.failed
	resultsJSON, err := json.Marshal(e.results)
	e.mu.Unlock()
	if err != nil {
		e.log.Error("marshal results", zap.Error(err))
		resultsJSON = []byte("{}")
	}

	now := time.Now().UTC()
	upd := cachestore.JobUpdate{
		Status:         &status,
		CompletedTasks: &completed,
		FailedTasks:    &failed,
		Results:        resultsJSON,
		CompletedAt:    &now,
	}
	if status == cachestore.JobStatusFailed {
		msg := "all tasks failed"
		upd.ErrorMessage = &msg
	}
	if err := e.store.UpdateJob(ctx, e.jobID, upd); err != nil {
		e.log.Error("mark job terminal", zap.Error(err))
	}

	e.emit(TypeComplete, CompletePayload{
		Status:        string(status),
		Completed:     completed,
		Failed:        failed,
		Total:         total,
		DurationHuman: elapsed.Round(time.Millisecond).String(),
	}, true)

	e.mu.Lock()
	e.done = true
	e.mu.Unlock()

	e.log.Info("bulk job finished",
		zap.String("status", string(status)),
		zap.Int("completed", completed),
		zap.Int("failed", failed),
		zap.Int("total", total),
		zap.Duration("elapsed", elapsed))
}

// emit places an event on the stream. Progress events are droppable
// when the consumer lags; the rest block until buffered.
func (e *Executor) emit(eventType string, payload any, mustDeliver bool) {
	event, err := newEvent(eventType, e.jobID, payload)
	if err != nil {
		e.log.Error("build event", zap.Error(err))
		return
	}

	if mustDeliver {
		e.events <- event
		return
	}
	select {
	case e.events <- event:
	default:
	}
}
