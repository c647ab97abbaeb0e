package bulk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/extrecon/extrecon/pkg/blocklist"
	"github.com/extrecon/extrecon/pkg/cachestore"
	"github.com/extrecon/extrecon/pkg/extension"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Submission limits.
const (
	// MaxExtensionsPerJob caps how many identifiers one job may carry.
	MaxExtensionsPerJob = 50

	// DefaultMaxActiveJobs caps concurrently running executors.
	DefaultMaxActiveJobs = 10
)

// Validation and admission errors.
var (
	// ErrNoExtensions indicates an empty identifier list.
	ErrNoExtensions = errors.New("no extension ids provided")

	// ErrTooManyExtensions indicates the identifier list exceeds the
	// per-job cap.
	ErrTooManyExtensions = fmt.Errorf("too many extension ids (max %d)", MaxExtensionsPerJob)

	// ErrNoValidStores indicates no requested store is recognized.
	ErrNoValidStores = errors.New("no recognized stores requested")

	// ErrTooManyActiveJobs indicates the active-job cap was hit.
	ErrTooManyActiveJobs = errors.New("too many active jobs")

	// ErrJobNotFound indicates an unknown job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobFinished indicates a cancel request for a job that already
	// reached a terminal status.
	ErrJobFinished = errors.New("job already finished")
)

// SubmitRequest describes a new bulk job.
type SubmitRequest struct {
	// ExtensionIDs are the identifiers to resolve. Blank entries are
	// dropped, duplicates collapsed.
	ExtensionIDs []string

	// Stores are the storefronts to query. Empty means all known
	// stores; unrecognized names are dropped.
	Stores []string

	// IncludePermissions requests manifest permission extraction.
	IncludePermissions bool
}

// ManagerConfig configures job admission and execution.
type ManagerConfig struct {
	// MaxActiveJobs caps concurrent executors. Zero selects the
	// default.
	MaxActiveJobs int

	// Executor configures each job's executor.
	Executor Config

	// Logger defaults to a nop logger.
	Logger *zap.Logger
}

// Manager admits, runs, and tracks bulk jobs.
//
// Terminal executors are reaped lazily on the next submission, so the
// active map never grows past the cap plus finished stragglers between
// submissions.
type Manager struct {
	store     *cachestore.Store
	registry  AdapterRegistry
	blocklist *blocklist.Service
	cfg       ManagerConfig
	log       *zap.Logger

	mu     sync.Mutex
	active map[string]*Executor
}

// NewManager creates a job manager. The blocklist service is optional.
func NewManager(store *cachestore.Store, registry AdapterRegistry, bl *blocklist.Service,
	cfg ManagerConfig) *Manager {
	if cfg.MaxActiveJobs <= 0 {
		cfg.MaxActiveJobs = DefaultMaxActiveJobs
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.Executor.Logger = cfg.Logger

	return &Manager{
		store:     store,
		registry:  registry,
		blocklist: bl,
		cfg:       cfg,
		log:       cfg.Logger.Named("bulkmanager"),
		active:    make(map[string]*Executor),
	}
}

// Submit validates a request, persists the pending job row, and starts
// its executor in the background. The returned job reflects the row as
// created.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*cachestore.Job, error) {
	ids := normalizeIDs(req.ExtensionIDs)
	if len(ids) == 0 {
		return nil, ErrNoExtensions
	}
	if len(ids) > MaxExtensionsPerJob {
		return nil, ErrTooManyExtensions
	}

	stores := normalizeStores(req.Stores)
	if len(stores) == 0 {
		return nil, ErrNoValidStores
	}

	m.mu.Lock()
	m.reapLocked()
	if len(m.active) >= m.cfg.MaxActiveJobs {
		m.mu.Unlock()
		return nil, ErrTooManyActiveJobs
	}
	m.mu.Unlock()

	job := &cachestore.Job{
		JobID:              uuid.NewString(),
		Status:             cachestore.JobStatusPending,
		ExtensionIDs:       ids,
		Stores:             stores,
		IncludePermissions: req.IncludePermissions,
		TotalTasks:         len(ids) * len(stores),
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	exec := NewExecutor(m.store, m.registry, m.blocklist, job, m.cfg.Executor)

	m.mu.Lock()
	m.active[job.JobID] = exec
	m.mu.Unlock()

	// The job outlives the submitting request, so it runs on its own
	// context.
	go exec.Run(context.Background())

	m.log.Info("bulk job submitted",
		zap.String("job_id", job.JobID),
		zap.Int("extensions", len(ids)),
		zap.Int("stores", len(stores)),
		zap.Int("total_tasks", job.TotalTasks))
	return job, nil
}

// Get loads a job's durable state.
func (m *Manager) Get(ctx context.Context, jobID string) (*cachestore.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Events returns the live event stream for a job still held in memory.
// The second return value is false when the job is unknown or already
// reaped; callers fall back to polling the durable row.
func (m *Manager) Events(jobID string) (<-chan Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.active[jobID]
	if !ok {
		return nil, false
	}
	return exec.Events(), true
}

// Cancel requests cancellation of a running job. Jobs already terminal
// are left untouched.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	m.mu.Lock()
	exec, ok := m.active[jobID]
	m.mu.Unlock()

	// A terminal executor awaiting reap is no longer cancellable; the
	// durable row decides the rejection below.
	if ok && !exec.Done() {
		exec.Cancel()
		return nil
	}

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: job %s is already %s", ErrJobFinished, jobID, job.Status)
	}

	// No executor but not terminal: orphaned row from a previous
	// process. Mark it cancelled directly.
	cancelled := cachestore.JobStatusCancelled
	return m.store.UpdateJob(ctx, jobID, cachestore.JobUpdate{Status: &cancelled})
}

// ActiveCount reports how many executors are still tracked.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked()
	return len(m.active)
}

func (m *Manager) reapLocked() {
	for id, exec := range m.active {
		if exec.Done() {
			delete(m.active, id)
		}
	}
}

func normalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func normalizeStores(names []string) []string {
	if len(names) == 0 {
		stores := extension.KnownStores()
		out := make([]string, len(stores))
		for i, st := range stores {
			out[i] = st.String()
		}
		return out
	}

	seen := make(map[extension.Store]struct{}, len(names))
	var out []string
	for _, name := range names {
		st, ok := extension.ParseStore(name)
		if !ok {
			continue
		}
		if _, dup := seen[st]; dup {
			continue
		}
		seen[st] = struct{}{}
		out = append(out, st.String())
	}
	return out
}
