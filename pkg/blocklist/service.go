package blocklist

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a loaded index is served before the next
// lookup triggers a refresh.
const DefaultTTL = 24 * time.Hour

const maxFeedBytes = 16 << 20

// Match records that an identifier appears in one source.
type Match struct {
	// SourceName is the feed that listed the identifier.
	SourceName string `json:"source_name"`

	// ExtensionName is the name the feed associates with the id, when
	// the feed format carries one.
	ExtensionName string `json:"extension_name,omitempty"`

	// InfoURL links to the source's documentation.
	InfoURL string `json:"info_url,omitempty"`
}

// SourceStatus reports the last refresh outcome for one source.
type SourceStatus struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Format  Format `json:"format"`
	Entries int    `json:"entries"`
	Error   string `json:"error,omitempty"`
}

// Status is the service's observable state.
type Status struct {
	TotalEntries int            `json:"total_entries"`
	LastRefresh  *time.Time     `json:"last_refresh,omitempty"`
	TTL          time.Duration  `json:"-"`
	Sources      []SourceStatus `json:"sources"`
}

// Config configures a Service.
type Config struct {
	// Sources are the feeds to aggregate. Empty selects the defaults.
	Sources []Source

	// TTL is how long an index stays fresh. Zero selects DefaultTTL.
	TTL time.Duration

	// HTTPTimeout bounds each feed fetch. Zero selects 30s.
	HTTPTimeout time.Duration

	// Logger defaults to a nop logger.
	Logger *zap.Logger
}

// Service aggregates blocklist feeds into one id index.
//
// The index is built off to the side and swapped in under the write
// lock, so lookups never observe a partially built index. Concurrent
// refresh triggers collapse into one fetch via singleflight.
type Service struct {
	sources []Source
	ttl     time.Duration
	client  *http.Client
	log     *zap.Logger

	group singleflight.Group

	mu          sync.RWMutex
	index       map[string][]Match
	statuses    []SourceStatus
	lastRefresh time.Time
}

// NewService creates a service. No fetch happens until Refresh or the
// first stale lookup.
func NewService(cfg Config) *Service {
	if len(cfg.Sources) == 0 {
		cfg.Sources = DefaultSources()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Service{
		sources: cfg.Sources,
		ttl:     cfg.TTL,
		client:  &http.Client{Timeout: cfg.HTTPTimeout},
		log:     cfg.Logger.Named("blocklist"),
	}
}

// Check reports the sources listing an identifier, refreshing the index
// first if it has gone stale. Matching is case insensitive.
func (s *Service) Check(ctx context.Context, id string) ([]Match, error) {
	if err := s.RefreshIfStale(ctx); err != nil {
		// A failed refresh with a previously loaded index degrades to
		// serving stale data rather than failing the lookup.
		s.mu.RLock()
		loaded := s.index != nil
		s.mu.RUnlock()
		if !loaded {
			return nil, err
		}
		s.log.Warn("serving stale blocklist after refresh failure", zap.Error(err))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := s.index[strings.ToLower(strings.TrimSpace(id))]
	out := make([]Match, len(matches))
	copy(out, matches)
	return out, nil
}

// RefreshIfStale refreshes when the index is missing or older than the
// TTL. Concurrent callers share one refresh.
func (s *Service) RefreshIfStale(ctx context.Context) error {
	s.mu.RLock()
	fresh := s.index != nil && time.Since(s.lastRefresh) < s.ttl
	s.mu.RUnlock()
	if fresh {
		return nil
	}
	return s.Refresh(ctx)
}

// Refresh fetches every source and swaps in the rebuilt index. Sources
// that fail are recorded in the status and skipped; Refresh errors only
// when every source fails.
func (s *Service) Refresh(ctx context.Context) error {
	_, err, _ := s.group.Do("refresh", func() (any, error) {
		return nil, s.refresh(ctx)
	})
	return err
}

func (s *Service) refresh(ctx context.Context) error {
	index := make(map[string][]Match)
	statuses := make([]SourceStatus, 0, len(s.sources))
	failures := 0

	for _, src := range s.sources {
		status := SourceStatus{Name: src.Name, URL: src.URL, Format: src.Format}

		entries, err := s.fetchSource(ctx, src)
		if err != nil {
			failures++
			status.Error = err.Error()
			statuses = append(statuses, status)
			s.log.Warn("blocklist source fetch failed",
				zap.String("source", src.Name),
				zap.Error(err))
			continue
		}

		for _, entry := range entries {
			index[entry.ID] = append(index[entry.ID], Match{
				SourceName:    src.Name,
				ExtensionName: entry.Name,
				InfoURL:       src.InfoURL,
			})
		}
		status.Entries = len(entries)
		statuses = append(statuses, status)
	}

	if failures == len(s.sources) {
		return fmt.Errorf("all %d blocklist sources failed", len(s.sources))
	}

	s.mu.Lock()
	s.index = index
	s.statuses = statuses
	s.lastRefresh = time.Now().UTC()
	s.mu.Unlock()

	s.log.Info("blocklist refreshed",
		zap.Int("unique_ids", len(index)),
		zap.Int("sources", len(s.sources)),
		zap.Int("failed_sources", failures))
	return nil
}

func (s *Service) fetchSource(ctx context.Context, src Source) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", src.URL, resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src.URL, err)
	}

	return Parse(src.Format, payload)
}

// Status snapshots the current index state.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		TotalEntries: len(s.index),
		TTL:          s.ttl,
		Sources:      make([]SourceStatus, len(s.statuses)),
	}
	copy(st.Sources, s.statuses)
	if !s.lastRefresh.IsZero() {
		t := s.lastRefresh
		st.LastRefresh = &t
	}
	if len(st.Sources) == 0 {
		for _, src := range s.sources {
			st.Sources = append(st.Sources, SourceStatus{
				Name: src.Name, URL: src.URL, Format: src.Format,
			})
		}
	}
	return st
}
