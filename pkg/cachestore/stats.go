package cachestore

import (
	"context"
	"fmt"
	"time"
)

// SearchCount is one entry of the most-searched leaderboard.
type SearchCount struct {
	ExtensionID string `json:"extension_id"`
	Count       int64  `json:"count"`
}

// Stats aggregates cache and usage statistics.
type Stats struct {
	TotalCached      int64            `json:"total_cached"`
	ByStore          map[string]int64 `json:"by_store"`
	UniqueExtensions int64            `json:"unique_extensions"`
	Searches24h      int64            `json:"searches_24h"`
	TopSearched      []SearchCount    `json:"top_searched"`
}

// Stats computes database statistics across the cache and search log.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	stats := &Stats{ByStore: make(map[string]int64)}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM extension_cache`).Scan(&stats.TotalCached); err != nil {
		return nil, fmt.Errorf("count cache rows: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT store, COUNT(*) FROM extension_cache GROUP BY store`)
	if err != nil {
		return nil, fmt.Errorf("count by store: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var store string
		var count int64
		if err := rows.Scan(&store, &count); err != nil {
			return nil, fmt.Errorf("scan store count: %w", err)
		}
		stats.ByStore[store] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate store counts: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT extension_id) FROM extension_cache`).Scan(&stats.UniqueExtensions); err != nil {
		return nil, fmt.Errorf("count unique extensions: %w", err)
	}

	yesterday := formatDBTime(time.Now().UTC().Add(-24 * time.Hour))
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM search_history WHERE searched_at > ?`,
		yesterday).Scan(&stats.Searches24h); err != nil {
		return nil, fmt.Errorf("count recent searches: %w", err)
	}

	topRows, err := s.db.QueryContext(ctx,
		`SELECT extension_id, COUNT(*) as count
		 FROM search_history
		 GROUP BY extension_id
		 ORDER BY count DESC
		 LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("query top searched: %w", err)
	}
	defer func() { _ = topRows.Close() }()
	for topRows.Next() {
		var sc SearchCount
		if err := topRows.Scan(&sc.ExtensionID, &sc.Count); err != nil {
			return nil, fmt.Errorf("scan top searched: %w", err)
		}
		stats.TopSearched = append(stats.TopSearched, sc)
	}
	if err := topRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top searched: %w", err)
	}

	return stats, nil
}
