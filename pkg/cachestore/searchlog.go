package cachestore

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LogSearch appends one row to the search request log. Used only for
// the usage statistics surface; failures here never affect lookups.
func (s *Store) LogSearch(ctx context.Context, id string, foundInStores []string, ipAddress, userAgent string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_history
		 (extension_id, found_in_stores, ip_address, user_agent, searched_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, strings.Join(foundInStores, ","), ipAddress, userAgent,
		formatDBTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("log search: %w", err)
	}
	return nil
}
