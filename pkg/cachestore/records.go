package cachestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/extrecon/extrecon/pkg/extension"
)

const recordColumns = `extension_id, store, name, publisher, description, version,
	user_count, category, rating, rating_count, last_updated,
	store_url, icon_url, homepage_url, privacy_policy_url,
	permissions, found, scraped_at`

// Get returns the cached record for (id, store) if one exists and is
// within the freshness window. A nil record with a nil error means a
// cache miss (absent or stale).
func (s *Store) Get(ctx context.Context, id string, store extension.Store) (*extension.Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rec, err := s.current(ctx, id, store)
	if err != nil || rec == nil {
		return nil, err
	}

	if s.freshness != nil && time.Since(rec.ScrapedAt) > *s.freshness {
		return nil, nil
	}

	return rec, nil
}

// GetLastFound returns the current stored record for (id, store),
// ignoring freshness, but only when its found flag is set.
//
// Writes are upserts, so a found=false write destroys the prior row.
// Callers detecting delisting must call GetLastFound BEFORE saving a
// not-found record for the same key.
func (s *Store) GetLastFound(ctx context.Context, id string, store extension.Store) (*extension.Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rec, err := s.current(ctx, id, store)
	if err != nil || rec == nil {
		return nil, err
	}
	if !rec.Found {
		return nil, nil
	}
	return rec, nil
}

// current fetches the stored row for a key regardless of freshness.
func (s *Store) current(ctx context.Context, id string, store extension.Store) (*extension.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+`
		 FROM extension_cache
		 WHERE extension_id = ? AND store = ?`,
		id, store.String())

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cache row: %w", err)
	}
	return rec, nil
}

// Save upserts the cache row for the record's (id, store) key. The
// record's ScrapedAt is stamped with the current time when unset.
//
// For found records, history snapshot evaluation runs as a side effect
// after the row write; a snapshot append failure is returned but the
// cache row remains committed.
func (s *Store) Save(ctx context.Context, rec *extension.Record) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if rec == nil {
		return errors.New("record is nil")
	}
	if rec.ID == "" || rec.Store == "" {
		return errors.New("record key is incomplete")
	}

	if rec.ScrapedAt.IsZero() {
		rec.ScrapedAt = time.Now().UTC()
	}

	permissions, err := marshalPermissions(rec.Permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extension_cache (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(extension_id, store) DO UPDATE SET
		   name = excluded.name,
		   publisher = excluded.publisher,
		   description = excluded.description,
		   version = excluded.version,
		   user_count = excluded.user_count,
		   category = excluded.category,
		   rating = excluded.rating,
		   rating_count = excluded.rating_count,
		   last_updated = excluded.last_updated,
		   store_url = excluded.store_url,
		   icon_url = excluded.icon_url,
		   homepage_url = excluded.homepage_url,
		   privacy_policy_url = excluded.privacy_policy_url,
		   permissions = excluded.permissions,
		   found = excluded.found,
		   scraped_at = excluded.scraped_at`,
		rec.ID, rec.Store.String(), rec.Name, rec.Publisher, rec.Description, rec.Version,
		rec.UserCount, rec.Category, rec.Rating, rec.RatingCount, rec.LastUpdated,
		rec.StoreURL, rec.IconURL, rec.HomepageURL, rec.PrivacyPolicyURL,
		permissions, boolToInt(rec.Found), formatDBTime(rec.ScrapedAt))
	if err != nil {
		return fmt.Errorf("upsert cache row: %w", err)
	}

	if rec.Found {
		if _, err := s.RecordIfChanged(ctx, rec); err != nil {
			return fmt.Errorf("record history snapshot: %w", err)
		}
	}

	return nil
}

// Cleanup deletes cache rows scraped before the cutoff and returns the
// number of rows removed. Retention only; correctness never depends on
// it.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM extension_cache WHERE scraped_at < ?`,
		formatDBTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("cleanup cache: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup rows affected: %w", err)
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*extension.Record, error) {
	var rec extension.Record
	var store string
	var permissions string
	var found int
	var scrapedAt string

	err := row.Scan(
		&rec.ID, &store, &rec.Name, &rec.Publisher, &rec.Description, &rec.Version,
		&rec.UserCount, &rec.Category, &rec.Rating, &rec.RatingCount, &rec.LastUpdated,
		&rec.StoreURL, &rec.IconURL, &rec.HomepageURL, &rec.PrivacyPolicyURL,
		&permissions, &found, &scrapedAt)
	if err != nil {
		return nil, err
	}

	rec.Store = extension.Store(store)
	rec.Found = found != 0
	rec.Cached = true

	rec.Permissions, err = unmarshalPermissions(permissions)
	if err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}

	rec.ScrapedAt, err = parseDBTime(scrapedAt)
	if err != nil {
		return nil, fmt.Errorf("parse scraped_at: %w", err)
	}

	return &rec, nil
}

func marshalPermissions(perms []string) (string, error) {
	if len(perms) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(perms)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalPermissions(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var perms []string
	if err := json.Unmarshal([]byte(raw), &perms); err != nil {
		return nil, err
	}
	return perms, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseDBTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		// Tolerate second-precision rows written by older versions.
		t, err = time.Parse(time.RFC3339, raw)
	}
	return t, err
}

func parseOptionalDBTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := parseDBTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
