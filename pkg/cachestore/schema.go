package cachestore

import (
	"context"
	"database/sql"
	"fmt"
)

const SchemaVersion = 2

// Migrate creates (or upgrades) the cache schema in-place.
//
// The schema supports:
// - current cache rows, one per (extension_id, store), upserted
// - append-only history snapshots for change tracking
// - durable bulk-job state
// - a search request log used for usage statistics
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS extension_cache (
			extension_id TEXT NOT NULL,
			store TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			publisher TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			version TEXT NOT NULL DEFAULT '',
			user_count TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			rating TEXT NOT NULL DEFAULT '',
			rating_count TEXT NOT NULL DEFAULT '',
			last_updated TEXT NOT NULL DEFAULT '',
			store_url TEXT NOT NULL DEFAULT '',
			icon_url TEXT NOT NULL DEFAULT '',
			homepage_url TEXT NOT NULL DEFAULT '',
			privacy_policy_url TEXT NOT NULL DEFAULT '',
			permissions TEXT NOT NULL DEFAULT '[]',
			found INTEGER NOT NULL DEFAULT 1,
			scraped_at TEXT NOT NULL,
			PRIMARY KEY(extension_id, store)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_extension_cache_scraped_at ON extension_cache(scraped_at);`,

		`CREATE TABLE IF NOT EXISTS extension_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			extension_id TEXT NOT NULL,
			store TEXT NOT NULL,
			version TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			permissions TEXT NOT NULL DEFAULT '[]',
			captured_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_extension_history_key ON extension_history(extension_id, store, captured_at);`,

		`CREATE TABLE IF NOT EXISTS bulk_jobs (
			job_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			extension_ids TEXT NOT NULL,
			stores TEXT NOT NULL,
			include_permissions INTEGER NOT NULL DEFAULT 0,
			total_tasks INTEGER NOT NULL,
			completed_tasks INTEGER NOT NULL DEFAULT 0,
			failed_tasks INTEGER NOT NULL DEFAULT 0,
			results TEXT,
			error_message TEXT,
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bulk_jobs_status ON bulk_jobs(status);`,
		`CREATE INDEX IF NOT EXISTS idx_bulk_jobs_created_at ON bulk_jobs(created_at);`,

		`CREATE TABLE IF NOT EXISTS search_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			extension_id TEXT NOT NULL,
			found_in_stores TEXT NOT NULL DEFAULT '',
			ip_address TEXT,
			user_agent TEXT,
			searched_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_search_history_searched_at ON search_history(searched_at);`,
		`CREATE INDEX IF NOT EXISTS idx_search_history_extension ON search_history(extension_id);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	// v2: bulk_jobs and search_history tables. Both are created in the
	// base stmts via CREATE TABLE IF NOT EXISTS, so upgrading from v1
	// needs no additional statements.

	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
