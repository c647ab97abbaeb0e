//go:build !cgo

package cachestore

import (
	"context"
	"database/sql"
	"fmt"

	sqlite "modernc.org/sqlite"
)

const driverSQLite = "extrecon-sqlite"

func init() {
	sql.Register(driverSQLite, &sqlite.Driver{})
}

// openDB opens a SQLite-backed cache database with the pure-Go driver.
func openDB(ctx context.Context, cfg Config) (*sql.DB, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}

	// A single connection must be pinned before first use so in-memory
	// databases are not silently duplicated per connection.
	if err := configureLocalSQLite(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache store: %w", err)
	}

	return db, nil
}
