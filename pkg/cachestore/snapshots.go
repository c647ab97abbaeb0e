package cachestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/extrecon/extrecon/pkg/extension"
)

// RecordIfChanged appends a history snapshot for the record's key when
// the latest prior snapshot differs in version, display name, or
// permission set (compared as an unordered set), or when no snapshot
// exists yet. Returns whether a snapshot was appended.
//
// Snapshots are append-only: nothing in normal operation mutates or
// deletes them.
func (s *Store) RecordIfChanged(ctx context.Context, rec *extension.Record) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if rec == nil {
		return false, errors.New("record is nil")
	}

	latest, err := s.latestSnapshot(ctx, rec.ID, rec.Store)
	if err != nil {
		return false, err
	}

	if latest != nil &&
		latest.Version == rec.Version &&
		latest.Name == rec.Name &&
		extension.SamePermissions(latest.Permissions, rec.Permissions) {
		return false, nil
	}

	permissions, err := marshalPermissions(rec.Permissions)
	if err != nil {
		return false, fmt.Errorf("encode permissions: %w", err)
	}

	capturedAt := rec.ScrapedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extension_history
		 (extension_id, store, version, name, permissions, captured_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Store.String(), rec.Version, rec.Name, permissions, formatDBTime(capturedAt))
	if err != nil {
		return false, fmt.Errorf("insert snapshot: %w", err)
	}

	return true, nil
}

// History returns all snapshots for (id, store), oldest first.
func (s *Store) History(ctx context.Context, id string, store extension.Store) ([]extension.Snapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT extension_id, store, version, name, permissions, captured_at
		 FROM extension_history
		 WHERE extension_id = ? AND store = ?
		 ORDER BY captured_at ASC, id ASC`,
		id, store.String())
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshots []extension.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	return snapshots, nil
}

// latestSnapshot returns the most recently captured snapshot for a key,
// or nil when none exists.
func (s *Store) latestSnapshot(ctx context.Context, id string, store extension.Store) (*extension.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT extension_id, store, version, name, permissions, captured_at
		 FROM extension_history
		 WHERE extension_id = ? AND store = ?
		 ORDER BY captured_at DESC, id DESC
		 LIMIT 1`,
		id, store.String())

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func scanSnapshot(row rowScanner) (*extension.Snapshot, error) {
	var snap extension.Snapshot
	var store string
	var permissions string
	var capturedAt string

	if err := row.Scan(&snap.ID, &store, &snap.Version, &snap.Name, &permissions, &capturedAt); err != nil {
		return nil, err
	}

	snap.Store = extension.Store(store)

	var err error
	snap.Permissions, err = unmarshalPermissions(permissions)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot permissions: %w", err)
	}

	snap.CapturedAt, err = parseDBTime(capturedAt)
	if err != nil {
		return nil, fmt.Errorf("parse captured_at: %w", err)
	}

	return &snap, nil
}
