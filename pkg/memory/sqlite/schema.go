// Package sqlite provides a SQLite-backed [memory.Store] using
// modernc.org/sqlite (pure Go, no CGO).
//
// Each turn is one row carrying its ordinal, role, content and embedding, so
// the index and the log are written by a single statement and cannot drift
// apart. Vectors are kept in an in-memory [memory.FlatIndex] loaded on open;
// search is exact and ranks exactly like the file backend.
//
// A database is owned by one process at a time.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/MrWong99/voxmem/pkg/memory"
)

const schemaVersion = 1

// defaultBusyTimeout is the PRAGMA busy_timeout in milliseconds.
const defaultBusyTimeout = 5000

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS turns (
		ordinal    INTEGER PRIMARY KEY,
		role       TEXT    NOT NULL CHECK (role IN ('user', 'assistant')),
		content    TEXT    NOT NULL,
		embedding  BLOB    NOT NULL,
		created_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
}

// migrate creates the schema and records dim on first use. A database created
// for another dimension is reported as [memory.ErrCorruptPersistentState]
// wrapping [memory.ErrDimensionMismatch].
func migrate(ctx context.Context, db *sql.DB, dim int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: migrate: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}

	for key, value := range map[string]int{"schema_version": schemaVersion, "dimension": dim} {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)`, key, strconv.Itoa(value)); err != nil {
			return fmt.Errorf("sqlite: migrate: write %s: %w", key, err)
		}
	}

	got, err := metaInt(ctx, tx, "dimension")
	if err != nil {
		return err
	}
	if got != dim {
		return fmt.Errorf("sqlite: %w: %w: database has dimension %d, embedder produces %d",
			memory.ErrCorruptPersistentState, memory.ErrDimensionMismatch, got, dim)
	}
	version, err := metaInt(ctx, tx, "schema_version")
	if err != nil {
		return err
	}
	if version > schemaVersion {
		return fmt.Errorf("sqlite: %w: schema version %d is newer than supported %d",
			memory.ErrCorruptPersistentState, version, schemaVersion)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: migrate: commit: %w", err)
	}
	return nil
}

func metaInt(ctx context.Context, tx *sql.Tx, key string) (int, error) {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("sqlite: %w: meta key %q missing", memory.ErrCorruptPersistentState, key)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: read meta %s: %w", key, err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("sqlite: %w: meta %s = %q", memory.ErrCorruptPersistentState, key, raw)
	}
	return n, nil
}
