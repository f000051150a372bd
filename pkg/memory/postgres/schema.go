// Package postgres provides a PostgreSQL-backed [memory.Store].
//
// Turns live in a single table whose rows carry the ordinal, role, content and
// pgvector embedding together, so the index and the log cannot drift apart.
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	emb, _ := memory.NewEmbedder(provider, 1536)
//	store, err := postgres.NewStore(ctx, dsn, emb)
//	if err != nil { … }
//	ord, _ := store.Insert(ctx, memory.RoleUser, "Hello")
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxmem/pkg/memory"
)

// ddlTurns returns the DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddlTurns(dim int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS turns (
    ordinal     BIGINT       PRIMARY KEY,
    role        TEXT         NOT NULL CHECK (role IN ('user', 'assistant')),
    content     TEXT         NOT NULL,
    embedding   vector(%d)   NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`, dim)
}

// Migrate creates the turns table if it does not exist. It is idempotent and
// safe to call on every start.
//
// When the table already exists with a different embedding dimension Migrate
// returns [memory.ErrCorruptPersistentState] wrapping
// [memory.ErrDimensionMismatch]; changing the dimension requires a manual
// schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("postgres migrate: dimension must be positive, got %d", dim)
	}
	if _, err := pool.Exec(ctx, ddlTurns(dim)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}

	got, err := columnDimension(ctx, pool)
	if err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	if got != dim {
		return fmt.Errorf("postgres migrate: %w: %w: turns.embedding has dimension %d, embedder produces %d",
			memory.ErrCorruptPersistentState, memory.ErrDimensionMismatch, got, dim)
	}
	return nil
}

// columnDimension reads the declared dimension of turns.embedding. pgvector
// stores it as the column's type modifier.
func columnDimension(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	const q = `
		SELECT atttypmod
		FROM   pg_attribute
		WHERE  attrelid = 'turns'::regclass
		  AND  attname  = 'embedding'`

	var typmod int
	if err := pool.QueryRow(ctx, q).Scan(&typmod); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("turns table has no embedding column")
		}
		return 0, fmt.Errorf("read embedding dimension: %w", err)
	}
	return typmod, nil
}
