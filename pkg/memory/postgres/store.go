package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/voxmem/pkg/memory"
)

// insertLockKey is the advisory lock taken by every Insert so concurrent
// writers, including other processes, allocate ordinals one at a time.
const insertLockKey int64 = 0x766f786d656d // "voxmem"

var _ memory.Store = (*Store)(nil)

// Store is the PostgreSQL-backed memory store. All methods are safe for
// concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder *memory.Embedder
	logger   *slog.Logger

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for store diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a connection pool to the database at dsn, registers
// pgvector types on every connection and runs [Migrate] with the embedder's
// dimension.
func NewStore(ctx context.Context, dsn string, embedder *memory.Embedder, opts ...Option) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("postgres store: embedder must not be nil")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embedder.Dimension()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	s := &Store{pool: pool, embedder: embedder, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.logger.Info("memory store opened", "backend", "postgres", "dimension", embedder.Dimension(), "model", embedder.ModelID())
	return s, nil
}

// Insert implements [memory.Store]. The embedding is computed before the
// transaction starts; a failed transaction leaves no row behind.
func (s *Store) Insert(ctx context.Context, role memory.Role, content string) (int, error) {
	if !role.Valid() {
		return 0, fmt.Errorf("postgres store: insert: %w: %q", memory.ErrInvalidRole, role)
	}
	if err := s.open(); err != nil {
		return 0, fmt.Errorf("postgres store: insert: %w", err)
	}

	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return 0, fmt.Errorf("postgres store: insert: %w", err)
	}

	ord, err := s.insertTurns(ctx, []memory.Turn{{Role: role, Content: content}}, [][]float32{vec})
	if err != nil {
		return 0, fmt.Errorf("postgres store: insert: %w: %w", memory.ErrPersistenceFailed, err)
	}
	return ord, nil
}

// InsertExchange implements [memory.Store]. Both rows are inserted in one
// transaction under the insert lock, so they always hold adjacent ordinals.
func (s *Store) InsertExchange(ctx context.Context, userText, reply string) (int, int, error) {
	if err := s.open(); err != nil {
		return 0, 0, fmt.Errorf("postgres store: insert exchange: %w", err)
	}

	userVec, err := s.embedder.Embed(ctx, userText)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres store: insert exchange: %w", err)
	}
	replyVec, err := s.embedder.Embed(ctx, reply)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres store: insert exchange: %w", err)
	}

	ord, err := s.insertTurns(ctx,
		[]memory.Turn{{Role: memory.RoleUser, Content: userText}, {Role: memory.RoleAssistant, Content: reply}},
		[][]float32{userVec, replyVec},
	)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres store: insert exchange: %w: %w", memory.ErrPersistenceFailed, err)
	}
	return ord, ord + 1, nil
}

// insertTurns appends turns in one transaction and returns the first ordinal.
func (s *Store) insertTurns(ctx context.Context, turns []memory.Turn, vecs [][]float32) (int, error) {
	var first int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, insertLockKey); err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		const q = `
			INSERT INTO turns (ordinal, role, content, embedding)
			SELECT COALESCE(MAX(ordinal) + 1, 0), $1, $2, $3
			FROM   turns
			RETURNING ordinal`
		for i, t := range turns {
			var ord int64
			if err := tx.QueryRow(ctx, q, string(t.Role), t.Content, pgvector.NewVector(vecs[i])).Scan(&ord); err != nil {
				return err
			}
			if i == 0 {
				first = ord
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(first), nil
}

// Search implements [memory.Store]. Distances are squared L2 so results rank
// and compare the same way as the file-backed store.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]memory.Record, error) {
	if err := s.open(); err != nil {
		return nil, fmt.Errorf("postgres store: search: %w", err)
	}
	if topK <= 0 {
		return []memory.Record{}, nil
	}
	n, err := s.count(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search: %w", err)
	}
	if n == 0 {
		return []memory.Record{}, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search: %w", err)
	}

	const q = `
		SELECT ordinal, role, content, embedding <-> $1 AS distance
		FROM   turns
		ORDER  BY distance, ordinal
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Record, error) {
		var (
			r    memory.Record
			ord  int64
			role string
			dist float64
		)
		if err := row.Scan(&ord, &role, &r.Content, &dist); err != nil {
			return memory.Record{}, err
		}
		r.Ordinal = int(ord)
		r.Role = memory.Role(role)
		r.Distance = float32(dist * dist)
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if records == nil {
		records = []memory.Record{}
	}
	return records, nil
}

// Stats implements [memory.Store]. Writes are transactional, so Dirty and
// NeedsReload are always false.
func (s *Store) Stats(ctx context.Context) (memory.Stats, error) {
	if err := s.open(); err != nil {
		return memory.Stats{}, fmt.Errorf("postgres store: stats: %w", err)
	}
	n, err := s.count(ctx)
	if err != nil {
		return memory.Stats{}, fmt.Errorf("postgres store: stats: %w", err)
	}
	return memory.Stats{Records: n, Dimension: s.embedder.Dimension()}, nil
}

// Close releases all connections held by the pool. Later calls are no-ops.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.pool.Close()
	})
	return nil
}

func (s *Store) count(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM turns`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return int(n), nil
}

func (s *Store) open() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return memory.ErrClosed
	}
	return nil
}
