package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/MrWong99/voxmem/pkg/memory"

	_ "modernc.org/sqlite" // SQLite driver registration
)

var _ memory.Store = (*Store)(nil)

// Store is the SQLite-backed memory store. All methods are safe for
// concurrent use.
type Store struct {
	db       *sql.DB
	path     string
	embedder *memory.Embedder
	logger   *slog.Logger

	busyTimeout int

	mu     sync.RWMutex
	index  *memory.FlatIndex
	log    *memory.TurnLog
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for store diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithBusyTimeout sets how long, in milliseconds, a statement waits for a
// lock held by another connection.
func WithBusyTimeout(ms int) Option {
	return func(s *Store) { s.busyTimeout = ms }
}

// Open opens or creates the database at path, migrates the schema and loads
// every stored turn. Rows that do not form a contiguous ordinal sequence
// starting at 0, or whose embedding has the wrong size, are reported as
// [memory.ErrCorruptPersistentState].
func Open(ctx context.Context, path string, embedder *memory.Embedder, opts ...Option) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("sqlite: embedder must not be nil")
	}
	if path == "" {
		return nil, fmt.Errorf("sqlite: path must not be empty")
	}
	s := &Store{
		path:        path,
		embedder:    embedder,
		logger:      slog.Default(),
		busyTimeout: defaultBusyTimeout,
		index:       memory.NewFlatIndex(embedder.Dimension()),
		log:         memory.NewTurnLog(),
	}
	for _, o := range opts {
		o(s)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// SQLite handles one writer at a time; one connection keeps PRAGMAs applied.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", s.busyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	if err := migrate(ctx, db, embedder.Dimension()); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.db = db

	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.logger.Info("memory store opened",
		"backend", "sqlite",
		"path", path,
		"records", s.log.Len(),
		"dimension", embedder.Dimension(),
		"model", embedder.ModelID(),
	)
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT ordinal, role, content, embedding FROM turns ORDER BY ordinal`)
	if err != nil {
		return fmt.Errorf("sqlite: load turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			ord     int64
			role    string
			content string
			blob    []byte
		)
		if err := rows.Scan(&ord, &role, &content, &blob); err != nil {
			return fmt.Errorf("sqlite: scan turn: %w", err)
		}
		if int(ord) != s.index.Len() {
			return fmt.Errorf("sqlite: %w: ordinal %d found where %d was expected",
				memory.ErrCorruptPersistentState, ord, s.index.Len())
		}
		r, err := memory.ParseRole(role)
		if err != nil {
			return fmt.Errorf("sqlite: %w: turn %d: %w", memory.ErrCorruptPersistentState, ord, err)
		}
		vec, err := decodeVector(blob, s.index.Dim())
		if err != nil {
			return fmt.Errorf("sqlite: %w: turn %d: %w", memory.ErrCorruptPersistentState, ord, err)
		}
		if _, err := s.index.Add(vec); err != nil {
			return fmt.Errorf("sqlite: %w: turn %d: %w", memory.ErrCorruptPersistentState, ord, err)
		}
		if _, err := s.log.Append(memory.Turn{Role: r, Content: content}); err != nil {
			return fmt.Errorf("sqlite: %w: turn %d: %w", memory.ErrCorruptPersistentState, ord, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: load turns: %w", err)
	}
	return nil
}

// Insert implements [memory.Store]. The embedding is computed outside the
// lock; a failed write rolls the in-memory index and log back.
func (s *Store) Insert(ctx context.Context, role memory.Role, content string) (int, error) {
	if !role.Valid() {
		return 0, fmt.Errorf("sqlite store: insert: %w: %q", memory.ErrInvalidRole, role)
	}
	if err := s.open(); err != nil {
		return 0, fmt.Errorf("sqlite store: insert: %w", err)
	}

	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: insert: %w", err)
	}

	ord, err := s.append(ctx, []memory.Turn{{Role: role, Content: content}}, [][]float32{vec})
	if err != nil {
		return 0, fmt.Errorf("sqlite store: insert: %w", err)
	}
	return ord, nil
}

// InsertExchange implements [memory.Store]. Both rows are written in one
// transaction.
func (s *Store) InsertExchange(ctx context.Context, userText, reply string) (int, int, error) {
	if err := s.open(); err != nil {
		return 0, 0, fmt.Errorf("sqlite store: insert exchange: %w", err)
	}

	userVec, err := s.embedder.Embed(ctx, userText)
	if err != nil {
		return 0, 0, fmt.Errorf("sqlite store: insert exchange: %w", err)
	}
	replyVec, err := s.embedder.Embed(ctx, reply)
	if err != nil {
		return 0, 0, fmt.Errorf("sqlite store: insert exchange: %w", err)
	}

	ord, err := s.append(ctx,
		[]memory.Turn{{Role: memory.RoleUser, Content: userText}, {Role: memory.RoleAssistant, Content: reply}},
		[][]float32{userVec, replyVec},
	)
	if err != nil {
		return 0, 0, fmt.Errorf("sqlite store: insert exchange: %w", err)
	}
	return ord, ord + 1, nil
}

// append adds turns in memory, then commits their rows in one transaction.
// It returns the first turn's ordinal; on failure memory is rolled back.
func (s *Store) append(ctx context.Context, turns []memory.Turn, vecs [][]float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, memory.ErrClosed
	}

	prev := s.index.Len()
	rollback := func() {
		s.index.Truncate(prev)
		s.log.Truncate(prev)
	}
	for i, t := range turns {
		if _, err := s.index.Add(vecs[i]); err != nil {
			rollback()
			return 0, err
		}
		if _, err := s.log.Append(t); err != nil {
			rollback()
			return 0, err
		}
	}

	if err := s.writeRows(ctx, prev, turns, vecs); err != nil {
		rollback()
		return 0, fmt.Errorf("%w: %w", memory.ErrPersistenceFailed, err)
	}
	return prev, nil
}

func (s *Store) writeRows(ctx context.Context, first int, turns []memory.Turn, vecs [][]float32) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, t := range turns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (ordinal, role, content, embedding) VALUES (?, ?, ?, ?)`,
			first+i, string(t.Role), t.Content, encodeVector(vecs[i]),
		); err != nil {
			return fmt.Errorf("insert turn %d: %w", first+i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Search implements [memory.Store].
func (s *Store) Search(ctx context.Context, query string, topK int) ([]memory.Record, error) {
	s.mu.RLock()
	closed, n := s.closed, s.index.Len()
	s.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("sqlite store: search: %w", memory.ErrClosed)
	}
	if n == 0 || topK <= 0 {
		return []memory.Record{}, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: search: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	hits, err := s.index.Search(vec, topK)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: search: %w", err)
	}
	out := make([]memory.Record, 0, len(hits))
	for _, h := range hits {
		t, ok := s.log.At(h.Ordinal)
		if !ok {
			continue
		}
		out = append(out, memory.Record{
			Ordinal:  h.Ordinal,
			Role:     t.Role,
			Content:  t.Content,
			Distance: h.Distance,
		})
	}
	return out, nil
}

// Stats implements [memory.Store]. Every insert is committed before it
// returns, so Dirty and NeedsReload are always false.
func (s *Store) Stats(_ context.Context) (memory.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return memory.Stats{}, fmt.Errorf("sqlite store: stats: %w", memory.ErrClosed)
	}
	return memory.Stats{Records: s.log.Len(), Dimension: s.index.Dim()}, nil
}

// Records returns every stored turn in ordinal order.
func (s *Store) Records() []memory.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.log.Turns()
	out := make([]memory.Record, len(turns))
	for i, t := range turns {
		out[i] = memory.Record{Ordinal: i, Role: t.Role, Content: t.Content}
	}
	return out
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database. Later calls return the first result.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.closeErr = s.db.Close()
		s.logger.Info("memory store closed", "backend", "sqlite", "path", s.path)
	})
	return s.closeErr
}

func (s *Store) open() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return memory.ErrClosed
	}
	return nil
}

// ── Vector encoding ──────────────────────────────────────────────────────────

// encodeVector packs vec as little-endian float32 values.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte, dim int) ([]float32, error) {
	if len(blob) != 4*dim {
		return nil, fmt.Errorf("%w: embedding has %d bytes, want %d", memory.ErrDimensionMismatch, len(blob), 4*dim)
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return vec, nil
}
