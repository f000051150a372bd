// Package file provides the file-backed [memory.Store].
//
// State lives in two artifacts: a binary vector index and a JSON turn log.
// Every successful Insert rewrites both through temp-file, fsync and rename,
// log first and index second. The index header carries the log's size, entry
// count and CRC32, so a crash between the two renames is detected on the next
// Open as [memory.ErrCorruptPersistentState] instead of silently misaligning
// ordinals.
//
// A store opened with [WithDeferredPersistence] skips the per-insert write;
// records become durable only on [Store.Flush] or [Store.Close].
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/vecgo/persistence"

	"github.com/MrWong99/voxmem/pkg/memory"
)

// Default artifact names, matching a fresh working directory layout.
const (
	DefaultIndexPath = "memory_index.bin"
	DefaultLogPath   = "chat_memory.json"
)

// Paths names the two durable artifacts of a store.
type Paths struct {
	IndexPath string
	LogPath   string
}

func (p Paths) withDefaults() Paths {
	if p.IndexPath == "" {
		p.IndexPath = DefaultIndexPath
	}
	if p.LogPath == "" {
		p.LogPath = DefaultLogPath
	}
	return p
}

// Store is the file-backed memory store. All methods are safe for concurrent
// use; writers are serialised and readers observe whole inserts only.
type Store struct {
	paths    Paths
	embedder *memory.Embedder
	logger   *slog.Logger
	deferred bool

	// save writes one artifact atomically. Replaced in tests to inject faults.
	save func(path string, write func(io.Writer) error) error

	mu          sync.RWMutex
	index       *memory.FlatIndex
	log         *memory.TurnLog
	dirty       bool
	needsReload bool
	closed      bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for persistence diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithDeferredPersistence turns off write-through. Inserts only update memory
// and mark the store dirty; a crash loses every record added since the last
// Flush or Close.
func WithDeferredPersistence() Option {
	return func(s *Store) { s.deferred = true }
}

// Open loads the store at paths, or starts an empty one when neither artifact
// exists. The embedder's dimension fixes the store's dimension.
//
// Open fails with [memory.ErrCorruptPersistentState] when only one artifact
// exists, when either cannot be decoded, or when they disagree on record
// count, log checksum or dimension. It never repairs a mismatch.
func Open(ctx context.Context, paths Paths, embedder *memory.Embedder, opts ...Option) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("file store: embedder must not be nil")
	}
	s := &Store{
		paths:    paths.withDefaults(),
		embedder: embedder,
		logger:   slog.Default(),
		save:     persistence.SaveToFile,
	}
	for _, o := range opts {
		o(s)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("file store: open: %w", err)
	}

	ix, log, err := load(s.paths, embedder.Dimension())
	if err != nil {
		return nil, fmt.Errorf("file store: open: %w", err)
	}
	if err := ensureDirs(s.paths); err != nil {
		return nil, fmt.Errorf("file store: open: %w", err)
	}
	s.index, s.log = ix, log

	s.logger.Info("memory store opened",
		"index", s.paths.IndexPath,
		"log", s.paths.LogPath,
		"records", log.Len(),
		"dimension", ix.Dim(),
		"model", embedder.ModelID(),
		"deferred", s.deferred,
	)
	return s, nil
}

// Insert implements [memory.Store].
func (s *Store) Insert(ctx context.Context, role memory.Role, content string) (int, error) {
	if !role.Valid() {
		return 0, fmt.Errorf("file store: insert: %w: %q", memory.ErrInvalidRole, role)
	}
	if err := s.writable(); err != nil {
		return 0, fmt.Errorf("file store: insert: %w", err)
	}

	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return 0, fmt.Errorf("file store: insert: %w", err)
	}

	ord, err := s.append(ctx, []memory.Turn{{Role: role, Content: content}}, [][]float32{vec})
	if err != nil {
		return 0, fmt.Errorf("file store: insert: %w", err)
	}
	return ord, nil
}

// InsertExchange implements [memory.Store]. Both turns share one append and
// one persist; a failure rolls both back.
func (s *Store) InsertExchange(ctx context.Context, userText, reply string) (int, int, error) {
	if err := s.writable(); err != nil {
		return 0, 0, fmt.Errorf("file store: insert exchange: %w", err)
	}

	userVec, err := s.embedder.Embed(ctx, userText)
	if err != nil {
		return 0, 0, fmt.Errorf("file store: insert exchange: %w", err)
	}
	replyVec, err := s.embedder.Embed(ctx, reply)
	if err != nil {
		return 0, 0, fmt.Errorf("file store: insert exchange: %w", err)
	}

	ord, err := s.append(ctx,
		[]memory.Turn{{Role: memory.RoleUser, Content: userText}, {Role: memory.RoleAssistant, Content: reply}},
		[][]float32{userVec, replyVec},
	)
	if err != nil {
		return 0, 0, fmt.Errorf("file store: insert exchange: %w", err)
	}
	return ord, ord + 1, nil
}

// append adds turns with their embeddings and, unless deferred, persists
// them. It returns the ordinal of the first turn. On any error the store holds
// exactly what it held before.
func (s *Store) append(ctx context.Context, turns []memory.Turn, vecs [][]float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writableLocked(); err != nil {
		return 0, err
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

	if s.deferred {
		s.dirty = true
		return prev, nil
	}

	if err := s.persistLocked(ctx); err != nil {
		rollback()
		s.restoreLocked(ctx, err)
		return 0, fmt.Errorf("%w: %w", memory.ErrPersistenceFailed, err)
	}
	return prev, nil
}

// restoreLocked rewrites the rolled-back state after a failed persist, since
// the log rename may already have replaced the previous log. On failure the
// durable state is unknown and the store refuses writes until Reload.
func (s *Store) restoreLocked(ctx context.Context, cause error) {
	if err := s.persistLocked(context.WithoutCancel(ctx)); err != nil {
		s.needsReload = true
		s.logger.Error("memory store: durable state unknown after failed persist",
			"cause", cause, "restore_err", err, "records", s.log.Len())
		return
	}
	s.logger.Warn("memory store: persist failed, rolled back", "err", cause, "records", s.log.Len())
}

// Search implements [memory.Store].
func (s *Store) Search(ctx context.Context, query string, topK int) ([]memory.Record, error) {
	s.mu.RLock()
	closed, n := s.closed, s.index.Len()
	s.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("file store: search: %w", memory.ErrClosed)
	}
	if n == 0 || topK <= 0 {
		return []memory.Record{}, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("file store: search: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	hits, err := s.index.Search(vec, topK)
	if err != nil {
		return nil, fmt.Errorf("file store: search: %w", err)
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

// Stats implements [memory.Store].
func (s *Store) Stats(_ context.Context) (memory.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memory.Stats{
		Records:     s.log.Len(),
		Dimension:   s.index.Dim(),
		Dirty:       s.dirty,
		NeedsReload: s.needsReload,
	}, nil
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

// Persist writes the current state to disk regardless of the dirty flag. A
// successful write also clears the needs-reload flag, because the durable
// artifacts then match memory again.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("file store: persist: %w", memory.ErrClosed)
	}
	if err := s.persistLocked(ctx); err != nil {
		return fmt.Errorf("file store: persist: %w: %w", memory.ErrPersistenceFailed, err)
	}
	s.needsReload = false
	return nil
}

// Flush persists pending records of a deferred store. It is a no-op when
// nothing is pending. On failure the records stay in memory and dirty.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	if err := s.persistLocked(ctx); err != nil {
		return fmt.Errorf("file store: flush: %w: %w", memory.ErrPersistenceFailed, err)
	}
	return nil
}

// Reload replaces the in-memory state with the durable artifacts. Unflushed
// records of a deferred store are discarded. A successful reload clears the
// needs-reload flag.
func (s *Store) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("file store: reload: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("file store: reload: %w", memory.ErrClosed)
	}

	ix, log, err := load(s.paths, s.embedder.Dimension())
	if err != nil {
		return fmt.Errorf("file store: reload: %w", err)
	}
	if s.dirty {
		s.logger.Warn("memory store: reload discarded unflushed records",
			"discarded", s.log.Len()-log.Len())
	}
	s.index, s.log = ix, log
	s.dirty, s.needsReload = false, false
	return nil
}

// Close flushes pending records and marks the store closed. Later calls are
// no-ops.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.dirty {
		return nil
	}
	if err := s.persistLocked(context.Background()); err != nil {
		return fmt.Errorf("file store: close: %w: %w", memory.ErrPersistenceFailed, err)
	}
	return nil
}

func (s *Store) writable() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writableLocked()
}

func (s *Store) writableLocked() error {
	switch {
	case s.closed:
		return memory.ErrClosed
	case s.needsReload:
		return memory.ErrNeedsReload
	default:
		return nil
	}
}

// persistLocked encodes both artifacts in memory, then replaces the log and
// the index in that order. The caller holds s.mu.
func (s *Store) persistLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logData, err := s.log.Encode()
	if err != nil {
		return err
	}
	var indexBuf bytes.Buffer
	if err := s.index.WriteTo(&indexBuf, memory.DigestOf(logData, s.log.Len())); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	if err := s.save(s.paths.LogPath, writeBytes(logData)); err != nil {
		return fmt.Errorf("write %s: %w", s.paths.LogPath, err)
	}
	if err := s.save(s.paths.IndexPath, writeBytes(indexBuf.Bytes())); err != nil {
		return fmt.Errorf("write %s: %w", s.paths.IndexPath, err)
	}
	s.dirty = false
	return nil
}

func writeBytes(data []byte) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}
}

// ── Loading ─────────────────────────────────────────────────────────────────

// Info summarises the durable artifacts of a store.
type Info struct {
	Records   int
	Dimension int
	Exists    bool
}

// Inspect validates the artifacts at paths without an embedder and reports
// what they contain. dim of zero accepts any dimension.
func Inspect(paths Paths, dim int) (Info, error) {
	paths = paths.withDefaults()
	ix, log, err := load(paths, dim)
	if err != nil {
		return Info{}, err
	}
	_, statErr := os.Stat(paths.IndexPath)
	return Info{Records: log.Len(), Dimension: ix.Dim(), Exists: statErr == nil}, nil
}

func load(paths Paths, dim int) (*memory.FlatIndex, *memory.TurnLog, error) {
	indexExists, err := exists(paths.IndexPath)
	if err != nil {
		return nil, nil, err
	}
	logExists, err := exists(paths.LogPath)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case !indexExists && !logExists:
		return memory.NewFlatIndex(dim), memory.NewTurnLog(), nil
	case !indexExists:
		return nil, nil, corrupt("turn log %s exists without index %s", paths.LogPath, paths.IndexPath)
	case !logExists:
		return nil, nil, corrupt("index %s exists without turn log %s", paths.IndexPath, paths.LogPath)
	}

	logData, err := os.ReadFile(paths.LogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", paths.LogPath, err)
	}
	log, err := memory.DecodeTurnLog(logData)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", memory.ErrCorruptPersistentState, err)
	}

	fi, err := os.Stat(paths.IndexPath)
	if err != nil {
		return nil, nil, fmt.Errorf("stat %s: %w", paths.IndexPath, err)
	}
	var (
		ix  *memory.FlatIndex
		hdr memory.IndexHeader
	)
	err = persistence.LoadFromFile(paths.IndexPath, func(r io.Reader) error {
		var rerr error
		ix, hdr, rerr = memory.ReadFlatIndex(r, dim, fi.Size())
		return rerr
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", memory.ErrCorruptPersistentState, paths.IndexPath, err)
	}
	if ix.Len() != log.Len() {
		return nil, nil, corrupt("index holds %d vectors, turn log holds %d entries", ix.Len(), log.Len())
	}
	digest := memory.DigestOf(logData, log.Len())
	if hdr.LogCount != digest.Count || hdr.LogSize != digest.Size || hdr.LogCRC != digest.CRC {
		return nil, nil, corrupt("turn log %s does not match the log recorded by index %s", paths.LogPath, paths.IndexPath)
	}
	return ix, log, nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", memory.ErrCorruptPersistentState, fmt.Sprintf(format, args...))
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
}

func ensureDirs(paths Paths) error {
	for _, p := range []string{paths.IndexPath, paths.LogPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", p, err)
		}
	}
	return nil
}

var _ memory.Store = (*Store)(nil)
