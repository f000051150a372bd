package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/MrWong99/voxmem/pkg/memory"
	"github.com/MrWong99/voxmem/pkg/memory/sqlite"
	"github.com/MrWong99/voxmem/pkg/provider/embeddings/mock"
)

const testDim = 2

func greetingProvider() *mock.Provider {
	return &mock.Provider{
		DimensionsValue: testDim,
		Vectors: map[string][]float32{
			"Hello":          {1, 0},
			"Hi there":       {0.9, 0.1},
			"greeting":       {0.95, 0.05},
			"Tax law":        {-5, 9},
			"Section 179...": {-5, 8},
		},
		EmbedResult: []float32{0, 0},
	}
}

func openStore(t *testing.T, path string, p *mock.Provider, dim int) (*sqlite.Store, error) {
	t.Helper()
	emb, err := memory.NewEmbedder(p, dim)
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}
	s, err := sqlite.Open(context.Background(), path, emb)
	if err == nil {
		t.Cleanup(func() { _ = s.Close() })
	}
	return s, err
}

func mustOpen(t *testing.T, path string, p *mock.Provider) *sqlite.Store {
	t.Helper()
	s, err := openStore(t, path, p, testDim)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

// exec runs stmt against the database file through a separate connection.
func exec(t *testing.T, path, stmt string, args ...any) error {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	_, err = db.Exec(stmt, args...)
	return err
}

func insertAll(t *testing.T, s *sqlite.Store, turns ...memory.Turn) {
	t.Helper()
	for _, turn := range turns {
		if _, err := s.Insert(context.Background(), turn.Role, turn.Content); err != nil {
			t.Fatalf("Insert(%q): %v", turn.Content, err)
		}
	}
}

var greetingTurns = []memory.Turn{
	{Role: memory.RoleUser, Content: "Hello"},
	{Role: memory.RoleAssistant, Content: "Hi there"},
	{Role: memory.RoleUser, Content: "Tax law"},
	{Role: memory.RoleAssistant, Content: "Section 179..."},
}

func TestStore_GreetingScenario(t *testing.T) {
	t.Parallel()

	p := greetingProvider()
	s := mustOpen(t, filepath.Join(t.TempDir(), "memory.db"), p)
	ctx := context.Background()

	got, err := s.Search(ctx, "greeting", 5)
	if err != nil {
		t.Fatalf("Search on empty store: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("empty store returned %d records", len(got))
	}
	if p.CallCount() != 0 {
		t.Errorf("embedder called %d times for empty store", p.CallCount())
	}

	for i, turn := range greetingTurns {
		ord, err := s.Insert(ctx, turn.Role, turn.Content)
		if err != nil {
			t.Fatalf("Insert(%q): %v", turn.Content, err)
		}
		if ord != i {
			t.Errorf("Insert(%q) ordinal = %d, want %d", turn.Content, ord, i)
		}
	}

	got, err = s.Search(ctx, "greeting", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 || got[0].Ordinal != 0 || got[1].Ordinal != 1 {
		t.Fatalf("Search = %+v, want ordinals 0 and 1", got)
	}
	if got[0].Distance > got[1].Distance {
		t.Errorf("results not in ascending distance: %+v", got)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Records != 4 || st.Dimension != testDim || st.Dirty || st.NeedsReload {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestStore_ReopenRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "memory.db")
	first := mustOpen(t, path, greetingProvider())
	insertAll(t, first, greetingTurns...)
	want, err := first.Search(context.Background(), "greeting", 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := mustOpen(t, path, greetingProvider())
	records := second.Records()
	if len(records) != len(greetingTurns) {
		t.Fatalf("reopened %d records, want %d", len(records), len(greetingTurns))
	}
	for i, r := range records {
		if r.Ordinal != i || r.Role != greetingTurns[i].Role || r.Content != greetingTurns[i].Content {
			t.Errorf("record %d = %+v, want %+v", i, r, greetingTurns[i])
		}
	}
	got, err := second.Search(context.Background(), "greeting", 4)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("hit %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestStore_FailuresLeaveStoreUnchanged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		prepare func(p *mock.Provider)
		role    memory.Role
		wantErr error
	}{
		{
			name:    "embedding unavailable",
			prepare: func(p *mock.Provider) { p.EmbedErr = errors.New("connection refused") },
			role:    memory.RoleUser,
			wantErr: memory.ErrEmbeddingUnavailable,
		},
		{
			name:    "dimension mismatch",
			prepare: func(p *mock.Provider) { p.Vectors = nil; p.EmbedResult = []float32{1, 2, 3} },
			role:    memory.RoleUser,
			wantErr: memory.ErrDimensionMismatch,
		},
		{
			name:    "invalid role",
			prepare: func(*mock.Provider) {},
			role:    memory.Role("system"),
			wantErr: memory.ErrInvalidRole,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := greetingProvider()
			s := mustOpen(t, filepath.Join(t.TempDir(), "memory.db"), p)
			insertAll(t, s, greetingTurns[0])
			tt.prepare(p)

			if _, err := s.Insert(context.Background(), tt.role, "Hi there"); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Insert = %v, want %v", err, tt.wantErr)
			}
			st, _ := s.Stats(context.Background())
			if st.Records != 1 {
				t.Errorf("records = %d, want 1", st.Records)
			}
		})
	}
}

func TestStore_WriteFailureRollsBack(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "memory.db")
	s := mustOpen(t, path, greetingProvider())
	insertAll(t, s, greetingTurns[0])

	// Another writer takes the next ordinal behind the store's back.
	if err := exec(t, path, `INSERT INTO turns (ordinal, role, content, embedding) VALUES (1, 'user', 'x', x'0000000000000000')`); err != nil {
		t.Fatalf("external insert: %v", err)
	}

	_, err := s.Insert(context.Background(), memory.RoleAssistant, "Hi there")
	if !errors.Is(err, memory.ErrPersistenceFailed) {
		t.Fatalf("Insert = %v, want ErrPersistenceFailed", err)
	}
	if got := s.Records(); len(got) != 1 {
		t.Errorf("records after failed insert = %d, want 1", len(got))
	}
	hits, err := s.Search(context.Background(), "greeting", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Ordinal != 0 {
		t.Errorf("Search = %+v, want only ordinal 0", hits)
	}
}

func TestStore_InsertExchange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "memory.db")
	s := mustOpen(t, path, greetingProvider())
	insertAll(t, s, greetingTurns[2:]...)

	u, a, err := s.InsertExchange(context.Background(), "Hello", "Hi there")
	if err != nil {
		t.Fatalf("InsertExchange: %v", err)
	}
	if u != 2 || a != 3 {
		t.Errorf("ordinals = (%d, %d), want (2, 3)", u, a)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	records := mustOpen(t, path, greetingProvider()).Records()
	if len(records) != 4 {
		t.Fatalf("reopened %d records, want 4", len(records))
	}
	if records[2].Role != memory.RoleUser || records[2].Content != "Hello" ||
		records[3].Role != memory.RoleAssistant || records[3].Content != "Hi there" {
		t.Errorf("stored exchange = %+v, %+v", records[2], records[3])
	}
}

func TestStore_InsertExchangeFailureStoresNeither(t *testing.T) {
	t.Parallel()

	t.Run("reply embedding unavailable", func(t *testing.T) {
		t.Parallel()

		p := greetingProvider()
		p.EmbedFunc = func(string) ([]float32, error) {
			return nil, errors.New("embedding API down")
		}
		s := mustOpen(t, filepath.Join(t.TempDir(), "memory.db"), p)

		if _, _, err := s.InsertExchange(context.Background(), "Hello", "reply"); !errors.Is(err, memory.ErrEmbeddingUnavailable) {
			t.Fatalf("InsertExchange = %v, want ErrEmbeddingUnavailable", err)
		}
		if got := s.Records(); len(got) != 0 {
			t.Errorf("records after failed exchange = %d, want 0", len(got))
		}
	})

	t.Run("second row rejected", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "memory.db")
		s := mustOpen(t, path, greetingProvider())
		insertAll(t, s, greetingTurns[0])

		// Another writer takes the reply's ordinal; the user row must not survive.
		if err := exec(t, path, `INSERT INTO turns (ordinal, role, content, embedding) VALUES (2, 'user', 'x', x'0000000000000000')`); err != nil {
			t.Fatalf("external insert: %v", err)
		}

		_, _, err := s.InsertExchange(context.Background(), "Hi there", "greeting")
		if !errors.Is(err, memory.ErrPersistenceFailed) {
			t.Fatalf("InsertExchange = %v, want ErrPersistenceFailed", err)
		}
		if got := s.Records(); len(got) != 1 {
			t.Errorf("records after failed exchange = %d, want 1", len(got))
		}
		if n := countRows(t, path, `SELECT COUNT(*) FROM turns WHERE ordinal = 1`); n != 0 {
			t.Errorf("user row of failed exchange persisted (%d rows)", n)
		}
	})
}

func countRows(t *testing.T, path, query string) int {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(query).Scan(&n); err != nil {
		t.Fatalf("query: %v", err)
	}
	return n
}

func TestOpen_Corruption(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		damage string
	}{
		{"ordinal gap", `DELETE FROM turns WHERE ordinal = 0`},
		{"short embedding", `UPDATE turns SET embedding = x'00' WHERE ordinal = 1`},
		{"newer schema", `UPDATE meta SET value = '99' WHERE key = 'schema_version'`},
		{"unreadable dimension", `UPDATE meta SET value = 'wide' WHERE key = 'dimension'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "memory.db")
			s := mustOpen(t, path, greetingProvider())
			insertAll(t, s, greetingTurns[:2]...)
			if err := s.Close(); err != nil {
				t.Fatal(err)
			}
			if err := exec(t, path, tt.damage); err != nil {
				t.Fatalf("damage: %v", err)
			}

			if _, err := openStore(t, path, greetingProvider(), testDim); !errors.Is(err, memory.ErrCorruptPersistentState) {
				t.Fatalf("Open = %v, want ErrCorruptPersistentState", err)
			}
		})
	}
}

func TestOpen_OtherDimension(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "memory.db")
	s := mustOpen(t, path, greetingProvider())
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	_, err := openStore(t, path, &mock.Provider{DimensionsValue: 8, EmbedResult: make([]float32, 8)}, 8)
	if !errors.Is(err, memory.ErrCorruptPersistentState) || !errors.Is(err, memory.ErrDimensionMismatch) {
		t.Fatalf("Open = %v, want corrupt state with dimension mismatch", err)
	}
}

func TestOpen_Validation(t *testing.T) {
	t.Parallel()

	if _, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "m.db"), nil); err == nil {
		t.Error("nil embedder should be rejected")
	}
	emb, err := memory.NewEmbedder(greetingProvider(), testDim)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sqlite.Open(context.Background(), "", emb); err == nil {
		t.Error("empty path should be rejected")
	}
}

func TestStore_Closed(t *testing.T) {
	t.Parallel()

	s := mustOpen(t, filepath.Join(t.TempDir(), "memory.db"), greetingProvider())
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	ctx := context.Background()
	if _, err := s.Insert(ctx, memory.RoleUser, "Hello"); !errors.Is(err, memory.ErrClosed) {
		t.Errorf("Insert after Close = %v", err)
	}
	if _, err := s.Search(ctx, "Hello", 1); !errors.Is(err, memory.ErrClosed) {
		t.Errorf("Search after Close = %v", err)
	}
	if _, err := s.Stats(ctx); !errors.Is(err, memory.ErrClosed) {
		t.Errorf("Stats after Close = %v", err)
	}
}
