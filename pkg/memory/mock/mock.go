// Package mock provides a configurable test double for [memory.Store].
//
// The mock keeps inserted turns in memory and assigns ordinals like a real
// store, so dialogue tests can assert on both the calls made and the
// resulting content. Search returns SearchResult verbatim; no embedding or
// ranking takes place.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxmem/pkg/memory"
)

// Call records a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// Store is a test double for [memory.Store].
type Store struct {
	mu sync.Mutex

	calls []Call
	turns []memory.Turn

	// InsertErr is returned by every Insert and InsertExchange when non-nil.
	InsertErr error

	// InsertErrs, when non-empty, is consumed one entry per Insert or
	// InsertExchange call and takes precedence over InsertErr. A nil entry
	// lets that call succeed.
	InsertErrs []error

	// SearchResult is returned by Search. When nil, Search returns an empty
	// non-nil slice.
	SearchResult []memory.Record

	// SearchErr is returned by Search when non-nil.
	SearchErr error

	// StatsErr is returned by Stats when non-nil.
	StatsErr error

	// NeedsReload is reported through Stats.
	NeedsReload bool

	// CloseErr is returned by Close.
	CloseErr error
}

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Turns returns a copy of the successfully inserted turns in ordinal order.
func (m *Store) Turns() []memory.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]memory.Turn(nil), m.turns...)
}

// Reset clears recorded calls and stored turns without touching configuration.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.turns = nil
}

// Insert implements [memory.Store].
func (m *Store) Insert(_ context.Context, role memory.Role, content string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Insert", Args: []any{role, content}})

	if err := m.nextInsertErr(); err != nil {
		return 0, err
	}
	m.turns = append(m.turns, memory.Turn{Role: role, Content: content})
	return len(m.turns) - 1, nil
}

// InsertExchange implements [memory.Store]. A configured error rejects both
// turns.
func (m *Store) InsertExchange(_ context.Context, userText, reply string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "InsertExchange", Args: []any{userText, reply}})

	if err := m.nextInsertErr(); err != nil {
		return 0, 0, err
	}
	m.turns = append(m.turns,
		memory.Turn{Role: memory.RoleUser, Content: userText},
		memory.Turn{Role: memory.RoleAssistant, Content: reply},
	)
	return len(m.turns) - 2, len(m.turns) - 1, nil
}

func (m *Store) nextInsertErr() error {
	err := m.InsertErr
	if len(m.InsertErrs) > 0 {
		err = m.InsertErrs[0]
		m.InsertErrs = m.InsertErrs[1:]
	}
	return err
}

// Search implements [memory.Store].
func (m *Store) Search(_ context.Context, query string, topK int) ([]memory.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Search", Args: []any{query, topK}})
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	out := make([]memory.Record, len(m.SearchResult))
	copy(out, m.SearchResult)
	return out, nil
}

// Stats implements [memory.Store].
func (m *Store) Stats(_ context.Context) (memory.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Stats"})
	if m.StatsErr != nil {
		return memory.Stats{}, m.StatsErr
	}
	return memory.Stats{Records: len(m.turns), NeedsReload: m.NeedsReload}, nil
}

// Close implements [memory.Store].
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Close"})
	return m.CloseErr
}

var _ memory.Store = (*Store)(nil)
