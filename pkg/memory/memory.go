// Package memory defines the long-term conversational memory used by the
// voxmem dialogue loop.
//
// A memory is two aligned, append-only structures sharing one ordinal space:
//
//   - a vector index holding one embedding per turn ([FlatIndex]), and
//   - a turn log holding the matching (role, content) pair ([TurnLog]).
//
// Ordinal i in the index always describes entry i in the log. A [Store]
// embeds text through an [Embedder], appends to both structures and makes
// them durable together. Retrieval embeds the query and returns the nearest
// stored turns as [Record] values in ascending distance order.
//
// Storage backends live in sub-packages (file, postgres, sqlite); every
// implementation must be safe for concurrent use.
package memory

import (
	"context"
	"fmt"
)

// Role identifies who produced a stored turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a role the turn log accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ParseRole converts s to a Role, rejecting anything but "user" and "assistant".
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Turn is one entry of the turn log.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Record is a stored turn returned by retrieval.
type Record struct {
	// Ordinal is the turn's position in the store, starting at 0.
	Ordinal int

	Role    Role
	Content string

	// Distance is the squared Euclidean distance between the query embedding
	// and this turn's embedding. Zero for non-search reads.
	Distance float32
}

// Stats is a point-in-time summary of a store.
type Stats struct {
	Records   int
	Dimension int

	// Dirty is true when in-memory records have not been made durable yet.
	Dirty bool

	// NeedsReload is true after a persistence failure that left the durable
	// files in an unknown state. Inserts are refused until a reload succeeds.
	NeedsReload bool
}

// Store is the contract shared by all memory backends.
type Store interface {
	// Insert embeds content, appends it under role and makes the new record
	// durable before returning its ordinal. On any error the store is left
	// exactly as it was.
	Insert(ctx context.Context, role Role, content string) (int, error)

	// InsertExchange stores a user turn and the assistant reply to it as one
	// unit: both texts are embedded before anything is written, and both
	// records become durable together or not at all. The reply's ordinal is
	// always the user ordinal plus one.
	InsertExchange(ctx context.Context, userText, reply string) (userOrd, replyOrd int, err error)

	// Search returns up to topK records nearest to query, nearest first.
	// An empty store yields an empty result without contacting the embedder.
	Search(ctx context.Context, query string, topK int) ([]Record, error)

	// Stats reports the current record count and durability state.
	Stats(ctx context.Context) (Stats, error)

	// Close flushes pending state and releases resources.
	Close() error
}
