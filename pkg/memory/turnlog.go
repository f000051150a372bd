package memory

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/vecgo/persistence"
)

// TurnLog is the ordered list of stored turns. Entry i pairs with vector i of
// the index it is stored next to.
//
// TurnLog is not safe for concurrent use.
type TurnLog struct {
	turns []Turn
}

// NewTurnLog returns an empty log.
func NewTurnLog() *TurnLog {
	return &TurnLog{turns: []Turn{}}
}

// Len returns the number of entries.
func (l *TurnLog) Len() int { return len(l.turns) }

// Append adds t at ordinal Len().
func (l *TurnLog) Append(t Turn) (int, error) {
	if !t.Role.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, t.Role)
	}
	l.turns = append(l.turns, t)
	return len(l.turns) - 1, nil
}

// At returns the entry at ordinal i.
func (l *TurnLog) At(i int) (Turn, bool) {
	if i < 0 || i >= len(l.turns) {
		return Turn{}, false
	}
	return l.turns[i], true
}

// Turns returns a copy of all entries in ordinal order.
func (l *TurnLog) Turns() []Turn {
	return append([]Turn(nil), l.turns...)
}

// Truncate drops every entry with ordinal >= n.
func (l *TurnLog) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n < len(l.turns) {
		clear(l.turns[n:])
		l.turns = l.turns[:n]
	}
}

// LogDigest identifies one encoding of a turn log.
type LogDigest struct {
	Count uint64
	Size  uint64
	CRC   uint32
}

// DigestOf computes the digest of an encoded log holding count entries.
func DigestOf(data []byte, count int) LogDigest {
	return LogDigest{
		Count: uint64(count),
		Size:  uint64(len(data)),
		CRC:   persistence.CalculateChecksum(data),
	}
}

// Encode renders the log as an indented JSON array of {"role","content"}
// objects followed by a newline. Equal logs always encode to equal bytes.
func (l *TurnLog) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	turns := l.turns
	if turns == nil {
		turns = []Turn{}
	}
	if err := enc.Encode(turns); err != nil {
		return nil, fmt.Errorf("encode turn log: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeTurnLog parses data produced by Encode. Any JSON array of role and
// content objects is accepted as long as every role is valid.
func DecodeTurnLog(data []byte) (*TurnLog, error) {
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("decode turn log: %w", err)
	}
	for i, t := range turns {
		if !t.Role.Valid() {
			return nil, fmt.Errorf("decode turn log: entry %d: %w: %q", i, ErrInvalidRole, t.Role)
		}
	}
	if turns == nil {
		turns = []Turn{}
	}
	return &TurnLog{turns: turns}, nil
}
