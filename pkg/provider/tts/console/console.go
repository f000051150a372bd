// Package console provides an [tts.Synthesizer] that prints replies to a
// writer instead of speaking them.
package console

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/MrWong99/voxmem/pkg/provider/tts"
)

var _ tts.Synthesizer = (*Synthesizer)(nil)

// DefaultPrefix is written before each reply.
const DefaultPrefix = "Assistant: "

// Synthesizer writes one line per reply.
type Synthesizer struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithPrefix replaces DefaultPrefix.
func WithPrefix(p string) Option {
	return func(s *Synthesizer) { s.prefix = p }
}

// New returns a Synthesizer writing to w.
func New(w io.Writer, opts ...Option) *Synthesizer {
	s := &Synthesizer{w: w, prefix: DefaultPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Speak implements [tts.Synthesizer].
func (s *Synthesizer) Speak(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "%s%s\n", s.prefix, text); err != nil {
		return fmt.Errorf("console tts: %w", err)
	}
	return nil
}
