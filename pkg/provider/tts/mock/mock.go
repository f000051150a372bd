// Package mock provides a recording test double for [tts.Synthesizer].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxmem/pkg/provider/tts"
)

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesizer records every spoken text.
type Synthesizer struct {
	mu sync.Mutex

	// SpeakErr is returned by Speak when non-nil. The text is still recorded.
	SpeakErr error

	spoken []string
}

// Speak implements [tts.Synthesizer].
func (m *Synthesizer) Speak(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spoken = append(m.spoken, text)
	return m.SpeakErr
}

// Spoken returns a copy of every text passed to Speak, in call order.
func (m *Synthesizer) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.spoken...)
}
