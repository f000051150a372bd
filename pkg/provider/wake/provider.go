// Package wake defines the Detector interface for wake-word spotting.
//
// A Detector blocks until the user addresses the assistant. What counts as a
// wake event is up to the implementation: a keyword model, a push-to-talk key
// or a typed phrase.
package wake

import "context"

// Detector is the abstraction over any wake-word backend.
type Detector interface {
	// WaitForWake blocks until a wake event occurs. It returns ctx.Err() when
	// cancelled and io.EOF when the input source is exhausted.
	WaitForWake(ctx context.Context) error
}

// Always is a Detector that never blocks. It suits text front-ends where every
// input is addressed to the assistant.
type Always struct{}

// WaitForWake implements [Detector].
func (Always) WaitForWake(ctx context.Context) error { return ctx.Err() }

var _ Detector = Always{}
