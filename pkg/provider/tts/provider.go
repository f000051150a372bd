// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// A Synthesizer speaks one reply and returns once playback has finished, so
// the voice session never listens while it is still talking.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Speak renders text as speech and blocks until playback completes or ctx
	// is cancelled. Empty text is a no-op.
	Speak(ctx context.Context, text string) error
}
