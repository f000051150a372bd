// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A Transcriber listens for one utterance and returns its text. Microphone
// capture and acoustic processing belong to the implementation; callers only
// see the resulting [types.Transcript] or one of the speech errors below.
//
// Implementations must be safe for concurrent use, although a voice session
// calls Transcribe from a single goroutine.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/voxmem/pkg/types"
)

var (
	// ErrNoSpeechDetected is returned when the listening window closed
	// without any speech.
	ErrNoSpeechDetected = errors.New("stt: no speech detected")

	// ErrUnintelligibleAudio is returned when speech was heard but could not
	// be turned into text.
	ErrUnintelligibleAudio = errors.New("stt: unintelligible audio")
)

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe blocks until one utterance has been captured and recognised.
	//
	// Returns ErrNoSpeechDetected or ErrUnintelligibleAudio for the two
	// recoverable speech outcomes, ctx.Err() when cancelled, and io.EOF when
	// the audio source is exhausted.
	Transcribe(ctx context.Context) (types.Transcript, error)
}
