// Package console provides an [stt.Transcriber] that treats each input line as
// one recognised utterance. It stands in for a microphone when running voxmem
// in a terminal.
//
// A blank line means the listening window closed in silence and yields
// [stt.ErrNoSpeechDetected]. A line without a single letter or digit, such as
// "..." or "???", yields [stt.ErrUnintelligibleAudio].
package console

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/voxmem/pkg/provider/console"
	"github.com/MrWong99/voxmem/pkg/provider/stt"
	"github.com/MrWong99/voxmem/pkg/types"
)

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber reads utterances from a shared line source.
type Transcriber struct {
	lines  *console.Lines
	prompt func()
}

// Option configures a Transcriber.
type Option func(*Transcriber)

// WithPrompt sets a function called before each read, typically to print a
// "You: " prompt.
func WithPrompt(fn func()) Option {
	return func(t *Transcriber) { t.prompt = fn }
}

// New returns a Transcriber reading from lines.
func New(lines *console.Lines, opts ...Option) *Transcriber {
	t := &Transcriber{lines: lines}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Transcribe implements [stt.Transcriber].
func (t *Transcriber) Transcribe(ctx context.Context) (types.Transcript, error) {
	if t.prompt != nil {
		t.prompt()
	}
	start := time.Now()
	line, err := t.lines.Next(ctx)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("console stt: %w", err)
	}

	text := strings.TrimSpace(line)
	if text == "" {
		return types.Transcript{}, stt.ErrNoSpeechDetected
	}
	if !strings.ContainsFunc(text, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) {
		return types.Transcript{}, fmt.Errorf("%w: %q", stt.ErrUnintelligibleAudio, text)
	}
	return types.Transcript{Text: text, Confidence: 1, Duration: time.Since(start)}, nil
}
