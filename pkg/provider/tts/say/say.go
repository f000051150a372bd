// Package say provides an [tts.Synthesizer] backed by a local speech command,
// by default the macOS say(1) utility.
//
// Text is passed as a single argv element following "--", never through a
// shell, so replies containing quotes, semicolons or leading dashes are spoken
// verbatim.
package say

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/MrWong99/voxmem/pkg/provider/tts"
)

var _ tts.Synthesizer = (*Synthesizer)(nil)

// DefaultCommand is the executable used when none is configured.
const DefaultCommand = "say"

// ErrCommandNotFound is returned by New when the command is not on PATH.
var ErrCommandNotFound = errors.New("say: command not found")

// Synthesizer runs one process per reply.
type Synthesizer struct {
	command string
	voice   string
	rate    int
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithCommand replaces DefaultCommand, e.g. with "espeak".
func WithCommand(cmd string) Option {
	return func(s *Synthesizer) { s.command = cmd }
}

// WithVoice selects a voice via "-v".
func WithVoice(v string) Option {
	return func(s *Synthesizer) { s.voice = v }
}

// WithRate sets the speaking rate in words per minute via "-r". Zero keeps
// the command's default.
func WithRate(wpm int) Option {
	return func(s *Synthesizer) { s.rate = wpm }
}

// New returns a Synthesizer after checking that the command exists.
func New(opts ...Option) (*Synthesizer, error) {
	s := &Synthesizer{command: DefaultCommand}
	for _, o := range opts {
		o(s)
	}
	if _, err := exec.LookPath(s.command); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrCommandNotFound, s.command, err)
	}
	return s, nil
}

// Args returns the argument vector used to speak text.
func (s *Synthesizer) Args(text string) []string {
	var args []string
	if s.voice != "" {
		args = append(args, "-v", s.voice)
	}
	if s.rate > 0 {
		args = append(args, "-r", fmt.Sprint(s.rate))
	}
	return append(args, "--", text)
}

// Speak implements [tts.Synthesizer].
func (s *Synthesizer) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, s.command, s.Args(text)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("say: %s: %w: %s", s.command, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
