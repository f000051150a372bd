package tts_test

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/voxmem/pkg/provider/tts/console"
	"github.com/MrWong99/voxmem/pkg/provider/tts/say"
)

func TestConsole_Speak(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := console.New(&buf)
	ctx := context.Background()
	if err := s.Speak(ctx, "Hi there"); err != nil {
		t.Fatal(err)
	}
	if err := s.Speak(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.String(), "Assistant: Hi there\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := s.Speak(cancelled, "late"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSay_MissingCommand(t *testing.T) {
	t.Parallel()

	_, err := say.New(say.WithCommand("voxmem-no-such-speech-binary"))
	if !errors.Is(err, say.ErrCommandNotFound) {
		t.Fatalf("expected ErrCommandNotFound, got %v", err)
	}
}

func TestSay_ArgsNeverInterpretText(t *testing.T) {
	t.Parallel()

	// "true" accepts and ignores any arguments.
	s, err := say.New(say.WithCommand("true"), say.WithVoice("Samantha"), say.WithRate(180))
	if err != nil {
		t.Skipf("true(1) unavailable: %v", err)
	}
	text := `-v evil; rm -rf "$HOME"`
	want := []string{"-v", "Samantha", "-r", "180", "--", text}
	if got := s.Args(text); !slices.Equal(got, want) {
		t.Errorf("Args = %q, want %q", got, want)
	}
	if err := s.Speak(context.Background(), text); err != nil {
		t.Errorf("Speak: %v", err)
	}
}
