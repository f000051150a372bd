package dialogue_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voxmem/internal/arith"
	"github.com/MrWong99/voxmem/internal/dialogue"
	memmock "github.com/MrWong99/voxmem/pkg/memory/mock"
)

func TestResponder_Shortcut(t *testing.T) {
	t.Parallel()

	store := &memmock.Store{}
	gen := reply("model answer")
	r := dialogue.NewResponder(newLoop(t, store, gen), arith.Answer)

	got, err := r.Respond(context.Background(), "What is 2 plus 2?")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !got.Shortcut || got.Text != "The result is 4" || got.Result != nil {
		t.Errorf("reply = %+v", got)
	}
	if n := len(gen.Calls()); n != 0 {
		t.Errorf("generator called %d times for arithmetic", n)
	}
	if n := len(store.Calls()); n != 0 {
		t.Errorf("store touched %d times for a shortcut answer", n)
	}
}

func TestResponder_FallsThroughToLoop(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{"not arithmetic", "Tell me about the moon"},
		{"arithmetic that cannot be evaluated", "8 divided by 0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := &memmock.Store{}
			r := dialogue.NewResponder(newLoop(t, store, reply("model answer")), arith.Answer)

			got, err := r.Respond(context.Background(), tc.text)
			if err != nil {
				t.Fatalf("Respond: %v", err)
			}
			if got.Shortcut || got.Text != "model answer" || got.Result == nil {
				t.Errorf("reply = %+v", got)
			}
			if n := len(store.Turns()); n != 2 {
				t.Errorf("stored %d turns, want 2", n)
			}
		})
	}
}

func TestResponder_NoShortcut(t *testing.T) {
	t.Parallel()

	gen := reply("four")
	r := dialogue.NewResponder(newLoop(t, &memmock.Store{}, gen), nil)
	got, err := r.Respond(context.Background(), "2 + 2")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got.Shortcut || got.Text != "four" {
		t.Errorf("reply = %+v", got)
	}
	if r.Loop() == nil {
		t.Error("Loop() returned nil")
	}
}

func TestResponder_PropagatesLoopError(t *testing.T) {
	t.Parallel()

	gen := reply("")
	r := dialogue.NewResponder(newLoop(t, &memmock.Store{}, gen), arith.Answer)
	_, err := r.Respond(context.Background(), "Hello")
	if !errors.Is(err, dialogue.ErrGenerationUnavailable) {
		t.Errorf("err = %v, want ErrGenerationUnavailable", err)
	}
}
