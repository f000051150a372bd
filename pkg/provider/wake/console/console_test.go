package console_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/MrWong99/voxmem/pkg/provider/console"
	wakeconsole "github.com/MrWong99/voxmem/pkg/provider/wake/console"
)

func TestWaitForWake(t *testing.T) {
	t.Parallel()

	lines := console.NewLines(strings.NewReader("hello\n  HEY Assistant, are you there\nwhat is 2 plus 2\n"))
	d := wakeconsole.New(lines, "")
	if d.Phrase() != wakeconsole.DefaultPhrase {
		t.Errorf("Phrase = %q", d.Phrase())
	}
	ctx := context.Background()

	if err := d.WaitForWake(ctx); err != nil {
		t.Fatalf("WaitForWake: %v", err)
	}
	// The line after the wake phrase is left for the transcriber.
	next, err := lines.Next(ctx)
	if err != nil || next != "what is 2 plus 2" {
		t.Errorf("next line = %q, %v", next, err)
	}
	if err := d.WaitForWake(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestWaitForWake_CustomPhrase(t *testing.T) {
	t.Parallel()

	d := wakeconsole.New(console.NewLines(strings.NewReader("hey assistant\ncomputer\n")), " Computer ")
	if err := d.WaitForWake(context.Background()); err != nil {
		t.Fatalf("WaitForWake: %v", err)
	}
	if err := d.WaitForWake(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after the only match, got %v", err)
	}
}
