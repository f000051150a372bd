// Package console provides a [wake.Detector] that waits for a typed wake phrase.
package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/voxmem/pkg/provider/console"
	"github.com/MrWong99/voxmem/pkg/provider/wake"
)

var _ wake.Detector = (*Detector)(nil)

// DefaultPhrase is the wake phrase used when none is configured.
const DefaultPhrase = "hey assistant"

// Detector consumes lines until one contains the wake phrase, ignoring case
// and surrounding whitespace. Non-matching lines are discarded.
type Detector struct {
	lines  *console.Lines
	phrase string
}

// New returns a Detector for phrase reading from lines. An empty phrase means
// DefaultPhrase.
func New(lines *console.Lines, phrase string) *Detector {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if phrase == "" {
		phrase = DefaultPhrase
	}
	return &Detector{lines: lines, phrase: phrase}
}

// Phrase returns the normalised wake phrase.
func (d *Detector) Phrase() string { return d.phrase }

// WaitForWake implements [wake.Detector].
func (d *Detector) WaitForWake(ctx context.Context) error {
	for {
		line, err := d.lines.Next(ctx)
		if err != nil {
			return fmt.Errorf("console wake: %w", err)
		}
		if strings.Contains(strings.ToLower(line), d.phrase) {
			return nil
		}
	}
}
