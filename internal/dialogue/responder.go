package dialogue

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MrWong99/voxmem/internal/observe"
)

// Shortcut answers an utterance without the model. ok is false when the
// shortcut does not apply; a non-nil err means it applied but failed.
type Shortcut func(text string) (answer string, ok bool, err error)

// Reply is what a [Responder] produced for one utterance.
type Reply struct {
	Text string

	// Shortcut is true when the reply came from the shortcut. Shortcut
	// replies are never stored in memory and carry no Result.
	Shortcut bool

	Result *Result
}

// Responder puts an optional [Shortcut] in front of a [Loop]. It is the
// single entry point used by both the voice session and the HTTP gateway.
type Responder struct {
	loop     *Loop
	shortcut Shortcut
	logger   *slog.Logger
}

// NewResponder returns a Responder over loop. A nil shortcut sends every
// utterance to the loop.
func NewResponder(loop *Loop, shortcut Shortcut) *Responder {
	return &Responder{loop: loop, shortcut: shortcut, logger: loop.logger}
}

// Loop returns the wrapped dialogue loop.
func (r *Responder) Loop() *Loop { return r.loop }

// Respond answers text. When the shortcut applies but cannot evaluate the
// utterance, the loop answers instead.
func (r *Responder) Respond(ctx context.Context, text string) (*Reply, error) {
	text = strings.TrimSpace(text)
	if r.shortcut != nil {
		answer, ok, err := r.shortcut(text)
		switch {
		case ok && err == nil:
			r.logger.Debug("answered by shortcut", "answer", answer)
			if m := r.loop.metrics; m != nil {
				m.RecordExchange(ctx, observe.OutcomeShortcut)
			}
			return &Reply{Text: answer, Shortcut: true}, nil
		case ok:
			r.logger.Debug("shortcut failed, asking the model", "err", err)
		}
	}
	res, err := r.loop.Exchange(ctx, text)
	if err != nil {
		return nil, err
	}
	return &Reply{Text: res.Response, Result: res}, nil
}
