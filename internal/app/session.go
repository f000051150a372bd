package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/voxmem/internal/dialogue"
	"github.com/MrWong99/voxmem/pkg/memory"
	"github.com/MrWong99/voxmem/pkg/provider/stt"
	"github.com/MrWong99/voxmem/pkg/provider/tts"
	"github.com/MrWong99/voxmem/pkg/provider/wake"
)

// Spoken replies for exchanges that could not complete.
const (
	ApologyGeneration  = "Sorry, I can't think of an answer right now. Please try again."
	ApologyMemory      = "Sorry, I couldn't reach my memory just now. Please try again."
	ApologyPersistence = "Sorry, I couldn't save our conversation. Please say that again."
	ApologyGeneric     = "Sorry, something went wrong."
)

// Responder answers one utterance. [*dialogue.Responder] implements it.
type Responder interface {
	Respond(ctx context.Context, text string) (*dialogue.Reply, error)
}

// Session runs the spoken conversation: wait for the wake word, listen for
// one utterance, answer it, speak the answer, repeat.
type Session struct {
	wake      wake.Detector
	stt       stt.Transcriber
	tts       tts.Synthesizer
	responder Responder
	logger    *slog.Logger

	// onTurn, when set, is called after each utterance has been handled.
	onTurn func(heard, replied string)
}

// SessionOption configures a [Session].
type SessionOption func(*Session)

// WithSessionLogger sets the session logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithTurnHook registers fn to observe every handled utterance.
func WithTurnHook(fn func(heard, replied string)) SessionOption {
	return func(s *Session) { s.onTurn = fn }
}

// NewSession builds a Session. A nil detector listens without waiting for a
// wake event.
func NewSession(det wake.Detector, tr stt.Transcriber, syn tts.Synthesizer, r Responder, opts ...SessionOption) (*Session, error) {
	if tr == nil {
		return nil, errors.New("session: transcriber must not be nil")
	}
	if syn == nil {
		return nil, errors.New("session: synthesizer must not be nil")
	}
	if r == nil {
		return nil, errors.New("session: responder must not be nil")
	}
	if det == nil {
		det = wake.Always{}
	}
	s := &Session{wake: det, stt: tr, tts: syn, responder: r, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Run loops until ctx is done or the audio source is exhausted. It returns
// nil on io.EOF, ctx.Err() on cancellation and the error of the first
// failure it cannot recover from.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("voice session started")
	defer s.logger.Info("voice session stopped")

	for {
		if err := s.wake.WaitForWake(ctx); err != nil {
			return s.stopErr(ctx, "wait for wake", err)
		}

		tr, err := s.stt.Transcribe(ctx)
		switch {
		case errors.Is(err, stt.ErrNoSpeechDetected), errors.Is(err, stt.ErrUnintelligibleAudio):
			s.logger.Info("nothing to answer", "reason", err)
			continue
		case err != nil:
			return s.stopErr(ctx, "transcribe", err)
		}
		s.logger.Debug("heard utterance", "text", tr.Text, "confidence", tr.Confidence)

		answer := s.answer(ctx, tr.Text)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.tts.Speak(ctx, answer); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("speak failed", "err", err)
		}
		if s.onTurn != nil {
			s.onTurn(tr.Text, answer)
		}
	}
}

// answer returns the text to speak for utterance, turning recoverable
// exchange failures into an apology.
func (s *Session) answer(ctx context.Context, utterance string) string {
	reply, err := s.responder.Respond(ctx, utterance)
	if err == nil {
		return reply.Text
	}
	apology := Apology(err)
	s.logger.Warn("exchange failed", "err", err, "apology", apology)
	return apology
}

func (s *Session) stopErr(ctx context.Context, op string, err error) error {
	if errors.Is(err, io.EOF) {
		s.logger.Info("audio input closed")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("session: %s: %w", op, err)
}

// Apology picks the spoken reply for a failed exchange.
func Apology(err error) string {
	switch {
	case errors.Is(err, dialogue.ErrGenerationUnavailable):
		return ApologyGeneration
	case errors.Is(err, memory.ErrEmbeddingUnavailable), errors.Is(err, memory.ErrNeedsReload):
		return ApologyMemory
	case errors.Is(err, memory.ErrPersistenceFailed):
		return ApologyPersistence
	default:
		return ApologyGeneric
	}
}
