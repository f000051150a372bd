// Package dialogue runs the retrieval-augmented exchange: retrieve related past
// turns from memory, build the prompt, generate a reply and store both turns.
//
// A Loop processes one exchange at a time. Each exchange walks the states
//
//	Idle → Retrieving → ContextBuilding → Generating → Storing → Idle
//
// and any failure returns the loop to Idle. Memory is only written after a
// successful generation, so a failed exchange never leaves an orphaned user
// turn behind.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxmem/internal/observe"
	"github.com/MrWong99/voxmem/pkg/memory"
	"github.com/MrWong99/voxmem/pkg/provider/llm"
	"github.com/MrWong99/voxmem/pkg/types"
)

// Defaults applied by New.
const (
	DefaultSystemPrompt = "You are a helpful voice assistant. Keep responses concise."
	DefaultTopK         = 5
)

// ErrGenerationUnavailable is returned when the generator fails, times out or
// replies with empty content.
var ErrGenerationUnavailable = errors.New("dialogue: generation unavailable")

// State is a position in the exchange state machine.
type State int

// Exchange states in the order they are visited.
const (
	StateIdle State = iota
	StateRetrieving
	StateContextBuilding
	StateGenerating
	StateStoring
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRetrieving:
		return "retrieving"
	case StateContextBuilding:
		return "context_building"
	case StateGenerating:
		return "generating"
	case StateStoring:
		return "storing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateObserver is notified of every state transition. It is called
// synchronously on the exchanging goroutine and must not block.
type StateObserver func(exchangeID string, from, to State)

// Result describes a completed exchange.
type Result struct {
	ExchangeID string
	Response   string

	// Retrieved lists the records placed into the prompt, nearest first.
	Retrieved []memory.Record

	UserOrdinal      int
	AssistantOrdinal int
	Usage            llm.Usage
	Duration         time.Duration
}

// Loop owns the exchange state machine. It is safe for concurrent use; calls
// to Exchange are serialised.
type Loop struct {
	store memory.Store
	gen   llm.Provider

	systemPrompt string
	topK         int
	genTimeout   time.Duration
	temperature  float64
	maxTokens    int
	logger       *slog.Logger
	observer     StateObserver
	metrics      *observe.Metrics

	mu    sync.Mutex
	state State
}

// Option configures a Loop.
type Option func(*Loop)

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(p string) Option {
	return func(l *Loop) { l.systemPrompt = p }
}

// WithTopK sets how many past turns are retrieved per exchange. Values below
// one are ignored.
func WithTopK(k int) Option {
	return func(l *Loop) {
		if k > 0 {
			l.topK = k
		}
	}
}

// WithGenerationTimeout bounds each generation call. Zero means no bound
// beyond the caller's context.
func WithGenerationTimeout(d time.Duration) Option {
	return func(l *Loop) { l.genTimeout = d }
}

// WithTemperature sets the sampling temperature passed to the generator.
func WithTemperature(t float64) Option {
	return func(l *Loop) { l.temperature = t }
}

// WithMaxTokens caps the reply length passed to the generator.
func WithMaxTokens(n int) Option {
	return func(l *Loop) { l.maxTokens = n }
}

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Loop) { l.logger = lg }
}

// WithStateObserver registers fn for state transitions.
func WithStateObserver(fn StateObserver) Option {
	return func(l *Loop) { l.observer = fn }
}

// WithMetrics records exchange outcomes and durations to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// New returns a Loop over store and gen.
func New(store memory.Store, gen llm.Provider, opts ...Option) (*Loop, error) {
	if store == nil {
		return nil, errors.New("dialogue: store must not be nil")
	}
	if gen == nil {
		return nil, errors.New("dialogue: generator must not be nil")
	}
	l := &Loop{
		store:        store,
		gen:          gen,
		systemPrompt: DefaultSystemPrompt,
		topK:         DefaultTopK,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// State returns the current state. Outside an exchange it is StateIdle.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// TopK returns the number of records retrieved per exchange.
func (l *Loop) TopK() int { return l.topK }

// Exchange answers userText using retrieved memory and stores the user and
// assistant turns as one unit on success.
//
// Errors wrap [memory.ErrEmbeddingUnavailable] when the query or either turn
// could not be embedded, [ErrGenerationUnavailable] when no reply was
// produced, and the store's error when storing failed. A failed exchange
// never writes to memory.
func (l *Loop) Exchange(ctx context.Context, userText string) (res *Result, err error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return nil, errors.New("dialogue: empty user text")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := uuid.NewString()
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "dialogue.exchange")
	log := observe.LoggerFrom(ctx, l.logger).With("exchange_id", id)
	defer func() {
		l.transition(id, StateIdle)
		l.record(ctx, start, err)
		observe.EndSpan(span, err)
	}()

	// Retrieving
	l.transition(id, StateRetrieving)
	retrieved, err := l.store.Search(ctx, userText, l.topK)
	if err != nil {
		log.Warn("retrieval failed", "err", err)
		return nil, fmt.Errorf("dialogue: retrieve: %w", err)
	}
	log.Debug("retrieved memory", "records", len(retrieved))

	// ContextBuilding
	l.transition(id, StateContextBuilding)
	messages := BuildMessages(l.systemPrompt, retrieved, userText)
	l.checkContextSize(log, messages)

	// Generating
	l.transition(id, StateGenerating)
	resp, err := l.generate(ctx, messages)
	if err != nil {
		log.Warn("generation failed", "err", err)
		return nil, err
	}

	// Storing
	l.transition(id, StateStoring)
	userOrd, asstOrd, err := l.store.InsertExchange(ctx, userText, resp.Content)
	if err != nil {
		log.Error("storing exchange failed", "err", err)
		return nil, fmt.Errorf("dialogue: store exchange: %w", err)
	}

	res = &Result{
		ExchangeID:       id,
		Response:         resp.Content,
		Retrieved:        retrieved,
		UserOrdinal:      userOrd,
		AssistantOrdinal: asstOrd,
		Usage:            resp.Usage,
		Duration:         time.Since(start),
	}
	log.Info("exchange complete",
		"retrieved", len(retrieved),
		"user_ordinal", userOrd,
		"assistant_ordinal", asstOrd,
		"duration", res.Duration,
	)
	return res, nil
}

// BuildMessages assembles the prompt: the system instruction, then every
// retrieved record as a message of its own role in the order given, then the
// new user utterance. Records are neither deduplicated nor trimmed.
func BuildMessages(systemPrompt string, retrieved []memory.Record, userText string) []types.Message {
	msgs := make([]types.Message, 0, len(retrieved)+2)
	msgs = append(msgs, types.Message{Role: types.RoleSystem, Content: systemPrompt})
	for _, r := range retrieved {
		msgs = append(msgs, types.Message{Role: string(r.Role), Content: r.Content})
	}
	return append(msgs, types.Message{Role: types.RoleUser, Content: userText})
}

func (l *Loop) generate(ctx context.Context, messages []types.Message) (*llm.CompletionResponse, error) {
	if l.genTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.genTimeout)
		defer cancel()
	}
	resp, err := l.gen.Complete(ctx, llm.CompletionRequest{
		Messages:    messages,
		Temperature: l.temperature,
		MaxTokens:   l.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, fmt.Errorf("%w: empty response", ErrGenerationUnavailable)
	}
	return resp, nil
}

// checkContextSize warns when the prompt likely exceeds the model's context
// window. The prompt is passed on unchanged either way.
func (l *Loop) checkContextSize(log *slog.Logger, messages []types.Message) {
	window := l.gen.Capabilities().ContextWindow
	if window <= 0 {
		return
	}
	n, err := l.gen.CountTokens(messages)
	if err != nil {
		log.Debug("token count unavailable", "err", err)
		return
	}
	if n > window {
		log.Warn("prompt exceeds model context window", "tokens", n, "context_window", window)
	}
}

// transition moves to next. The caller holds l.mu.
func (l *Loop) transition(id string, next State) {
	prev := l.state
	l.state = next
	if l.observer != nil && prev != next {
		l.observer(id, prev, next)
	}
}

func (l *Loop) record(ctx context.Context, start time.Time, err error) {
	if l.metrics == nil {
		return
	}
	l.metrics.ExchangeDuration.Record(ctx, time.Since(start).Seconds())
	l.metrics.RecordExchange(ctx, Outcome(err))
}

// Outcome classifies an Exchange error as one of the observe.Outcome values.
func Outcome(err error) string {
	switch {
	case err == nil:
		return observe.OutcomeOK
	case errors.Is(err, memory.ErrEmbeddingUnavailable):
		return observe.OutcomeEmbedFailed
	case errors.Is(err, ErrGenerationUnavailable):
		return observe.OutcomeGenFailed
	case errors.Is(err, memory.ErrPersistenceFailed):
		return observe.OutcomePersistFail
	default:
		return observe.OutcomeError
	}
}
