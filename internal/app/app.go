// Package app wires all voxmem subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the memory store and
// builds the dialogue loop, Run executes the voice session and the HTTP
// gateway, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithMetrics, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxmem/internal/arith"
	"github.com/MrWong99/voxmem/internal/config"
	"github.com/MrWong99/voxmem/internal/dialogue"
	"github.com/MrWong99/voxmem/internal/gateway"
	"github.com/MrWong99/voxmem/internal/health"
	"github.com/MrWong99/voxmem/internal/observe"
	"github.com/MrWong99/voxmem/pkg/memory"
	"github.com/MrWong99/voxmem/pkg/memory/file"
	"github.com/MrWong99/voxmem/pkg/memory/postgres"
	"github.com/MrWong99/voxmem/pkg/memory/sqlite"
	"github.com/MrWong99/voxmem/pkg/provider/embeddings"
)

// ErrNothingToRun is returned by [App.Run] when neither a voice session nor
// the HTTP gateway is configured.
var ErrNothingToRun = errors.New("app: no voice session and no gateway configured")

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	logger    *slog.Logger
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	store     memory.Store
	loop      *dialogue.Loop
	responder *dialogue.Responder
	session   *Session
	gateway   *gateway.Server
	flusher   *Flusher

	sessionOpts []SessionOption

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a memory store instead of opening one from config. The
// App takes ownership and closes it on Shutdown.
func WithStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLogger sets the application logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithSessionOptions forwards opts to the voice session.
func WithSessionOptions(opts ...SessionOption) Option {
	return func(a *App) { a.sessionOpts = append(a.sessionOpts, opts...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from [BuildProviders]. A corrupt memory store is reported with
// [memory.ErrCorruptPersistentState] and is never opened.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an llm provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Memory store ──────────────────────────────────────────────────
	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	// ── 2. Dialogue ──────────────────────────────────────────────────────
	if err := a.initDialogue(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init dialogue: %w", err)
	}

	// ── 3. Voice session ─────────────────────────────────────────────────
	if err := a.initSession(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init session: %w", err)
	}

	// ── 4. Gateway ───────────────────────────────────────────────────────
	if err := a.initGateway(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initMemory(ctx context.Context) error {
	backend := string(a.cfg.Memory.Backend)
	if a.store == nil {
		if a.providers.Embeddings == nil {
			return errors.New("an embeddings provider is required")
		}
		s, err := OpenStore(ctx, a.cfg.Memory, a.providers.Embeddings, a.logger)
		if err != nil {
			return err
		}
		a.store = s
	} else if backend == "" {
		backend = "injected"
	}
	a.closers = append(a.closers, a.store.Close)

	if f, ok := a.store.(Flushable); ok && a.cfg.Memory.DeferredPersistence {
		a.flusher = NewFlusher(f, a.cfg.Memory.FlushInterval, a.logger)
		a.closers = append(a.closers, func() error {
			a.flusher.Stop()
			return nil
		})
	}

	a.store = observe.InstrumentStore(ctx, a.store, a.metrics, backend)
	return nil
}

func (a *App) initDialogue() error {
	dc := a.cfg.Dialogue
	opts := []dialogue.Option{
		dialogue.WithLogger(a.logger),
		dialogue.WithMetrics(a.metrics),
		dialogue.WithTopK(dc.TopK),
		dialogue.WithTemperature(dc.Temperature),
		dialogue.WithMaxTokens(dc.MaxTokens),
	}
	if dc.SystemPrompt != "" {
		opts = append(opts, dialogue.WithSystemPrompt(dc.SystemPrompt))
	}
	if dc.GenerationTimeout > 0 {
		opts = append(opts, dialogue.WithGenerationTimeout(dc.GenerationTimeout))
	}
	loop, err := dialogue.New(a.store, a.providers.LLM, opts...)
	if err != nil {
		return err
	}
	a.loop = loop

	var shortcut dialogue.Shortcut
	if dc.ShortcutEnabled() {
		shortcut = arith.Answer
	}
	a.responder = dialogue.NewResponder(loop, shortcut)
	return nil
}

func (a *App) initSession() error {
	if a.providers.STT == nil || a.providers.TTS == nil {
		a.logger.Info("voice session disabled", "stt", a.providers.STT != nil, "tts", a.providers.TTS != nil)
		return nil
	}
	opts := append([]SessionOption{WithSessionLogger(a.logger)}, a.sessionOpts...)
	s, err := NewSession(a.providers.Wake, a.providers.STT, a.providers.TTS, a.responder, opts...)
	if err != nil {
		return err
	}
	a.session = s
	return nil
}

func (a *App) initGateway() error {
	if a.cfg.Server.ListenAddr == "" {
		return nil
	}
	checkers := []health.Checker{health.StoreChecker(a.store)}
	if a.providers.Breakers != nil {
		checkers = append(checkers, health.BreakerChecker("llm", a.providers.Breakers))
	}
	gw, err := gateway.New(a.responder, a.store,
		gateway.WithLogger(a.logger),
		gateway.WithHealth(health.New(checkers...)),
		gateway.WithMetrics(a.metrics),
		gateway.WithDefaultTopK(a.loop.TopK()),
		gateway.WithRateLimit(a.cfg.Server.RateLimit, a.cfg.Server.RateBurst),
	)
	if err != nil {
		return err
	}
	a.gateway = gw
	return nil
}

// OpenStore opens the memory backend selected by mc. The embeddings provider
// must produce vectors of mc.Dimensions.
func OpenStore(ctx context.Context, mc config.MemoryConfig, emb embeddings.Provider, logger *slog.Logger) (memory.Store, error) {
	embedder, err := memory.NewEmbedder(emb, mc.Dimensions)
	if err != nil {
		return nil, err
	}

	switch mc.Backend {
	case config.MemoryPostgres:
		s, err := postgres.NewStore(ctx, mc.PostgresDSN, embedder, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.MemorySQLite:
		s, err := sqlite.Open(ctx, mc.SQLitePath, embedder, sqlite.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.MemoryFile, "":
		opts := []file.Option{file.WithLogger(logger)}
		if mc.DeferredPersistence {
			opts = append(opts, file.WithDeferredPersistence())
		}
		s, err := file.Open(ctx, file.Paths{IndexPath: mc.IndexPath, LogPath: mc.LogPath}, embedder, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", mc.Backend)
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Store returns the instrumented memory store.
func (a *App) Store() memory.Store { return a.store }

// Responder returns the utterance entry point shared by the session and the
// gateway.
func (a *App) Responder() *dialogue.Responder { return a.responder }

// Session returns the voice session, or nil when speech providers are
// missing.
func (a *App) Session() *Session { return a.session }

// Gateway returns the HTTP gateway, or nil when server.listen_addr is empty.
func (a *App) Gateway() *gateway.Server { return a.gateway }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the voice session and the gateway and blocks until both have
// stopped. The session ending on exhausted input does not stop the gateway;
// cancelling ctx stops both. Run returns ctx.Err() after cancellation.
func (a *App) Run(ctx context.Context) error {
	if a.session == nil && a.gateway == nil {
		return ErrNothingToRun
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.flusher != nil {
		a.flusher.Start(gctx)
	}
	if a.session != nil {
		g.Go(func() error { return a.session.Run(gctx) })
	}
	if a.gateway != nil {
		g.Go(func() error { return a.gateway.Run(gctx, a.cfg.Server.ListenAddr) })
	}

	a.logger.Info("app running",
		"session", a.session != nil,
		"listen_addr", a.cfg.Server.ListenAddr,
		"backend", a.cfg.Memory.Backend,
	)
	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned. The first closer
// error is returned otherwise.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
		}
		a.providers.Close()
		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases what New already acquired when a later step fails.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
