// Package gateway exposes the assistant over HTTP: a JSON API for text
// exchanges and memory inspection, a WebSocket chat endpoint, health probes
// and Prometheus metrics.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/MrWong99/voxmem/internal/dialogue"
	"github.com/MrWong99/voxmem/internal/health"
	"github.com/MrWong99/voxmem/internal/observe"
	"github.com/MrWong99/voxmem/pkg/memory"
)

// Defaults for [Server].
const (
	DefaultShutdownTimeout = 10 * time.Second
	DefaultReadTimeout     = 15 * time.Second
	MaxSearchK             = 100
	maxBodyBytes           = 64 << 10
)

// Responder answers one utterance. [*dialogue.Responder] implements it.
type Responder interface {
	Respond(ctx context.Context, text string) (*dialogue.Reply, error)
}

// Server is the HTTP gateway.
type Server struct {
	responder Responder
	store     memory.Store
	topK      int

	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	logger         *slog.Logger

	limiter *rate.Limiter

	shutdownTimeout time.Duration
	router          http.Handler
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithHealth serves h on /healthz and /readyz. Without it both probes
// report ok unconditionally.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics records per-route request durations to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler replaces the default promhttp handler on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithDefaultTopK sets k for searches that do not pass one.
func WithDefaultTopK(k int) Option {
	return func(s *Server) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithRateLimit admits at most limit requests per second, with bursts of up
// to burst, across the API and chat routes. Probes and /metrics are never
// limited. A non-positive limit disables limiting.
func WithRateLimit(limit float64, burst int) Option {
	return func(s *Server) {
		if limit <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
}

// WithShutdownTimeout bounds graceful shutdown in [Server.Run].
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) { s.shutdownTimeout = d }
}

// New builds a Server answering through responder and reading memory from
// store.
func New(responder Responder, store memory.Store, opts ...Option) (*Server, error) {
	if responder == nil {
		return nil, errors.New("gateway: responder must not be nil")
	}
	if store == nil {
		return nil, errors.New("gateway: store must not be nil")
	}
	s := &Server{
		responder:       responder,
		store:           store,
		topK:            dialogue.DefaultTopK,
		health:          health.New(),
		metricsHandler:  promhttp.Handler(),
		logger:          slog.Default(),
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	if s.metrics != nil {
		r.Use(observe.Middleware(s.metrics))
	}

	s.health.Register(r)
	r.Handle("/metrics", s.metricsHandler)

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.rateLimit)
		}
		r.Get("/ws/chat", s.handleChat)
		r.Route("/api", func(r chi.Router) {
			r.Post("/exchange", s.handleExchange)
			r.Get("/memory/search", s.handleSearch)
			r.Get("/memory/stats", s.handleStats)
		})
	})
	return r
}

// Run listens on addr and serves until ctx is done, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Run(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %q: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is [Server.Run] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: DefaultReadTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway: serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("gateway shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway: shutdown: %w", err)
	}
	return nil
}

// rateLimit rejects requests beyond the configured rate with 429.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
