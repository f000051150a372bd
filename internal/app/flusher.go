package app

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultFlushInterval is the period between flushes of a deferred store.
const DefaultFlushInterval = time.Minute

// Flushable is a store that buffers writes until Flush.
// [*file.Store] implements it.
type Flushable interface {
	Flush(ctx context.Context) error
}

// Flusher periodically persists a deferred memory store so a crash loses at
// most one interval of conversation.
//
// All methods are safe for concurrent use.
type Flusher struct {
	store    Flushable
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewFlusher creates a Flusher for store. A non-positive interval selects
// [DefaultFlushInterval].
func NewFlusher(store Flushable, interval time.Duration, logger *slog.Logger) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{
		store:    store,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins periodic flushing in a background goroutine. The goroutine
// runs until [Flusher.Stop] is called or ctx is cancelled.
func (f *Flusher) Start(ctx context.Context) {
	f.wg.Add(1)
	go f.loop(ctx)
}

// Stop halts the flush loop and waits for an in-flight flush. It is safe to
// call multiple times and does not flush by itself.
func (f *Flusher) Stop() {
	f.stopOnce.Do(func() { close(f.done) })
	f.wg.Wait()
}

// FlushNow persists pending records immediately.
func (f *Flusher) FlushNow(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store.Flush(ctx)
}

func (f *Flusher) loop(ctx context.Context) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case <-ticker.C:
			if err := f.FlushNow(ctx); err != nil {
				f.logger.Warn("periodic memory flush failed", "err", err)
			}
		}
	}
}
