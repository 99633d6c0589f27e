package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/session-tracker/internal/config"
)

// Warmer refreshes cached query results
type Warmer interface {
	WarmCache(ctx context.Context) error
}

// CacheWarmer periodically recomputes the default leaderboards and stats so
// the first read after a merge does not pay for the aggregation
type CacheWarmer struct {
	warmer  Warmer
	config  *config.WarmerConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewCacheWarmer creates a new cache warmer
func NewCacheWarmer(warmer Warmer, cfg *config.WarmerConfig, logger *slog.Logger) *CacheWarmer {
	return &CacheWarmer{
		warmer: warmer,
		config: cfg,
		logger: logger,
	}
}

// Start begins the background warm-up loop
func (w *CacheWarmer) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	w.logger.Info("cache warmer started", "interval", w.config.Interval)

	go w.run(ctx, w.stopCh, w.doneCh)
	return nil
}

// Stop stops the background warm-up loop and waits for it to exit
func (w *CacheWarmer) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.running = false
	w.mu.Unlock()

	close(stopCh)
	<-doneCh

	w.logger.Info("cache warmer stopped")
	return nil
}

// run is the main worker loop
func (w *CacheWarmer) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// IsRunning returns whether the worker is currently running
func (w *CacheWarmer) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single warm-up cycle
func (w *CacheWarmer) RunOnce(ctx context.Context) {
	start := time.Now()
	if err := w.warmer.WarmCache(ctx); err != nil {
		w.logger.Error("cache warm-up failed", "error", err)
		return
	}
	w.logger.Debug("cache warm-up completed", "duration", time.Since(start))
}
