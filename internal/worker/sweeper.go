package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pruner removes registry index entries whose server record has expired
type Pruner interface {
	Prune(ctx context.Context) (int, error)
}

// Sweeper periodically prunes the live-server index so that List does not
// keep paying for addresses whose records expired
type Sweeper struct {
	registry Pruner
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewSweeper creates a new index sweeper. timeout bounds a single sweep.
func NewSweeper(registry Pruner, interval, timeout time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background sweep
func (w *Sweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("index sweeper started", "interval", w.interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sweep and waits for an in-flight sweep to finish
func (w *Sweeper) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("index sweeper stopped")
	return nil
}

func (w *Sweeper) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single sweep and returns the number of removed entries
func (w *Sweeper) RunOnce(ctx context.Context) int {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	startTime := time.Now()
	removed, err := w.registry.Prune(ctx)
	if err != nil {
		w.logger.Error("index sweep failed", "error", err)
		return 0
	}

	if removed > 0 {
		w.logger.Info("index sweep completed",
			"duration", time.Since(startTime),
			"removed", removed,
		)
	}
	return removed
}

// IsRunning returns whether the sweeper is currently running
func (w *Sweeper) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
