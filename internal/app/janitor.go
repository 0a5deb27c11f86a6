package app

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventPurger evicts expired idempotency records
type EventPurger interface {
	PurgeOlderThan(ctx context.Context, horizon time.Duration) (int64, error)
}

// Janitor periodically evicts processed-event ids that fell out of the
// provider's redelivery window.
type Janitor struct {
	purger   EventPurger
	horizon  time.Duration
	interval time.Duration
	logger   *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewJanitor creates a new idempotency janitor
func NewJanitor(purger EventPurger, horizon, interval time.Duration, logger *slog.Logger) *Janitor {
	if horizon == 0 {
		horizon = 7 * 24 * time.Hour
	}
	if interval == 0 {
		interval = time.Hour
	}
	return &Janitor{
		purger:   purger,
		horizon:  horizon,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the eviction loop until Stop or context cancellation
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return
	}
	j.running = true
	j.mu.Unlock()

	j.wg.Add(1)
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("idempotency janitor started", "horizon", j.horizon, "interval", j.interval)

	for {
		select {
		case <-ticker.C:
			j.purge(ctx)
		case <-j.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the loop to exit and waits for it
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	j.mu.Unlock()

	close(j.stopCh)
	j.wg.Wait()
}

func (j *Janitor) purge(ctx context.Context) {
	purgeCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	n, err := j.purger.PurgeOlderThan(purgeCtx, j.horizon)
	if err != nil {
		j.logger.Error("purging processed events failed", "error", err)
		return
	}
	if n > 0 {
		j.logger.Info("purged processed events", "count", n)
	}
}
