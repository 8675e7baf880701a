package confidence

import (
	"context"
	"log/slog"
	"time"
)

// ApplyWorker periodically folds accumulated moderator feedback into the
// confidence rules.
type ApplyWorker struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewApplyWorker creates a feedback application sweeper.
func NewApplyWorker(service *Service, interval time.Duration, logger *slog.Logger) *ApplyWorker {
	return &ApplyWorker{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the application loop. Call in a goroutine.
func (w *ApplyWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if applied := w.service.ApplyAll(ctx); applied > 0 {
				w.logger.Info("confidence sweep complete", "applied", applied)
			}
		}
	}
}

// Stop signals the worker to stop.
func (w *ApplyWorker) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}
