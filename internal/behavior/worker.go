package behavior

import (
	"context"
	"log/slog"
	"time"

	"github.com/lumen-social/trustcore/internal/metrics"
	"github.com/lumen-social/trustcore/internal/pagination"
)

const sweepPageSize = 200

// ExpiryWorker periodically deletes behavior entries past their horizon.
// Each sweep walks bounded pages behind a continuation cursor; per-entry
// failures are logged and skipped so one bad row cannot stall the sweep.
type ExpiryWorker struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewExpiryWorker creates an expiry sweeper. interval is typically 1 hour.
func NewExpiryWorker(store Store, interval time.Duration, logger *slog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (w *ExpiryWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *ExpiryWorker) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

// Sweep runs one full expiry pass and returns how many entries it deleted.
func (w *ExpiryWorker) Sweep(ctx context.Context) int {
	now := time.Now().UTC()
	deleted := 0
	var cursor *pagination.Cursor

	for {
		page, err := w.store.ListExpired(ctx, now, cursor, sweepPageSize)
		if err != nil {
			// Page fetch failure aborts the sweep; item failures do not.
			w.logger.Error("expiry sweep page fetch failed", "error", err)
			return deleted
		}
		if len(page) == 0 {
			break
		}
		for _, entry := range page {
			if err := w.store.Delete(ctx, entry.ID); err != nil {
				w.logger.Error("expiry sweep delete failed", "entry", entry.ID, "error", err)
				continue
			}
			deleted++
		}
		last := page[len(page)-1]
		cursor = &pagination.Cursor{CreatedAt: last.ExpiresAt, ID: last.ID}
		if len(page) < sweepPageSize {
			break
		}
	}

	if deleted > 0 {
		metrics.BehaviorExpiredTotal.Add(float64(deleted))
		w.logger.Info("behavior expiry sweep complete", "deleted", deleted)
	}
	return deleted
}
