package riskprofile

import (
	"context"
	"log/slog"
	"time"
)

// ActivitySource lists users with recent behavior entries.
type ActivitySource interface {
	ListActiveUsers(ctx context.Context, since time.Time, limit int) ([]string, error)
}

const evaluationBatchSize = 500

// Worker periodically re-evaluates recently-active users and executes any
// armed triggers. Per-user failures are logged and skipped.
type Worker struct {
	service  *Service
	activity ActivitySource
	interval time.Duration
	window   time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewWorker creates a periodic risk evaluation worker. window is how far
// back "recently active" reaches, typically 24 hours.
func NewWorker(service *Service, activity ActivitySource, interval, window time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		service:  service,
		activity: activity,
		interval: interval,
		window:   window,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the evaluation loop. Call in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *Worker) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

// RunOnce evaluates one batch of recently-active users.
func (w *Worker) RunOnce(ctx context.Context) {
	since := time.Now().UTC().Add(-w.window)
	users, err := w.activity.ListActiveUsers(ctx, since, evaluationBatchSize)
	if err != nil {
		w.logger.Error("risk evaluation batch fetch failed", "error", err)
		return
	}

	evaluated, triggered := 0, 0
	for _, user := range users {
		profile, err := w.service.Evaluate(ctx, user)
		if err != nil {
			w.logger.Error("risk evaluation failed", "user", user, "error", err)
			continue
		}
		evaluated++
		if !profile.Triggers.Any() {
			continue
		}
		if _, err := w.service.ExecuteTriggers(ctx, user, profile); err != nil {
			w.logger.Error("trigger execution failed", "user", user, "error", err)
			continue
		}
		triggered++
	}
	if evaluated > 0 {
		w.logger.Info("risk evaluation sweep complete", "evaluated", evaluated, "triggered", triggered)
	}
}
