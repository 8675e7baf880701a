package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/lumen-social/trustcore/internal/idgen"
	"github.com/lumen-social/trustcore/internal/metrics"
)

// Service records notifications and fans them out to webhooks.
type Service struct {
	store      Store
	dispatcher *Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a notification service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		dispatcher: NewDispatcher(store),
		logger:     logger,
		now:        time.Now,
	}
}

// Notify records and dispatches one notification. Webhook delivery is
// best-effort; only the delivery-log append can fail the call.
func (s *Service) Notify(ctx context.Context, userID, category, title, body, priority string) error {
	if priority == "" {
		priority = PriorityNormal
	}
	n := &Notification{
		ID:        idgen.WithPrefix("notif_"),
		UserID:    userID,
		Category:  category,
		Title:     title,
		Body:      body,
		Priority:  priority,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AppendDelivery(ctx, n); err != nil {
		return err
	}
	metrics.NotificationsTotal.WithLabelValues(category, priority).Inc()

	if err := s.dispatcher.DispatchToUser(ctx, n); err != nil {
		s.logger.Warn("notification dispatch failed", "user", userID, "error", err)
	}
	return nil
}

// Subscribe registers a webhook endpoint for a user's notifications.
func (s *Service) Subscribe(ctx context.Context, userID, url, secret string, categories []string) (*Subscription, error) {
	sub := &Subscription{
		ID:         idgen.WithPrefix("sub_"),
		UserID:     userID,
		URL:        url,
		Secret:     secret,
		Categories: categories,
		Active:     true,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Unsubscribe removes a webhook subscription.
func (s *Service) Unsubscribe(ctx context.Context, id string) error {
	return s.store.DeleteSubscription(ctx, id)
}

// Deliveries returns a user's recent notifications, newest first.
func (s *Service) Deliveries(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListDeliveries(ctx, userID, limit)
}
