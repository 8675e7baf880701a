// Package notify delivers user-facing safety notifications.
//
// Deliveries are recorded in-core and fanned out to registered webhook
// endpoints with HMAC-signed payloads. Dispatch is fire-and-forget with
// bounded retries; the caller assumes at-least-once delivery and a
// delivery failure never fails the operation that triggered it.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("subscription not found")

// Notification priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Notification is one user-facing safety message.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Category  string    `json:"category"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Priority  string    `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
}

// Subscription is one webhook endpoint registered for a user's
// notifications.
type Subscription struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	URL         string     `json:"url"`
	Secret      string     `json:"-"` // HMAC signing key
	Categories  []string   `json:"categories"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

// subscribedTo reports whether the subscription wants this category. An
// empty category list means all categories.
func (s *Subscription) subscribedTo(category string) bool {
	if len(s.Categories) == 0 {
		return true
	}
	for _, c := range s.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// Store persists subscriptions and the delivery log.
type Store interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]*Subscription, error)
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	DeleteSubscription(ctx context.Context, id string) error

	AppendDelivery(ctx context.Context, n *Notification) error
	ListDeliveries(ctx context.Context, userID string, limit int) ([]*Notification, error)
}

// MemoryStore is an in-memory notification store for demo/test mode.
type MemoryStore struct {
	mu         sync.RWMutex
	subs       map[string]*Subscription
	deliveries []*Notification // insertion order
}

// NewMemoryStore creates an in-memory notification store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Subscription)}
}

func (m *MemoryStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.UserID == userID {
			cp := *sub
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return ErrNotFound
	}
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}

func (m *MemoryStore) AppendDelivery(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.deliveries = append(m.deliveries, &cp)
	return nil
}

func (m *MemoryStore) ListDeliveries(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Notification
	for i := len(m.deliveries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.deliveries[i].UserID == userID {
			cp := *m.deliveries[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}
