package orchestrator

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory assessment store for demo/test mode.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Assessment
	byUser map[string][]*Assessment // newest last
}

// NewMemoryStore creates an in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Assessment),
		byUser: make(map[string][]*Assessment),
	}
}

func copyAssessment(a *Assessment) *Assessment {
	cp := *a
	cp.Signals = append(cp.Signals[:0:0], a.Signals...)
	return &cp
}

func (m *MemoryStore) SaveAssessment(ctx context.Context, a *Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := copyAssessment(a)
	m.byID[a.ID] = cp
	m.byUser[a.UserID] = append(m.byUser[a.UserID], cp)
	return nil
}

func (m *MemoryStore) GetAssessment(ctx context.Context, id string) (*Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAssessment(a), nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.byUser[userID]
	var result []*Assessment
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, copyAssessment(all[i]))
	}
	return result, nil
}
