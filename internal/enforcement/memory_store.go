package enforcement

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory enforcement store for demo/test mode.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	changes map[string][]*Change
}

// NewMemoryStore creates an in-memory enforcement store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		changes: make(map[string][]*Change),
	}
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) Save(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.UserID] = &cp
	return nil
}

func (m *MemoryStore) AppendChange(ctx context.Context, ch *Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ch
	m.changes[ch.UserID] = append(m.changes[ch.UserID], &cp)
	return nil
}

func (m *MemoryStore) ListChanges(ctx context.Context, userID string, limit int) ([]*Change, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.changes[userID]
	var result []*Change
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		cp := *all[i]
		result = append(result, &cp)
	}
	return result, nil
}
