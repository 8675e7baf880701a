package cases

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory case store for demo/test mode.
type MemoryStore struct {
	mu    sync.RWMutex
	cases map[string]*Case
	order []string // insertion order
}

// NewMemoryStore creates an in-memory case store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cases: make(map[string]*Case)}
}

func (m *MemoryStore) Create(ctx context.Context, c *Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.cases[c.ID] = &cp
	m.order = append(m.order, c.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, c *Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cases[c.ID]; !ok {
		return ErrNotFound
	}
	cp := *c
	m.cases[c.ID] = &cp
	return nil
}

func (m *MemoryStore) ListOpen(ctx context.Context, limit int) ([]*Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Case
	for _, id := range m.order {
		c := m.cases[id]
		if c.Status != StatusOpen {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}
	// Priority first, then oldest first within a priority.
	sort.SliceStable(result, func(i, j int) bool {
		ri, rj := priorityRank(result[i].Priority), priorityRank(result[j].Priority)
		if ri != rj {
			return ri < rj
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListBySubject(ctx context.Context, subject string, limit int) ([]*Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Case
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		c := m.cases[m.order[i]]
		if c.Subject == subject {
			cp := *c
			result = append(result, &cp)
		}
	}
	return result, nil
}
