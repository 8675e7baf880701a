package riskprofile

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory risk profile store for demo/test mode.
type MemoryStore struct {
	mu          sync.RWMutex
	profiles    map[string]*Profile
	transitions map[string][]Transition
}

// NewMemoryStore creates an in-memory risk profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:    make(map[string]*Profile),
		transitions: make(map[string][]Transition),
	}
}

func copyProfile(p *Profile) *Profile {
	cp := *p
	cp.Patterns = append(cp.Patterns[:0:0], p.Patterns...)
	return &cp
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyProfile(p), nil
}

func (m *MemoryStore) Save(ctx context.Context, profile *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[profile.UserID] = copyProfile(profile)
	return nil
}

func (m *MemoryStore) AppendTransition(ctx context.Context, userID string, tr Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[userID] = append(m.transitions[userID], tr)
	return nil
}

func (m *MemoryStore) ListTransitions(ctx context.Context, userID string) ([]Transition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Transition(nil), m.transitions[userID]...), nil
}

func (m *MemoryStore) SetReviewCaseID(ctx context.Context, userID, caseID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return false, ErrNotFound
	}
	if p.ReviewCaseID != "" {
		return false, nil
	}
	p.ReviewCaseID = caseID
	return true, nil
}
