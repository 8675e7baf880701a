package consent

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory consent store for demo/test mode.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record // pairKey → record
}

// NewMemoryStore creates an in-memory consent store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func copyRecord(rec *Record) *Record {
	cp := *rec
	cp.History = make([]HistoryEntry, len(rec.History))
	copy(cp.History, rec.History)
	cp.PendingRefunds = make([]string, len(rec.PendingRefunds))
	copy(cp.PendingRefunds, rec.PendingRefunds)
	return &cp
}

func (m *MemoryStore) Create(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[rec.PairKey] = copyRecord(rec)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, pairKey string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[pairKey]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (m *MemoryStore) ListActiveByUser(ctx context.Context, userID string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Record
	for _, rec := range m.records {
		if rec.State != StateActive {
			continue
		}
		if rec.UserA == userID || rec.UserB == userID {
			result = append(result, copyRecord(rec))
		}
	}
	return result, nil
}

func (m *MemoryStore) SetState(ctx context.Context, pairKey string, from, to State, caps Capabilities, entry HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[pairKey]
	if !ok {
		return ErrNotFound
	}
	if rec.State != from {
		return ErrStateConflict
	}
	rec.State = to
	rec.Capabilities = caps
	rec.History = append(rec.History, entry)
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) AddPendingRefund(ctx context.Context, pairKey, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[pairKey]
	if !ok {
		return ErrNotFound
	}
	for _, id := range rec.PendingRefunds {
		if id == txID {
			return nil
		}
	}
	rec.PendingRefunds = append(rec.PendingRefunds, txID)
	return nil
}

func (m *MemoryStore) RemovePendingRefund(ctx context.Context, pairKey, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[pairKey]
	if !ok {
		return ErrNotFound
	}
	kept := rec.PendingRefunds[:0]
	for _, id := range rec.PendingRefunds {
		if id != txID {
			kept = append(kept, id)
		}
	}
	rec.PendingRefunds = kept
	return nil
}

func (m *MemoryStore) DrainPendingRefunds(ctx context.Context, pairKey string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[pairKey]
	if !ok {
		return nil, ErrNotFound
	}
	drained := rec.PendingRefunds
	rec.PendingRefunds = nil
	return drained, nil
}
