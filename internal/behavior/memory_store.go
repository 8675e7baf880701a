package behavior

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lumen-social/trustcore/internal/pagination"
)

// MemoryStore is an in-memory behavior log for demo/test mode.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*LogEntry // insertion order
}

// NewMemoryStore creates an in-memory behavior store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func copyEntry(e *LogEntry) *LogEntry {
	cp := *e
	if e.Evidence != nil {
		cp.Evidence = append([]byte(nil), e.Evidence...)
	}
	return &cp
}

func (m *MemoryStore) Append(ctx context.Context, entry *LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, copyEntry(entry))
	return nil
}

func (m *MemoryStore) list(filter func(*LogEntry) bool) []*LogEntry {
	var result []*LogEntry
	for _, e := range m.entries {
		if filter(e) {
			result = append(result, copyEntry(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DetectedAt.Before(result[j].DetectedAt)
	})
	return result
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, since time.Time) ([]*LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.list(func(e *LogEntry) bool {
		return e.UserID == userID && !e.DetectedAt.Before(since)
	}), nil
}

func (m *MemoryStore) ListByUserAndType(ctx context.Context, userID string, t EventType, since time.Time) ([]*LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.list(func(e *LogEntry) bool {
		return e.UserID == userID && e.Type == t && !e.DetectedAt.Before(since)
	}), nil
}

func (m *MemoryStore) ListByCounterpart(ctx context.Context, counterpartID string, since time.Time) ([]*LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.list(func(e *LogEntry) bool {
		return e.CounterpartID == counterpartID && !e.DetectedAt.Before(since)
	}), nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, before time.Time, cursor *pagination.Cursor, limit int) ([]*LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	expired := m.list(func(e *LogEntry) bool {
		return e.ExpiresAt.Before(before)
	})
	sort.Slice(expired, func(i, j int) bool {
		if expired[i].ExpiresAt.Equal(expired[j].ExpiresAt) {
			return expired[i].ID < expired[j].ID
		}
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})

	var page []*LogEntry
	for _, e := range expired {
		if cursor != nil {
			if e.ExpiresAt.Before(cursor.CreatedAt) {
				continue
			}
			if e.ExpiresAt.Equal(cursor.CreatedAt) && e.ID <= cursor.ID {
				continue
			}
		}
		page = append(page, e)
		if len(page) >= limit {
			break
		}
	}
	return page, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	return nil
}

func (m *MemoryStore) ListActiveUsers(ctx context.Context, since time.Time, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var users []string
	for _, e := range m.entries {
		if e.DetectedAt.Before(since) || seen[e.UserID] {
			continue
		}
		seen[e.UserID] = true
		users = append(users, e.UserID)
		if len(users) >= limit {
			break
		}
	}
	return users, nil
}
