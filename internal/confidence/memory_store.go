package confidence

import (
	"context"
	"sort"
	"sync"

	"github.com/lumen-social/trustcore/internal/detection"
	"github.com/lumen-social/trustcore/internal/pagination"
)

// MemoryStore is an in-memory confidence store for demo/test mode.
type MemoryStore struct {
	mu       sync.RWMutex
	rules    map[detection.SignalType]*Rule
	feedback []*Feedback // insertion order
}

// NewMemoryStore creates an in-memory confidence store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[detection.SignalType]*Rule)}
}

func (m *MemoryStore) GetRule(ctx context.Context, t detection.SignalType) (*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.rules[t]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rule
	return &cp, nil
}

func (m *MemoryStore) SaveRule(ctx context.Context, rule *Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rule
	m.rules[rule.Type] = &cp
	return nil
}

func (m *MemoryStore) ListRules(ctx context.Context) ([]*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rules := make([]*Rule, 0, len(m.rules))
	for _, r := range m.rules {
		cp := *r
		rules = append(rules, &cp)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Type < rules[j].Type })
	return rules, nil
}

func (m *MemoryStore) AddFeedback(ctx context.Context, fb *Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *fb
	m.feedback = append(m.feedback, &cp)
	return nil
}

func (m *MemoryStore) CountUnapplied(ctx context.Context, t detection.SignalType) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, fb := range m.feedback {
		if fb.SignalType == t && !fb.Applied {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ListUnapplied(ctx context.Context, t detection.SignalType, cursor *pagination.Cursor, limit int) ([]*Feedback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Feedback
	for _, fb := range m.feedback {
		if fb.SignalType != t || fb.Applied {
			continue
		}
		cp := *fb
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if cursor != nil {
		trimmed := result[:0]
		for _, fb := range result {
			if fb.CreatedAt.After(cursor.CreatedAt) ||
				(fb.CreatedAt.Equal(cursor.CreatedAt) && fb.ID > cursor.ID) {
				trimmed = append(trimmed, fb)
			}
		}
		result = trimmed
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) MarkApplied(ctx context.Context, ids []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var flipped []string
	for _, fb := range m.feedback {
		if want[fb.ID] && !fb.Applied {
			fb.Applied = true
			flipped = append(flipped, fb.ID)
		}
	}
	return flipped, nil
}
