package shield

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory shield store for demo/test mode. Resolved
// records are archived so their history survives a re-activation.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*State // key → latest record
	archived []*State
}

// NewMemoryStore creates an in-memory shield store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*State)}
}

func copyState(st *State) *State {
	cp := *st
	cp.Signals = make([]RecordedSignal, len(st.Signals))
	copy(cp.Signals, st.Signals)
	cp.Actions = make([]ActionEntry, len(st.Actions))
	copy(cp.Actions, st.Actions)
	if st.ResolvedAt != nil {
		t := *st.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

func (m *MemoryStore) Create(ctx context.Context, st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.records[st.Key]; ok {
		m.archived = append(m.archived, old)
	}
	m.records[st.Key] = copyState(st)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyState(st), nil
}

func (m *MemoryStore) AppendSignals(ctx context.Context, key string, signals []RecordedSignal, newScore float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.records[key]
	if !ok {
		return ErrNotFound
	}
	st.Signals = append(st.Signals, signals...)
	// Score only moves up; a stale writer cannot shrink it.
	if newScore > st.RiskScore {
		st.RiskScore = newScore
	}
	st.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ApplyEscalation(ctx context.Context, key string, from, to Level, modes Modes, actions []ActionEntry, caseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.records[key]
	if !ok {
		return ErrNotFound
	}
	if st.Level != from {
		return ErrLevelConflict
	}
	st.Level = to
	st.Modes = modes
	st.Actions = append(st.Actions, actions...)
	if caseID != "" {
		st.CaseID = caseID
	}
	st.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) Resolve(ctx context.Context, key string, at time.Time, actor, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.records[key]
	if !ok {
		return ErrNotFound
	}
	if st.ResolvedAt != nil {
		return ErrResolved
	}
	t := at
	st.ResolvedAt = &t
	st.ResolvedBy = actor
	st.ResolutionReason = reason
	st.Actions = append(st.Actions, ActionEntry{Action: "shield_resolved", Level: st.Level, Reason: reason, At: at})
	st.UpdatedAt = at
	return nil
}

func (m *MemoryStore) ListActiveForUser(ctx context.Context, protectedUserID string) ([]*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*State
	for _, st := range m.records {
		if st.ProtectedUserID == protectedUserID && st.ResolvedAt == nil {
			result = append(result, copyState(st))
		}
	}
	return result, nil
}
