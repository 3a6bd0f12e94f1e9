package consult

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a mutex-guarded in-memory Store used by tests and local
// development. The CAS semantics match the Postgres implementation: the
// check-and-write of a single row is atomic under the store mutex.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Create(ctx context.Context, s Session) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrAlreadyExists
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Session, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) ListFor(ctx context.Context, userID string) ([]Session, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Session
	for _, s := range m.sessions {
		if s.IsParticipant(userID) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledFor.After(out[j].ScheduledFor)
	})
	return out, nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status Status) ([]Session, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Session
	for _, s := range m.sessions {
		if s.Status == status {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledFor.Before(out[j].ScheduledFor)
	})
	return out, nil
}

func (m *MemoryStore) CompareAndSwapStatus(ctx context.Context, id string, expect Status, change StatusChange) (Session, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false, ErrNotFound
	}
	if s.Status != expect {
		return s, false, nil
	}

	s.Status = change.To
	if change.StartedAt != nil {
		s.StartedAt = change.StartedAt
	}
	if change.EndedAt != nil {
		s.EndedAt = change.EndedAt
	}
	if change.DurationMinutes != nil {
		s.DurationMinutes = change.DurationMinutes
	}
	s.UpdatedAt = change.At
	m.sessions[id] = s
	return s, true, nil
}

func (m *MemoryStore) CompareAndSwapPayment(ctx context.Context, id string, expect, next PaymentStatus) (Session, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false, ErrNotFound
	}
	if s.PaymentStatus != expect {
		return s, false, nil
	}
	s.PaymentStatus = next
	m.sessions[id] = s
	return s, true, nil
}
