package presence

import (
	"context"
	"sync"
	"time"
)

// LivenessStore holds the per-participant liveness keys. Touch refreshes a
// key with the grace TTL and reports whether the key was newly created, which
// is the offline -> online signal. Keys that stop being touched disappear on
// their own after the TTL, so a crashed client goes offline without any
// explicit disconnect.
type LivenessStore interface {
	Touch(ctx context.Context, sessionID, userID string, ttl time.Duration) (created bool, err error)
	// Clear drops the key (explicit leave) and reports whether it existed.
	Clear(ctx context.Context, sessionID, userID string) (existed bool, err error)
	Alive(ctx context.Context, sessionID, userID string) (bool, error)
}

// MemoryLiveness is an in-process LivenessStore for tests and local
// development. Expiry is evaluated lazily against the injected clock.
type MemoryLiveness struct {
	mu      sync.Mutex
	expires map[string]time.Time

	Clock func() time.Time
}

func NewMemoryLiveness() *MemoryLiveness {
	return &MemoryLiveness{
		expires: make(map[string]time.Time),
		Clock:   time.Now,
	}
}

func memKey(sessionID, userID string) string {
	return sessionID + "/" + userID
}

func (m *MemoryLiveness) Touch(ctx context.Context, sessionID, userID string, ttl time.Duration) (bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Clock()
	key := memKey(sessionID, userID)
	deadline, ok := m.expires[key]
	created := !ok || now.After(deadline)
	m.expires[key] = now.Add(ttl)
	return created, nil
}

func (m *MemoryLiveness) Clear(ctx context.Context, sessionID, userID string) (bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memKey(sessionID, userID)
	deadline, ok := m.expires[key]
	delete(m.expires, key)
	return ok && m.Clock().Before(deadline), nil
}

func (m *MemoryLiveness) Alive(ctx context.Context, sessionID, userID string) (bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	deadline, ok := m.expires[memKey(sessionID, userID)]
	return ok && m.Clock().Before(deadline), nil
}
