package presence

import (
	"context"
	"sync"
	"time"

	"telehealth-platform/pkg/logger"
)

// Tracker turns heartbeats into presence transitions.
//
// A participant is online while its liveness key exists; the key carries a
// TTL equal to the grace period, so silence marks the participant offline
// without any explicit disconnect. The tracker keeps a local watch set of
// everyone it has seen online and sweeps it against the store, which is how
// TTL expiries become offline events. Exactly one event is emitted per
// transition in either direction.
type Tracker struct {
	store LivenessStore
	sink  Sink
	grace time.Duration

	mu       sync.Mutex
	online   map[string]map[string]struct{} // session -> user set
	lastSeen map[string]time.Time           // user -> last heartbeat

	clock func() time.Time
}

func NewTracker(store LivenessStore, sink Sink, grace time.Duration) *Tracker {
	return &Tracker{
		store:    store,
		sink:     sink,
		grace:    grace,
		online:   make(map[string]map[string]struct{}),
		lastSeen: make(map[string]time.Time),
		clock:    time.Now,
	}
}

// Heartbeat refreshes a participant's liveness. The first heartbeat after an
// absence emits a single online event; subsequent heartbeats are silent.
func (t *Tracker) Heartbeat(ctx context.Context, sessionID, userID string) error {
	created, err := t.store.Touch(ctx, sessionID, userID, t.grace)
	if err != nil {
		return err
	}

	now := t.clock().UTC()

	t.mu.Lock()
	users, ok := t.online[sessionID]
	if !ok {
		users = make(map[string]struct{})
		t.online[sessionID] = users
	}
	_, watched := users[userID]
	users[userID] = struct{}{}
	t.lastSeen[userID] = now
	t.mu.Unlock()

	switch {
	case !watched:
		t.emit(Event{SessionID: sessionID, UserID: userID, Status: StatusOnline, At: now})
	case created:
		// The key lapsed between sweeps and this heartbeat recreated it.
		// Surface the missed expiry so the transition stream stays alternating.
		t.emit(Event{SessionID: sessionID, UserID: userID, Status: StatusOffline, At: now})
		t.emit(Event{SessionID: sessionID, UserID: userID, Status: StatusOnline, At: now})
	}
	return nil
}

// Leave drops a participant's liveness immediately (explicit disconnect).
// Emits one offline event if the participant was online.
func (t *Tracker) Leave(ctx context.Context, sessionID, userID string) error {
	existed, err := t.store.Clear(ctx, sessionID, userID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	watched := false
	if users, ok := t.online[sessionID]; ok {
		if _, watched = users[userID]; watched {
			delete(users, userID)
			if len(users) == 0 {
				delete(t.online, sessionID)
			}
		}
	}
	t.mu.Unlock()

	if existed || watched {
		t.emit(Event{SessionID: sessionID, UserID: userID, Status: StatusOffline, At: t.clock().UTC()})
	}
	return nil
}

// Online reports which of the watched participants of a session are
// currently live. Used to build stream snapshots.
func (t *Tracker) Online(ctx context.Context, sessionID string) ([]string, error) {
	t.mu.Lock()
	var candidates []string
	for userID := range t.online[sessionID] {
		candidates = append(candidates, userID)
	}
	t.mu.Unlock()

	var out []string
	for _, userID := range candidates {
		alive, err := t.store.Alive(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		if alive {
			out = append(out, userID)
		}
	}
	return out, nil
}

// Status reports a user's liveness across all of their sessions: online while
// any of their liveness keys is alive. The second return is false for a user
// the tracker has never seen.
func (t *Tracker) Status(ctx context.Context, userID string) (Record, bool, error) {
	t.mu.Lock()
	seen, known := t.lastSeen[userID]
	var sessions []string
	for sessionID, users := range t.online {
		if _, ok := users[userID]; ok {
			sessions = append(sessions, sessionID)
		}
	}
	t.mu.Unlock()

	if !known {
		return Record{}, false, nil
	}
	for _, sessionID := range sessions {
		alive, err := t.store.Alive(ctx, sessionID, userID)
		if err != nil {
			return Record{}, false, err
		}
		if alive {
			return Record{Status: StatusOnline, LastSeenAt: seen}, true, nil
		}
	}
	return Record{Status: StatusOffline, LastSeenAt: seen}, true, nil
}

// ListOnline returns every user with at least one live liveness key.
func (t *Tracker) ListOnline(ctx context.Context) ([]string, error) {
	type member struct{ session, user string }

	t.mu.Lock()
	var watched []member
	for sessionID, users := range t.online {
		for userID := range users {
			watched = append(watched, member{sessionID, userID})
		}
	}
	t.mu.Unlock()

	seen := make(map[string]struct{})
	var out []string
	for _, m := range watched {
		if _, ok := seen[m.user]; ok {
			continue
		}
		alive, err := t.store.Alive(ctx, m.session, m.user)
		if err != nil {
			return nil, err
		}
		if alive {
			seen[m.user] = struct{}{}
			out = append(out, m.user)
		}
	}
	return out, nil
}

// Sweep checks every watched participant against the store and emits offline
// events for the ones whose liveness key has expired. Returns the number of
// transitions it produced.
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	type member struct{ session, user string }

	t.mu.Lock()
	var watched []member
	for sessionID, users := range t.online {
		for userID := range users {
			watched = append(watched, member{sessionID, userID})
		}
	}
	t.mu.Unlock()

	gone := 0
	for _, m := range watched {
		alive, err := t.store.Alive(ctx, m.session, m.user)
		if err != nil {
			return gone, err
		}
		if alive {
			continue
		}

		t.mu.Lock()
		stillWatched := false
		if users, ok := t.online[m.session]; ok {
			if _, stillWatched = users[m.user]; stillWatched {
				delete(users, m.user)
				if len(users) == 0 {
					delete(t.online, m.session)
				}
			}
		}
		t.mu.Unlock()

		if stillWatched {
			t.emit(Event{SessionID: m.session, UserID: m.user, Status: StatusOffline, At: t.clock().UTC()})
			gone++
		}
	}
	return gone, nil
}

// Run sweeps on the given interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.Sweep(ctx); err != nil {
				logger.From(ctx).Error("presence sweep failed", "err", err)
			}
		}
	}
}

func (t *Tracker) emit(e Event) {
	if t.sink != nil {
		t.sink.PresenceChanged(e)
	}
}
