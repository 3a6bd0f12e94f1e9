package monitor

import (
	"context"
	"sync"
	"time"

	"telehealth-platform/internal/consult"
	"telehealth-platform/internal/events"
	"telehealth-platform/pkg/logger"
)

// Callback is invoked when a watched user's session enters in_progress.
// Downstream navigation side effects are not idempotent from the user's
// perspective, so the manager guarantees at most one invocation per
// (session, status) transition.
type Callback func(s consult.Session)

type watcher struct {
	userID string
	cb     Callback

	mu   sync.Mutex
	seen map[string]consult.Status // session_id -> last status we acted on
}

// Manager is the global session monitor: one registered watcher per
// logged-in user, fed from the event bus firehose with a periodic store poll
// as a safety net (a watcher registered after a transition still catches it
// on the next poll).
type Manager struct {
	store    consult.Store
	bus      *events.Bus
	interval time.Duration

	mu       sync.Mutex
	watchers map[string]*watcher
}

func NewManager(store consult.Store, bus *events.Bus, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Manager{
		store:    store,
		bus:      bus,
		interval: interval,
		watchers: make(map[string]*watcher),
	}
}

// Watch registers a callback for one user and returns its cancel func.
// Re-registering replaces the previous watcher, dropping its seen-set, which
// is what a fresh login should do.
func (m *Manager) Watch(userID string, cb Callback) func() {
	w := &watcher{userID: userID, cb: cb, seen: make(map[string]consult.Status)}

	m.mu.Lock()
	m.watchers[userID] = w
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		if m.watchers[userID] == w {
			delete(m.watchers, userID)
		}
		m.mu.Unlock()
	}
}

// Notify feeds one session snapshot through the de-duplication filter and
// fires the callbacks of any participant watchers. Called from the firehose
// loop and from the poll; safe to call with the same snapshot repeatedly.
func (m *Manager) Notify(sess consult.Session) {
	if sess.Status != consult.StatusInProgress {
		return
	}

	m.mu.Lock()
	var targets []*watcher
	for _, w := range m.watchers {
		if sess.IsParticipant(w.userID) {
			targets = append(targets, w)
		}
	}
	m.mu.Unlock()

	for _, w := range targets {
		w.mu.Lock()
		already := w.seen[sess.ID] == sess.Status
		if !already {
			w.seen[sess.ID] = sess.Status
		}
		w.mu.Unlock()

		if !already {
			w.cb(sess)
		}
	}
}

// Run consumes the bus firehose and polls the store until ctx is cancelled.
// If the firehose subscription is dropped (slow consumer) it resubscribes.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	sub := m.bus.SubscribeAll(0)
	defer func() { sub.Cancel() }()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				// Fell behind; reattach and let the next poll fill the gap.
				sub = m.bus.SubscribeAll(0)
				continue
			}
			if msg.Kind == events.KindSession && msg.Session != nil {
				m.Notify(*msg.Session)
			}
		case <-ticker.C:
			if err := m.pollOnce(ctx); err != nil {
				logger.From(ctx).Error("monitor poll failed", "err", err)
			}
		}
	}
}

func (m *Manager) pollOnce(ctx context.Context) error {
	rows, err := m.store.ListByStatus(ctx, consult.StatusInProgress)
	if err != nil {
		return err
	}
	for _, sess := range rows {
		m.Notify(sess)
	}
	return nil
}
