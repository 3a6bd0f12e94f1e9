package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) PresenceChanged(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func newTestTracker(grace time.Duration) (*Tracker, *MemoryLiveness, *eventRecorder, *time.Time) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	current := &now
	store := NewMemoryLiveness()
	store.Clock = func() time.Time { return *current }
	sink := &eventRecorder{}
	tr := NewTracker(store, sink, grace)
	tr.clock = func() time.Time { return *current }
	return tr, store, sink, current
}

func TestHeartbeat_FirstEmitsOnlineOnce(t *testing.T) {
	tr, _, sink, _ := newTestTracker(30 * time.Second)
	ctx := context.Background()

	require.NoError(t, tr.Heartbeat(ctx, "sess-1", "patient-1"))
	require.NoError(t, tr.Heartbeat(ctx, "sess-1", "patient-1"))
	require.NoError(t, tr.Heartbeat(ctx, "sess-1", "patient-1"))

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, StatusOnline, events[0].Status)
	assert.Equal(t, "patient-1", events[0].UserID)
	assert.Equal(t, "sess-1", events[0].SessionID)
}

func TestSweep_GraceExpiryEmitsOfflineOnce(t *testing.T) {
	tr, _, sink, now := newTestTracker(30 * time.Second)
	ctx := context.Background()

	require.NoError(t, tr.Heartbeat(ctx, "sess-1", "patient-1"))

	// Within the grace period nothing happens.
	*now = now.Add(29 * time.Second)
	n, err := tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Past the grace period the participant drops exactly once.
	*now = now.Add(2 * time.Second)
	n, err = tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	events := sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, StatusOnline, events[0].Status)
	assert.Equal(t, StatusOffline, events[1].Status)
}

func TestHeartbeat_RefreshExtendsGrace(t *testing.T) {
	tr, _, sink, now := newTestTracker(30 * time.Second)
	ctx := context.Background()

	require.NoError(t, tr.Heartbeat(ctx, "sess-1", "patient-1"))
	*now = now.Add(20 * time.Second)
	require.NoError(t, tr.Heartbeat(ctx, "sess-1", "patient-1"))
	*now = now.Add(20 * time.Second)

	n, err := tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "refreshed heartbeat must push the deadline out")
	require.Len(t, sink.all(), 1)
}

func TestLeave_EmitsOfflineImmediately(t *testing.T) {
	tr, _, sink, _ := newTestTracker(30 * time.Second)
	ctx := context.Background()

	require.NoError(t, tr.Heartbeat(ctx, "sess-1", "physician-1"))
	require.NoError(t, tr.Leave(ctx, "sess-1", "physician-1"))
	require.NoError(t, tr.Leave(ctx, "sess-1", "physician-1"))

	events := sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, StatusOnline, events[0].Status)
	assert.Equal(t, StatusOffline, events[1].Status)
}

func TestHeartbeat_RejoinAfterExpiryAlternates(t *testing.T) {
	tr, _, sink, now := newTestTracker(30 * time.Second)
	ctx := context.Background()

	require.NoError(t, tr.Heartbeat(ctx, "sess-1", "patient-1"))

	// The key lapses and the next heartbeat arrives before any sweep ran.
	*now = now.Add(time.Minute)
	require.NoError(t, tr.Heartbeat(ctx, "sess-1", "patient-1"))

	events := sink.all()
	require.Len(t, events, 3)
	assert.Equal(t, StatusOnline, events[0].Status)
	assert.Equal(t, StatusOffline, events[1].Status)
	assert.Equal(t, StatusOnline, events[2].Status)

	// The sweep must not emit a second offline for the recovered key.
	n, err := tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStatus_CrossSessionView(t *testing.T) {
	tr, _, _, now := newTestTracker(30 * time.Second)
	ctx := context.Background()
	started := *now

	require.NoError(t, tr.Heartbeat(ctx, "sess-1", "patient-1"))
	require.NoError(t, tr.Heartbeat(ctx, "sess-2", "patient-1"))

	rec, known, err := tr.Status(ctx, "patient-1")
	require.NoError(t, err)
	require.True(t, known)
	assert.Equal(t, StatusOnline, rec.Status)
	assert.Equal(t, started, rec.LastSeenAt)

	// One live key is enough to stay online.
	require.NoError(t, tr.Leave(ctx, "sess-1", "patient-1"))
	rec, known, err = tr.Status(ctx, "patient-1")
	require.NoError(t, err)
	require.True(t, known)
	assert.Equal(t, StatusOnline, rec.Status)

	*now = now.Add(time.Minute)
	rec, known, err = tr.Status(ctx, "patient-1")
	require.NoError(t, err)
	require.True(t, known)
	assert.Equal(t, StatusOffline, rec.Status)
	assert.Equal(t, started, rec.LastSeenAt)

	_, known, err = tr.Status(ctx, "stranger")
	require.NoError(t, err)
	assert.False(t, known)
}

func TestListOnline_DeduplicatesAcrossSessions(t *testing.T) {
	tr, _, _, now := newTestTracker(30 * time.Second)
	ctx := context.Background()

	require.NoError(t, tr.Heartbeat(ctx, "sess-1", "patient-1"))
	require.NoError(t, tr.Heartbeat(ctx, "sess-2", "patient-1"))
	require.NoError(t, tr.Heartbeat(ctx, "sess-1", "physician-1"))

	online, err := tr.ListOnline(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"patient-1", "physician-1"}, online)

	*now = now.Add(time.Minute)
	online, err = tr.ListOnline(ctx)
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestOnline_ReportsLiveParticipants(t *testing.T) {
	tr, _, _, now := newTestTracker(30 * time.Second)
	ctx := context.Background()

	require.NoError(t, tr.Heartbeat(ctx, "sess-1", "patient-1"))
	require.NoError(t, tr.Heartbeat(ctx, "sess-1", "physician-1"))

	online, err := tr.Online(ctx, "sess-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"patient-1", "physician-1"}, online)

	*now = now.Add(time.Minute)
	online, err = tr.Online(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, online)
}
