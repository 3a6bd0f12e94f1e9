package consult

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"telehealth-platform/internal/readiness"
)

var testWindows = readiness.Windows{Pre: 15 * time.Minute, Post: 30 * time.Minute}

type sinkRecorder struct {
	mu     sync.Mutex
	events []Session
}

func (r *sinkRecorder) SessionChanged(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *sinkRecorder) byStatus(status Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Status == status {
			n++
		}
	}
	return n
}

type settleCounter struct {
	mu    sync.Mutex
	calls int
	store Store
}

func (c *settleCounter) Settle(ctx context.Context, sessionID string) (Session, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	out, _, err := c.store.CompareAndSwapPayment(ctx, sessionID, PaymentStatusPending, PaymentStatusPaid)
	return out, err
}

func newTestService(t *testing.T, now time.Time) (*Service, *MemoryStore, *sinkRecorder, *settleCounter) {
	t.Helper()
	store := NewMemoryStore()
	sink := &sinkRecorder{}
	settler := &settleCounter{store: store}
	svc := NewService(store, sink, settler, nil, testWindows)
	svc.clock = func() time.Time { return now }
	return svc, store, sink, settler
}

func scheduleOne(t *testing.T, svc *Service, scheduledFor time.Time) Session {
	t.Helper()
	sess, err := svc.Schedule(context.Background(), ScheduleRequest{
		PatientID:             "patient-1",
		PhysicianID:           "physician-1",
		ScheduledFor:          scheduledFor,
		ConsultationRateMinor: 5000,
		Currency:              "USD",
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	return sess
}

func TestStart_RequiresParticipant(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _, _, _ := newTestService(t, now)
	sess := scheduleOne(t, svc, now)

	if _, err := svc.Start(context.Background(), sess.ID, "intruder"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestStart_BeforeWindowReturnsWait(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _, _, _ := newTestService(t, now)
	sess := scheduleOne(t, svc, now.Add(20*time.Minute))

	_, err := svc.Start(context.Background(), sess.ID, "patient-1")
	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("expected NotReadyError, got %v", err)
	}
	if notReady.RetryAfter != 5*time.Minute {
		t.Fatalf("expected 5m wait, got %s", notReady.RetryAfter)
	}
}

func TestStart_AfterPostWindowExpiresSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, store, sink, _ := newTestService(t, now)
	sess := scheduleOne(t, svc, now.Add(-31*time.Minute))

	_, err := svc.Start(context.Background(), sess.ID, "patient-1")
	var expired *WindowExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("expected WindowExpiredError, got %v", err)
	}

	cur, _ := store.Get(context.Background(), sess.ID)
	if cur.Status != StatusExpired {
		t.Fatalf("expected expired, got %s", cur.Status)
	}
	if sink.byStatus(StatusExpired) != 1 {
		t.Fatalf("expected one expired event")
	}
}

func TestStart_ConcurrentCallersSingleStartedAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, store, sink, _ := newTestService(t, now)
	sess := scheduleOne(t, svc, now)

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	actors := [2]string{"patient-1", "physician-1"}
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Start(context.Background(), sess.ID, actors[i%2])
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: unexpected error %v", i, err)
		}
	}

	cur, _ := store.Get(context.Background(), sess.ID)
	if cur.Status != StatusInProgress {
		t.Fatalf("expected in_progress, got %s", cur.Status)
	}
	if cur.StartedAt == nil || !cur.StartedAt.Equal(now) {
		t.Fatalf("expected single started_at=%s, got %v", now, cur.StartedAt)
	}
	if got := sink.byStatus(StatusInProgress); got != 1 {
		t.Fatalf("expected exactly one in_progress event, got %d", got)
	}
}

func TestEnd_ConcurrentCallersSettleOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, store, _, settler := newTestService(t, now)
	sess := scheduleOne(t, svc, now)

	if _, err := svc.Start(context.Background(), sess.ID, "patient-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	later := now.Add(23*time.Minute + 40*time.Second)
	svc.clock = func() time.Time { return later }

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.End(context.Background(), sess.ID, "physician-1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: unexpected error %v", i, err)
		}
	}

	cur, _ := store.Get(context.Background(), sess.ID)
	if cur.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", cur.Status)
	}
	if cur.DurationMinutes == nil || *cur.DurationMinutes != 23 {
		t.Fatalf("expected duration 23 (floored), got %v", cur.DurationMinutes)
	}
	if settler.calls != 1 {
		t.Fatalf("expected exactly one settlement, got %d", settler.calls)
	}
	if cur.PaymentStatus != PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", cur.PaymentStatus)
	}
}

func TestEnd_RequiresInProgress(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _, _, _ := newTestService(t, now)
	sess := scheduleOne(t, svc, now)

	_, err := svc.End(context.Background(), sess.ID, "patient-1")
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if te.From != StatusScheduled {
		t.Fatalf("unexpected from status %s", te.From)
	}
}

func TestCancel_OnlyWhileScheduled(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _, _, _ := newTestService(t, now)
	sess := scheduleOne(t, svc, now)

	out, err := svc.Cancel(context.Background(), sess.ID, "patient-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if out.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", out.Status)
	}

	// A second cancel is an idempotent success; start is now illegal.
	if _, err := svc.Cancel(context.Background(), sess.ID, "patient-1"); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	var te *TransitionError
	if _, err := svc.Start(context.Background(), sess.ID, "patient-1"); !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
}

func TestExpire_NoOpAfterHumanAction(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _, _, _ := newTestService(t, now)
	sess := scheduleOne(t, svc, now)

	if _, err := svc.Start(context.Background(), sess.ID, "patient-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	svc.clock = func() time.Time { return now.Add(2 * time.Hour) }
	out, err := svc.Expire(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if out.Status != StatusInProgress {
		t.Fatalf("expire must not touch a started session, got %s", out.Status)
	}
}

func TestSweepExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _, _, _ := newTestService(t, now)

	stale := scheduleOne(t, svc, now.Add(-2*time.Hour))
	fresh := scheduleOne(t, svc, now.Add(10*time.Minute))

	n, err := svc.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expiry, got %d", n)
	}

	cur, _ := svc.Get(context.Background(), stale.ID)
	if cur.Status != StatusExpired {
		t.Fatalf("expected stale session expired, got %s", cur.Status)
	}
	cur, _ = svc.Get(context.Background(), fresh.ID)
	if cur.Status != StatusScheduled {
		t.Fatalf("expected fresh session untouched, got %s", cur.Status)
	}
}

func TestSchedule_RejectsInvalid(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _, _, _ := newTestService(t, now)

	cases := []ScheduleRequest{
		{PhysicianID: "p2", ScheduledFor: now, ConsultationRateMinor: 1, Currency: "USD"},
		{PatientID: "p1", ScheduledFor: now, ConsultationRateMinor: 1, Currency: "USD"},
		{PatientID: "p1", PhysicianID: "p1", ScheduledFor: now, ConsultationRateMinor: 1, Currency: "USD"},
		{PatientID: "p1", PhysicianID: "p2", ConsultationRateMinor: 1, Currency: "USD"},
		{PatientID: "p1", PhysicianID: "p2", ScheduledFor: now, ConsultationRateMinor: 1},
	}
	for i, req := range cases {
		if _, err := svc.Schedule(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
}

func TestDurationMinutes_NeverNegative(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if got := durationMinutes(&start, start.Add(-time.Minute)); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := durationMinutes(nil, start); got != 0 {
		t.Fatalf("expected 0 for missing start, got %d", got)
	}
	if got := durationMinutes(&start, start.Add(59*time.Second)); got != 0 {
		t.Fatalf("expected floor to 0, got %d", got)
	}
	if got := durationMinutes(&start, start.Add(61*time.Second)); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
}
