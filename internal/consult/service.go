package consult

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telehealth-platform/internal/readiness"
	"telehealth-platform/pkg/logger"

	"github.com/google/uuid"
)

// Service is the session state machine. It owns the legal transitions
//
//	scheduled -> in_progress -> completed
//	scheduled -> expired
//	scheduled -> cancelled
//
// Every transition is one conditional write against the Store. Losing a race
// to an equivalent transition is a successful no-op, not an error: both
// participants may press "start" at the same moment and both must observe
// the session as started with a single started_at.
type Service struct {
	store   Store
	sink    EventSink
	settler Settler
	trail   TransitionRecorder
	windows readiness.Windows

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

// EventSink receives the fresh snapshot after every winning transition.
// The event multiplexer implements this.
type EventSink interface {
	SessionChanged(s Session)
}

// Settler performs the exactly-once billing settlement for a completed
// session. Implemented by internal/billing.
type Settler interface {
	Settle(ctx context.Context, sessionID string) (Session, error)
}

// TransitionRecorder appends transitions to the audit trail. Best-effort:
// failures are logged, never propagated into the state machine.
type TransitionRecorder interface {
	LogTransition(ctx context.Context, sessionID, actorID, from, to string) error
}

func NewService(store Store, sink EventSink, settler Settler, trail TransitionRecorder, w readiness.Windows) *Service {
	return &Service{
		store:   store,
		sink:    sink,
		settler: settler,
		trail:   trail,
		windows: w,
		clock:   time.Now,
	}
}

var (
	ErrNotParticipant = errors.New("actor is not a participant of this session")
	ErrInvalidRequest = errors.New("invalid session request")
)

// TransitionError is a precondition violation: the session is not in a state
// from which the requested transition is legal (and the attempted transition
// is not an idempotent re-apply).
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// NotReadyError is returned by Start before the join window opens. RetryAfter
// feeds the UI countdown.
type NotReadyError struct {
	RetryAfter time.Duration
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("session not ready, retry in %s", e.RetryAfter)
}

// WindowExpiredError is returned by Start after the post-window has passed.
type WindowExpiredError struct{}

func (e *WindowExpiredError) Error() string { return "join window has expired" }

// ScheduleRequest is the booking-flow boundary: the engine requires these
// fields at creation and never mutates them afterwards (except
// payment_status, through settlement).
type ScheduleRequest struct {
	PatientID             string
	PhysicianID           string
	ScheduledFor          time.Time
	ConsultationRateMinor int64
	Currency              string
	// Prepaid plans create the session with payment_status=paid; metered
	// plans leave it pending until settlement.
	Prepaid bool
}

// Schedule creates a new session in the scheduled state.
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (Session, error) {
	if req.PatientID == "" || req.PhysicianID == "" {
		return Session{}, ErrInvalidRequest
	}
	if req.PatientID == req.PhysicianID {
		return Session{}, ErrInvalidRequest
	}
	if req.ScheduledFor.IsZero() {
		return Session{}, ErrInvalidRequest
	}
	if req.ConsultationRateMinor < 0 || req.Currency == "" {
		return Session{}, ErrInvalidRequest
	}

	now := s.clock().UTC()
	pay := PaymentStatusPending
	if req.Prepaid {
		pay = PaymentStatusPaid
	}
	sess := Session{
		ID:                    uuid.NewString(),
		PatientID:             req.PatientID,
		PhysicianID:           req.PhysicianID,
		Status:                StatusScheduled,
		ScheduledFor:          req.ScheduledFor.UTC(),
		ConsultationRateMinor: req.ConsultationRateMinor,
		Currency:              req.Currency,
		PaymentStatus:         pay,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return Session{}, err
	}
	s.publish(sess)
	return sess, nil
}

// Get returns a session snapshot.
func (s *Service) Get(ctx context.Context, id string) (Session, error) {
	return s.store.Get(ctx, id)
}

// ListFor returns the sessions a user participates in.
func (s *Service) ListFor(ctx context.Context, userID string) ([]Session, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	return s.store.ListFor(ctx, userID)
}

// Start transitions scheduled -> in_progress.
//
// Preconditions: actor is a participant, the readiness window is open and the
// session is still scheduled. A concurrent Start by the other participant is
// not a conflict: the loser observes in_progress and returns success.
func (s *Service) Start(ctx context.Context, sessionID, actorID string) (Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if !sess.IsParticipant(actorID) {
		return Session{}, ErrNotParticipant
	}

	switch sess.Status {
	case StatusInProgress:
		// Already started by the other party; idempotent success.
		return sess, nil
	case StatusScheduled:
		// fall through to the window check + CAS
	default:
		return Session{}, &TransitionError{From: sess.Status, To: StatusInProgress}
	}

	now := s.clock().UTC()
	switch readiness.Decide(sess.ScheduledFor, s.windows, now) {
	case readiness.StateNotReady:
		return Session{}, &NotReadyError{RetryAfter: readiness.TimeUntilReady(sess.ScheduledFor, s.windows, now)}
	case readiness.StateExpired:
		// The sweep has not caught this row yet. Apply the expiry here so the
		// store converges; if a racing Start beat us past the window edge the
		// CAS simply loses and the session stays in_progress.
		if expired, swapped, err := s.store.CompareAndSwapStatus(ctx, sessionID, StatusScheduled, StatusChange{To: StatusExpired, At: now}); err == nil && swapped {
			s.record(ctx, expired, "system", StatusScheduled)
			s.publish(expired)
		}
		return Session{}, &WindowExpiredError{}
	}

	started := now
	out, swapped, err := s.store.CompareAndSwapStatus(ctx, sessionID, StatusScheduled, StatusChange{
		To:        StatusInProgress,
		StartedAt: &started,
		At:        now,
	})
	if err != nil {
		return Session{}, err
	}
	if swapped {
		s.record(ctx, out, actorID, StatusScheduled)
		s.publish(out)
		return out, nil
	}

	// Lost the conditional write. If the winner performed the same
	// transition this is a success; anything else is a real precondition
	// failure.
	if out.Status == StatusInProgress {
		return out, nil
	}
	return Session{}, &TransitionError{From: out.Status, To: StatusInProgress}
}

// End transitions in_progress -> completed, derives duration_minutes and
// triggers settlement exactly once (winner only). Concurrent End calls
// resolve to a single winner; losers observe completed and do not re-settle.
func (s *Service) End(ctx context.Context, sessionID, actorID string) (Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if !sess.IsParticipant(actorID) {
		return Session{}, ErrNotParticipant
	}

	switch sess.Status {
	case StatusCompleted:
		// The other party already ended it; idempotent success, no re-settle.
		return sess, nil
	case StatusInProgress:
		// fall through
	default:
		return Session{}, &TransitionError{From: sess.Status, To: StatusCompleted}
	}

	now := s.clock().UTC()
	ended := now
	minutes := durationMinutes(sess.StartedAt, ended)
	out, swapped, err := s.store.CompareAndSwapStatus(ctx, sessionID, StatusInProgress, StatusChange{
		To:              StatusCompleted,
		EndedAt:         &ended,
		DurationMinutes: &minutes,
		At:              now,
	})
	if err != nil {
		return Session{}, err
	}
	if !swapped {
		if out.Status == StatusCompleted {
			return out, nil
		}
		return Session{}, &TransitionError{From: out.Status, To: StatusCompleted}
	}

	s.record(ctx, out, actorID, StatusInProgress)
	s.publish(out)

	// Winner triggers settlement. Settlement failures never roll back the
	// completed status: the consultation already happened.
	if s.settler != nil && out.PaymentStatus == PaymentStatusPending {
		settled, err := s.settler.Settle(ctx, sessionID)
		if err != nil {
			logger.From(ctx).Error("settlement failed", "session_id", sessionID, "err", err)
			return out, nil
		}
		return settled, nil
	}
	return out, nil
}

// Cancel transitions scheduled -> cancelled. Allowed only while scheduled.
func (s *Service) Cancel(ctx context.Context, sessionID, actorID string) (Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if !sess.IsParticipant(actorID) {
		return Session{}, ErrNotParticipant
	}

	switch sess.Status {
	case StatusCancelled:
		return sess, nil
	case StatusScheduled:
		// fall through
	default:
		return Session{}, &TransitionError{From: sess.Status, To: StatusCancelled}
	}

	now := s.clock().UTC()
	out, swapped, err := s.store.CompareAndSwapStatus(ctx, sessionID, StatusScheduled, StatusChange{To: StatusCancelled, At: now})
	if err != nil {
		return Session{}, err
	}
	if !swapped {
		if out.Status == StatusCancelled {
			return out, nil
		}
		return Session{}, &TransitionError{From: out.Status, To: StatusCancelled}
	}
	s.record(ctx, out, actorID, StatusScheduled)
	s.publish(out)
	return out, nil
}

// Expire transitions scheduled -> expired once the post-window has passed.
// System-triggered; a no-op if a human action already moved the session.
func (s *Service) Expire(ctx context.Context, sessionID string) (Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.Status != StatusScheduled {
		// Already transitioned by a human action; nothing to guard.
		return sess, nil
	}

	now := s.clock().UTC()
	if readiness.Decide(sess.ScheduledFor, s.windows, now) != readiness.StateExpired {
		return sess, nil
	}

	out, swapped, err := s.store.CompareAndSwapStatus(ctx, sessionID, StatusScheduled, StatusChange{To: StatusExpired, At: now})
	if err != nil {
		return Session{}, err
	}
	if swapped {
		s.record(ctx, out, "system", StatusScheduled)
		s.publish(out)
	}
	return out, nil
}

// SweepExpired expires every scheduled session whose post-window has passed.
// Run periodically from the process entrypoint.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	rows, err := s.store.ListByStatus(ctx, StatusScheduled)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, row := range rows {
		out, err := s.Expire(ctx, row.ID)
		if err != nil {
			logger.From(ctx).Error("expire sweep failed", "session_id", row.ID, "err", err)
			continue
		}
		if out.Status == StatusExpired && row.Status == StatusScheduled {
			expired++
		}
	}
	return expired, nil
}

// Readiness reports the current join-window decision and countdown for a
// session, computed against the service clock.
func (s *Service) Readiness(ctx context.Context, sessionID string) (readiness.State, time.Duration, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return "", 0, err
	}
	now := s.clock().UTC()
	state := readiness.Decide(sess.ScheduledFor, s.windows, now)
	wait := readiness.TimeUntilReady(sess.ScheduledFor, s.windows, now)
	return state, wait, nil
}

func (s *Service) publish(sess Session) {
	if s.sink != nil {
		s.sink.SessionChanged(sess)
	}
}

func (s *Service) record(ctx context.Context, sess Session, actorID string, from Status) {
	if s.trail == nil {
		return
	}
	if err := s.trail.LogTransition(ctx, sess.ID, actorID, string(from), string(sess.Status)); err != nil {
		logger.From(ctx).Error("audit append failed", "session_id", sess.ID, "err", err)
	}
}

// durationMinutes floors the elapsed time to whole minutes, never negative.
func durationMinutes(startedAt *time.Time, endedAt time.Time) int {
	if startedAt == nil {
		return 0
	}
	d := endedAt.Sub(*startedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}
