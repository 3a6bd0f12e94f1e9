package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to end users by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogTransition records one session status transition. Satisfies the state
// machine's recorder hook.
func (s *Service) LogTransition(ctx context.Context, sessionID, actorID, from, to string) error {
	if sessionID == "" || from == "" || to == "" {
		return ErrInvalidEvent
	}
	return s.Append(ctx, Event{
		Type:        EventTypeSessionTransition,
		ActorUserID: actorID,
		SessionID:   sessionID,
		FromStatus:  from,
		ToStatus:    to,
		Message:     "session " + from + " -> " + to,
	})
}

// LogSettlement records the outcome of a billing settlement attempt.
func (s *Service) LogSettlement(ctx context.Context, sessionID, outcome string, amountMinor int64, metadata string) error {
	if sessionID == "" || outcome == "" {
		return ErrInvalidEvent
	}
	return s.Append(ctx, Event{
		Type:      EventTypeSettlement,
		SessionID: sessionID,
		ToStatus:  outcome,
		Message:   "settlement " + outcome,
		Metadata:  metadata,
	})
}

// LogAdminAction records a privileged manual action (e.g. manual wallet credit).
func (s *Service) LogAdminAction(ctx context.Context, actorUserID, actorRole, ip, message, walletID string, metadata string) error {
	if actorUserID == "" {
		return ErrInvalidEvent
	}
	return s.Append(ctx, Event{
		Type:        EventTypeAdminAction,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		WalletID:    walletID,
		Message:     message,
		Metadata:    metadata,
	})
}
