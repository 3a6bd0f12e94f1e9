package consult

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrAlreadyExists = errors.New("session already exists")
)

// StatusChange is the payload of a conditional status write. Only the fields
// a given transition produces are non-nil; At stamps updated_at.
type StatusChange struct {
	To              Status
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationMinutes *int
	At              time.Time
}

// Store is the persistence contract for consultation sessions.
//
// The two CompareAndSwap methods are the only mutation paths after creation.
// They apply the write only if the row's current value matches expect, and
// always return the fresh row: swapped=false is not an error, it means
// another writer got there first and the caller should reduce off the
// returned state.
type Store interface {
	// Create inserts a new session (booking flow boundary). The engine
	// requires patient_id, physician_id, scheduled_for, consultation_rate
	// and payment_status to be supplied here and never mutates them itself
	// (except payment_status, via CompareAndSwapPayment).
	Create(ctx context.Context, s Session) error

	Get(ctx context.Context, id string) (Session, error)

	// ListFor returns every session in which userID is a participant,
	// newest scheduled first.
	ListFor(ctx context.Context, userID string) ([]Session, error)

	// ListByStatus returns sessions currently in the given status
	// (used by the expiry sweep).
	ListByStatus(ctx context.Context, status Status) ([]Session, error)

	CompareAndSwapStatus(ctx context.Context, id string, expect Status, change StatusChange) (Session, bool, error)

	CompareAndSwapPayment(ctx context.Context, id string, expect, next PaymentStatus) (Session, bool, error)
}
