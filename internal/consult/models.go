package consult

import "time"

// Session represents one scheduled virtual consultation between exactly one
// patient and one physician.
//
// Ownership invariant: rows are mutated only through the state machine in
// this package, and only via conditional (compare-and-swap) writes. Sessions
// are never physically deleted; terminal states are retained for history.
//
// Money invariant reminder: the settlement debit references the session id in
// the wallet ledger (external_ref) rather than mutating money fields here.
type Session struct {
	ID          string `json:"id" db:"id"`
	PatientID   string `json:"patient_id" db:"patient_id"`
	PhysicianID string `json:"physician_id" db:"physician_id"`

	Status Status `json:"status" db:"status"`

	// ScheduledFor is the nominal appointment instant agreed at booking time.
	ScheduledFor time.Time `json:"scheduled_for" db:"scheduled_for"`

	// StartedAt and EndedAt are set exactly once, by the transition that
	// produces them. Explicit nullable fields, never a free-form map.
	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// DurationMinutes is derived at completion as ended_at - started_at,
	// rounded down to whole minutes. Never recomputed after set.
	DurationMinutes *int `json:"duration_minutes,omitempty" db:"duration_minutes"`

	// ConsultationRateMinor is the fixed fee in minor units agreed at booking.
	ConsultationRateMinor int64  `json:"consultation_rate_minor" db:"consultation_rate_minor"`
	Currency              string `json:"currency" db:"currency"`

	PaymentStatus PaymentStatus `json:"payment_status" db:"payment_status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further status transition is legal.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// IsParticipant reports whether userID is one of the two fixed parties.
func (s Session) IsParticipant(userID string) bool {
	return userID != "" && (userID == s.PatientID || userID == s.PhysicianID)
}

// OtherParticipant returns the counterpart of userID, or "" if userID is not
// a participant.
func (s Session) OtherParticipant(userID string) string {
	switch userID {
	case s.PatientID:
		return s.PhysicianID
	case s.PhysicianID:
		return s.PatientID
	default:
		return ""
	}
}
