package presence

import "time"

// Status is a participant's presence state within a session.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Event records a single presence transition. The tracker guarantees exactly
// one event per transition: repeated heartbeats while online are silent, and a
// grace-period expiry produces one offline event.
type Event struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Status    Status    `json:"status"`
	At        time.Time `json:"at"`
}

// Record is a user's liveness view across every session they participate in.
// Ephemeral: recomputed from heartbeats, never persisted across restarts.
type Record struct {
	Status     Status    `json:"status"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Sink receives presence transition events. The event multiplexer
// implements this.
type Sink interface {
	PresenceChanged(e Event)
}
