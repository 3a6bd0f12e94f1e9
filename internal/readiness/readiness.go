// Package readiness computes whether a scheduled consultation may be joined
// at a given instant. It is a pure function of the scheduling metadata and a
// caller-supplied clock reading: every observer that evaluates it with the
// same inputs gets the same answer, regardless of local clock skew.
// Authoritative decisions (expiry, billing) must pass a server-side now.
package readiness

import "time"

// State is the readiness decision for a session that is still scheduled.
type State string

const (
	StateNotReady State = "not_ready"
	StateReady    State = "ready"
	StateExpired  State = "expired"
)

// Windows define the joinable interval around the scheduled instant.
// A session opens Pre before scheduled_for and survives Post after it.
type Windows struct {
	Pre  time.Duration
	Post time.Duration
}

// Decide returns the readiness state at now.
// Boundaries are inclusive: now == scheduled-Pre and now == scheduled+Post
// are both ready.
func Decide(scheduledFor time.Time, w Windows, now time.Time) State {
	scheduledFor = scheduledFor.UTC()
	now = now.UTC()

	opens := scheduledFor.Add(-w.Pre)
	closes := scheduledFor.Add(w.Post)

	switch {
	case now.Before(opens):
		return StateNotReady
	case now.After(closes):
		return StateExpired
	default:
		return StateReady
	}
}

// TimeUntilReady returns how long until the join window opens.
// Zero means the window is already open (or has passed); callers should
// consult Decide for the distinction.
func TimeUntilReady(scheduledFor time.Time, w Windows, now time.Time) time.Duration {
	opens := scheduledFor.UTC().Add(-w.Pre)
	d := opens.Sub(now.UTC())
	if d < 0 {
		return 0
	}
	return d
}
