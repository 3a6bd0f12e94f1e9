package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"telehealth-platform/internal/consult"
	"telehealth-platform/internal/wallet"
)

// MemoryRepo is a simple in-memory reporting repository for tests and early development.
// It enforces per-user isolation on reads.

type MemoryRepo struct {
	mu sync.Mutex

	Sessions []consult.Session
	Ledgers  []wallet.WalletLedger
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListSessions(ctx context.Context, userID string, from, to time.Time) ([]consult.Session, error) {
	if userID == "" {
		return nil, errors.New("user_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]consult.Session, 0)
	for _, s := range r.Sessions {
		if !s.IsParticipant(userID) {
			continue
		}
		if !s.ScheduledFor.IsZero() {
			if s.ScheduledFor.Before(from) || !s.ScheduledFor.Before(to) {
				continue
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *MemoryRepo) ListWalletLedger(ctx context.Context, ownerID string, from, to time.Time, walletID string) ([]wallet.WalletLedger, error) {
	if ownerID == "" {
		return nil, errors.New("owner_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wallet.WalletLedger, 0)
	for _, l := range r.Ledgers {
		if l.OwnerID != ownerID {
			continue
		}
		if !l.CreatedAt.IsZero() {
			if l.CreatedAt.Before(from) || !l.CreatedAt.Before(to) {
				continue
			}
		}
		if walletID != "" && l.WalletID != walletID {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}
