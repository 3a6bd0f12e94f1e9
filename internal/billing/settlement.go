package billing

import (
	"context"
	"errors"
	"fmt"

	"telehealth-platform/internal/consult"
	"telehealth-platform/internal/wallet"
	"telehealth-platform/pkg/logger"
)

// Debiter is the wallet capability settlement depends on: an atomic
// conditional debit (no partial debit, idempotent per key). internal/wallet
// satisfies it.
type Debiter interface {
	WalletFor(ctx context.Context, ownerID string) (wallet.Wallet, error)
	Debit(ctx context.Context, ownerID, walletID string, req wallet.DebitRequest) (wallet.WalletLedger, wallet.Balance, error)
}

var ErrNotCompleted = errors.New("session is not completed")

// Trail receives settlement outcomes for the audit log. Best-effort; a nil
// Trail disables it.
type Trail interface {
	LogSettlement(ctx context.Context, sessionID, outcome string, amountMinor int64, metadata string) error
}

// Settlement charges the agreed consultation rate to the patient's wallet
// exactly once per completed session.
//
// Exactly-once is layered twice: the payment_status conditional write makes
// concurrent Settle calls collapse to one winner, and the ledger idempotency
// key "settlement:<session_id>" makes even a crash-and-retry unable to post a
// second debit.
type Settlement struct {
	store   consult.Store
	debiter Debiter
	sink    consult.EventSink
	trail   Trail
}

func NewSettlement(store consult.Store, debiter Debiter, sink consult.EventSink, trail Trail) *Settlement {
	return &Settlement{store: store, debiter: debiter, sink: sink, trail: trail}
}

// SettlementKey is the ledger idempotency key for a session's charge.
func SettlementKey(sessionID string) string {
	return "settlement:" + sessionID
}

// Settle implements consult.Settler.
//
// Invoked off the winning End transition, and retryable: a second invocation
// observes payment_status != pending and is a no-op. Insufficient funds marks
// the session failed; the completed status is never rolled back because the
// consultation already happened.
func (s *Settlement) Settle(ctx context.Context, sessionID string) (consult.Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return consult.Session{}, err
	}
	if sess.Status != consult.StatusCompleted {
		return consult.Session{}, fmt.Errorf("%w: session %s is %s", ErrNotCompleted, sessionID, sess.Status)
	}
	if sess.PaymentStatus != consult.PaymentStatusPending {
		// Already settled (or prepaid). No-op.
		return sess, nil
	}

	w, err := s.debiter.WalletFor(ctx, sess.PatientID)
	if err != nil {
		return consult.Session{}, fmt.Errorf("resolve wallet for %s: %w", sess.PatientID, err)
	}

	_, bal, err := s.debiter.Debit(ctx, sess.PatientID, w.ID, wallet.DebitRequest{
		AmountMinor:    sess.ConsultationRateMinor,
		Currency:       sess.Currency,
		ExternalRef:    sessionID,
		IdempotencyKey: SettlementKey(sessionID),
	})
	switch {
	case err == nil:
		logger.From(ctx).Info("settlement charged",
			"session_id", sessionID,
			"amount_minor", sess.ConsultationRateMinor,
			"balance_after", bal.BalanceMinor,
		)
		return s.markPayment(ctx, sessionID, consult.PaymentStatusPaid)
	case errors.Is(err, wallet.ErrInsufficientFunds):
		logger.From(ctx).Warn("settlement failed, insufficient funds",
			"session_id", sessionID,
			"amount_minor", sess.ConsultationRateMinor,
		)
		return s.markPayment(ctx, sessionID, consult.PaymentStatusFailed)
	default:
		// Transient failure: leave payment_status pending so a retry can
		// finish the job; the ledger key protects against double charging.
		return consult.Session{}, fmt.Errorf("debit wallet: %w", err)
	}
}

func (s *Settlement) markPayment(ctx context.Context, sessionID string, next consult.PaymentStatus) (consult.Session, error) {
	out, swapped, err := s.store.CompareAndSwapPayment(ctx, sessionID, consult.PaymentStatusPending, next)
	if err != nil {
		return consult.Session{}, err
	}
	if swapped {
		if s.sink != nil {
			s.sink.SessionChanged(out)
		}
		if s.trail != nil {
			if err := s.trail.LogSettlement(ctx, sessionID, string(next), out.ConsultationRateMinor, ""); err != nil {
				logger.From(ctx).Error("settlement audit write failed", "session_id", sessionID, "err", err)
			}
		}
	}
	return out, nil
}
