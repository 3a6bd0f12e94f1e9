package reporting

import (
	"context"
	"errors"
	"strings"
	"time"

	"telehealth-platform/internal/consult"
	"telehealth-platform/internal/wallet"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce per-user filtering.
// - Implementations should query immutable sources when possible (wallet ledger, session history).

type Repository interface {
	ListSessions(ctx context.Context, userID string, from, to time.Time) ([]consult.Session, error)
	ListWalletLedger(ctx context.Context, ownerID string, from, to time.Time, walletID string) ([]wallet.WalletLedger, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) ConsultationSummary(ctx context.Context, req ConsultationSummaryRequest) (ConsultationSummary, error) {
	if req.UserID == "" {
		return ConsultationSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return ConsultationSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return ConsultationSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListSessions(ctx, req.UserID, req.Range.From, req.Range.To)
	if err != nil {
		return ConsultationSummary{}, err
	}

	out := ConsultationSummary{UserID: req.UserID}
	for _, sess := range rows {
		out.TotalSessions++
		if sess.DurationMinutes != nil {
			out.TotalDurationMinutes += *sess.DurationMinutes
		}
		if sess.PaymentStatus == consult.PaymentStatusFailed {
			out.FailedSettlements++
		}
		switch sess.Status {
		case consult.StatusCompleted:
			out.CompletedSessions++
		case consult.StatusCancelled:
			out.CancelledSessions++
		case consult.StatusExpired:
			out.ExpiredSessions++
		case consult.StatusInProgress:
			out.InProgressSessions++
		case consult.StatusScheduled:
			out.ScheduledSessions++
		}
	}
	if out.CompletedSessions > 0 {
		out.AverageDurationMinutes = out.TotalDurationMinutes / out.CompletedSessions
	}
	return out, nil
}

func (s *Service) SpendSummary(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if req.OwnerID == "" {
		return SpendSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return SpendSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SpendSummary{}, errors.New("reporting: repository not configured")
	}

	ledgers, err := s.repo.ListWalletLedger(ctx, req.OwnerID, req.Range.From, req.Range.To, req.WalletID)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{OwnerID: req.OwnerID, WalletID: req.WalletID, Currency: req.Currency}
	for _, l := range ledgers {
		// currency normalization: if request specified currency, filter; else populate from first row.
		if out.Currency == "" {
			out.Currency = l.Currency
		}
		if req.Currency != "" && l.Currency != req.Currency {
			continue
		}

		if l.AmountMinor > 0 {
			out.TotalCreditMinor += l.AmountMinor
		} else {
			out.TotalDebitMinor += -l.AmountMinor
		}

		switch {
		case l.ExternalRef == "admin_manual_credit":
			out.AdminAdjustMinor += l.AmountMinor
		case strings.HasPrefix(l.IdempotencyKey, "settlement:"):
			out.ConsultationDebitMinor += -l.AmountMinor
		}
	}
	out.NetDeltaMinor = out.TotalCreditMinor - out.TotalDebitMinor
	if out.Currency == "" {
		out.Currency = "UNKNOWN"
	}
	return out, nil
}
