package reporting

import (
	"context"
	"testing"
	"time"

	"telehealth-platform/internal/consult"
	"telehealth-platform/internal/wallet"
)

func intPtr(n int) *int { return &n }

func TestReporting_UserIsolation(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Sessions = []consult.Session{
		{ID: "s1", PatientID: "p1", PhysicianID: "d1", Status: consult.StatusCompleted, ScheduledFor: now, DurationMinutes: intPtr(20)},
		{ID: "s2", PatientID: "p2", PhysicianID: "d2", Status: consult.StatusCompleted, ScheduledFor: now, DurationMinutes: intPtr(45)},
	}
	svc := NewService(repo)

	out, err := svc.ConsultationSummary(context.Background(), ConsultationSummaryRequest{UserID: "p1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalSessions != 1 {
		t.Fatalf("expected 1 session, got %d", out.TotalSessions)
	}
	if out.TotalDurationMinutes != 20 {
		t.Fatalf("expected 20 minutes, got %d", out.TotalDurationMinutes)
	}
}

func TestReporting_ConsultationSummaryCounts(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Sessions = []consult.Session{
		{ID: "s1", PatientID: "p1", PhysicianID: "d1", Status: consult.StatusCompleted, ScheduledFor: now, DurationMinutes: intPtr(30), PaymentStatus: consult.PaymentStatusPaid},
		{ID: "s2", PatientID: "p1", PhysicianID: "d1", Status: consult.StatusCompleted, ScheduledFor: now, DurationMinutes: intPtr(10), PaymentStatus: consult.PaymentStatusFailed},
		{ID: "s3", PatientID: "p1", PhysicianID: "d2", Status: consult.StatusCancelled, ScheduledFor: now},
		{ID: "s4", PatientID: "p1", PhysicianID: "d2", Status: consult.StatusExpired, ScheduledFor: now},
		{ID: "s5", PatientID: "p1", PhysicianID: "d1", Status: consult.StatusScheduled, ScheduledFor: now},
	}
	svc := NewService(repo)

	out, err := svc.ConsultationSummary(context.Background(), ConsultationSummaryRequest{UserID: "p1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalSessions != 5 || out.CompletedSessions != 2 || out.CancelledSessions != 1 || out.ExpiredSessions != 1 || out.ScheduledSessions != 1 {
		t.Fatalf("unexpected counts: %+v", out)
	}
	if out.AverageDurationMinutes != 20 {
		t.Fatalf("expected average 20, got %d", out.AverageDurationMinutes)
	}
	if out.FailedSettlements != 1 {
		t.Fatalf("expected 1 failed settlement, got %d", out.FailedSettlements)
	}
}

func TestReporting_SpendSummaryAggregates(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Ledgers = []wallet.WalletLedger{
		{ID: "l1", OwnerID: "p1", WalletID: "wa", Currency: "USD", AmountMinor: 10000, IdempotencyKey: "topup:1", CreatedAt: now},
		{ID: "l2", OwnerID: "p1", WalletID: "wa", Currency: "USD", AmountMinor: -5000, IdempotencyKey: "settlement:s1", ExternalRef: "s1", CreatedAt: now},
		{ID: "l3", OwnerID: "p1", WalletID: "wa", Currency: "USD", AmountMinor: -2500, IdempotencyKey: "settlement:s2", ExternalRef: "s2", CreatedAt: now},
		{ID: "l4", OwnerID: "p1", WalletID: "wa", Currency: "USD", AmountMinor: 250, IdempotencyKey: "k4", ExternalRef: "admin_manual_credit", CreatedAt: now},
	}
	svc := NewService(repo)

	out, err := svc.SpendSummary(context.Background(), SpendSummaryRequest{OwnerID: "p1", WalletID: "wa", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}, Currency: "USD"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalDebitMinor != 7500 {
		t.Fatalf("expected total debit 7500, got %d", out.TotalDebitMinor)
	}
	if out.TotalCreditMinor != 10250 {
		t.Fatalf("expected total credit 10250, got %d", out.TotalCreditMinor)
	}
	if out.NetDeltaMinor != 2750 {
		t.Fatalf("expected net 2750, got %d", out.NetDeltaMinor)
	}
	if out.ConsultationDebitMinor != 7500 {
		t.Fatalf("expected consultation debit 7500, got %d", out.ConsultationDebitMinor)
	}
	if out.AdminAdjustMinor != 250 {
		t.Fatalf("expected admin adjust 250, got %d", out.AdminAdjustMinor)
	}
}

func TestReporting_RejectsInvalidRange(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	now := time.Unix(1700000000, 0).UTC()

	_, err := svc.ConsultationSummary(context.Background(), ConsultationSummaryRequest{UserID: "p1", Range: TimeRange{From: now, To: now}})
	if err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	_, err = svc.SpendSummary(context.Background(), SpendSummaryRequest{OwnerID: "", Range: TimeRange{From: now.Add(-time.Hour), To: now}})
	if err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
