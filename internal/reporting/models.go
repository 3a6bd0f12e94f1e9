package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ConsultationSummaryRequest requests aggregated session metrics for one
// user (patient or physician). UserID is required.

type ConsultationSummaryRequest struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`
}

type ConsultationSummary struct {
	UserID string `json:"user_id"`

	TotalSessions      int `json:"total_sessions"`
	CompletedSessions  int `json:"completed_sessions"`
	CancelledSessions  int `json:"cancelled_sessions"`
	ExpiredSessions    int `json:"expired_sessions"`
	InProgressSessions int `json:"in_progress_sessions"`
	ScheduledSessions  int `json:"scheduled_sessions"`

	TotalDurationMinutes   int `json:"total_duration_minutes"`
	AverageDurationMinutes int `json:"average_duration_minutes"`

	FailedSettlements int `json:"failed_settlements"`
}

// SpendSummaryRequest requests aggregated spend metrics.
// Spend is derived from immutable wallet ledger entries scoped to the owner.

type SpendSummaryRequest struct {
	OwnerID  string    `json:"owner_id"`
	Range    TimeRange `json:"range"`
	WalletID string    `json:"wallet_id,omitempty"`
	Currency string    `json:"currency,omitempty"`
}

type SpendSummary struct {
	OwnerID  string `json:"owner_id"`
	WalletID string `json:"wallet_id,omitempty"`
	Currency string `json:"currency"`

	TotalDebitMinor  int64 `json:"total_debit_minor"`
	TotalCreditMinor int64 `json:"total_credit_minor"`
	NetDeltaMinor    int64 `json:"net_delta_minor"`

	ConsultationDebitMinor int64 `json:"consultation_debit_minor"`
	AdminAdjustMinor       int64 `json:"admin_adjust_minor"`
}
