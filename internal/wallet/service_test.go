package wallet

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

// These are true unit tests for wallet.Service input validation behavior.
//
// The money operations (Credit/Debit/AdminManualCredit) are implemented with
// Postgres-specific SQL (notably SELECT ... FOR UPDATE). That means end-to-end
// behavior tests (balance changes, insufficient funds, ledger/admin action inserts)
// are best covered via integration tests against Postgres.
//
// What we *can* safely unit-test without a DB:
// - request validation (
//   owner_id / wallet_id presence,
//   currency presence,
//   idempotency key presence,
//   amount > 0,
//   adminUserID/adminRole/reason presence for admin credit
// )

func TestValidateMoneyReq(t *testing.T) {
	cases := []struct {
		name    string
		owner   string
		wallet  string
		amount  int64
		curr    string
		key     string
		wantErr bool
	}{
		{"valid", "u1", "w1", 100, "USD", "k1", false},
		{"negative amount passes shape check", "u1", "w1", -100, "USD", "k1", false},
		{"missing owner", "", "w1", 100, "USD", "k1", true},
		{"missing wallet", "u1", "", 100, "USD", "k1", true},
		{"zero amount", "u1", "w1", 0, "USD", "k1", true},
		{"missing currency", "u1", "w1", 100, "", "k1", true},
		{"missing key", "u1", "w1", 100, "USD", "", true},
	}
	for _, tc := range cases {
		err := validateMoneyReq(tc.owner, tc.wallet, tc.amount, tc.curr, tc.key)
		if tc.wantErr && err != ErrInvalidArgument {
			t.Fatalf("%s: expected ErrInvalidArgument, got %v", tc.name, err)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestWalletService_Credit_RejectsInvalidArgs(t *testing.T) {
	svc := NewService((*sql.DB)(nil))

	_, _, err := svc.Credit(context.Background(), "", "w", CreditRequest{AmountMinor: 100, Currency: "USD", IdempotencyKey: "k"})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	_, _, err = svc.Credit(context.Background(), "u1", "w", CreditRequest{AmountMinor: 0, Currency: "USD", IdempotencyKey: "k"})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	_, _, err = svc.Credit(context.Background(), "u1", "w", CreditRequest{AmountMinor: 100, Currency: "", IdempotencyKey: "k"})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	_, _, err = svc.Credit(context.Background(), "u1", "w", CreditRequest{AmountMinor: 100, Currency: "USD", IdempotencyKey: ""})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestWalletService_Debit_RejectsInvalidArgs(t *testing.T) {
	svc := NewService((*sql.DB)(nil))

	_, _, err := svc.Debit(context.Background(), "", "w", DebitRequest{AmountMinor: 100, Currency: "USD", IdempotencyKey: "k"})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	_, _, err = svc.Debit(context.Background(), "u1", "w", DebitRequest{AmountMinor: -1, Currency: "USD", IdempotencyKey: "k"})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestWalletService_AdminManualCredit_RejectsInvalidArgs(t *testing.T) {
	svc := NewService((*sql.DB)(nil))

	_, _, _, err := svc.AdminManualCredit(context.Background(), "u1", "w", "", "admin", AdminCreditRequest{
		AmountMinor:    100,
		Currency:       "USD",
		Reason:         "refund",
		IdempotencyKey: "k",
	})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument (missing admin user), got %v", err)
	}

	_, _, _, err = svc.AdminManualCredit(context.Background(), "u1", "w", "admin", "", AdminCreditRequest{
		AmountMinor:    100,
		Currency:       "USD",
		Reason:         "refund",
		IdempotencyKey: "k",
	})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument (missing admin role), got %v", err)
	}

	_, _, _, err = svc.AdminManualCredit(context.Background(), "u1", "w", "admin", "admin", AdminCreditRequest{
		AmountMinor:    100,
		Currency:       "USD",
		Reason:         "",
		IdempotencyKey: "k",
	})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument (missing reason), got %v", err)
	}

	_, _, _, err = svc.AdminManualCredit(context.Background(), "u1", "w", "admin", "admin", AdminCreditRequest{
		AmountMinor:    0,
		Currency:       "USD",
		Reason:         "refund",
		IdempotencyKey: "k",
	})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument (amount <=0), got %v", err)
	}
}

func TestWalletService_Ledger_RejectsInvalidArgs(t *testing.T) {
	svc := NewService((*sql.DB)(nil))

	if _, err := svc.Ledger(context.Background(), "", "w", time.Time{}); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.Ledger(context.Background(), "u1", "", time.Time{}); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
