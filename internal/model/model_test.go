package model

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestParseBillingPeriod(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"2025-01", false},
		{"2025-12", false},
		{"2025-13", true},
		{"2025-1", true},
		{"25-01", true},
		{"", true},
		{"2025/01", true},
	}
	for _, tt := range tests {
		_, err := ParseBillingPeriod(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBillingPeriod(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestBillingPeriodNavigation(t *testing.T) {
	p := BillingPeriod("2024-12")
	if got := p.Next(); got != "2025-01" {
		t.Fatalf("Next() = %s, want 2025-01", got)
	}
	if got := BillingPeriod("2025-01").Prev(); got != "2024-12" {
		t.Fatalf("Prev() = %s, want 2024-12", got)
	}
}

func TestPeriodWindow(t *testing.T) {
	got := PeriodWindow("2025-02", 3)
	want := []BillingPeriod{"2024-12", "2025-01", "2025-02"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("window[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if PeriodWindow("bad", 3) != nil {
		t.Errorf("expected nil window for invalid end period")
	}
	if PeriodWindow("2025-02", 0) != nil {
		t.Errorf("expected nil window for n=0")
	}
}

func TestUsageAccountValidate(t *testing.T) {
	base := func() UsageAccount {
		return UsageAccount{
			AccountID:        "123456789012",
			PayerAccountID:   "210987654321",
			Status:           UsageAccountRegistered,
			ResellerDiscount: decimal.NewFromInt(10),
			CustomerDiscount: decimal.NewFromInt(5),
		}
	}

	tests := []struct {
		name      string
		mutate    func(*UsageAccount)
		wantField string
	}{
		{"valid", func(*UsageAccount) {}, ""},
		{"short id", func(a *UsageAccount) { a.AccountID = "12345" }, "accountId"},
		{"non digit id", func(a *UsageAccount) { a.AccountID = "12345678901a" }, "accountId"},
		{"customer above reseller", func(a *UsageAccount) { a.CustomerDiscount = decimal.NewFromInt(11) }, "customerDiscount"},
		{"equal discounts", func(a *UsageAccount) { a.CustomerDiscount = decimal.NewFromInt(10) }, ""},
		{"reseller above 100", func(a *UsageAccount) { a.ResellerDiscount = decimal.NewFromInt(101) }, "resellerDiscount"},
		{"bad status", func(a *UsageAccount) { a.Status = "Deleted" }, "status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := base()
			tt.mutate(&a)
			err := a.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := verr.Fields[tt.wantField]; !ok {
				t.Fatalf("expected problem on %s, got %v", tt.wantField, verr.Fields)
			}
		})
	}
}

func TestUsageAccountSetFunds(t *testing.T) {
	var a UsageAccount
	a.SetFunds(decimal.NewFromInt(50), decimal.Zero)
	if a.FundsUtilization != 0 {
		t.Fatalf("utilization with no deposit = %v, want 0", a.FundsUtilization)
	}
	a.SetFunds(decimal.NewFromInt(50), decimal.NewFromInt(200))
	if a.FundsUtilization != 25 {
		t.Fatalf("utilization = %v, want 25", a.FundsUtilization)
	}
}

func TestDepositValidate(t *testing.T) {
	cc := uuid.New()
	tests := []struct {
		name    string
		deposit Deposit
		wantErr bool
	}{
		{"cost center", Deposit{CostCenterID: &cc, AmountEUR: decimal.NewFromInt(100), Description: "Q1"}, false},
		{"usage account", Deposit{UsageAccountID: "123456789012", AmountEUR: decimal.NewFromInt(1), Description: "x"}, false},
		{"both targets", Deposit{CostCenterID: &cc, UsageAccountID: "123456789012", AmountEUR: decimal.NewFromInt(1), Description: "x"}, true},
		{"no target", Deposit{AmountEUR: decimal.NewFromInt(1), Description: "x"}, true},
		{"zero amount", Deposit{CostCenterID: &cc, Description: "x"}, true},
		{"negative amount", Deposit{CostCenterID: &cc, AmountEUR: decimal.NewFromInt(-5), Description: "x"}, true},
		{"missing description", Deposit{CostCenterID: &cc, AmountEUR: decimal.NewFromInt(1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.deposit.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDepositRoundTripsThroughTransaction(t *testing.T) {
	cc := uuid.New()
	d := Deposit{
		ID:            uuid.New(),
		CostCenterID:  &cc,
		AmountEUR:     decimal.NewFromInt(500),
		Description:   "prepayment",
		PONumber:      "PO-1",
		CreatedBy:     "ops@example.com",
		BillingPeriod: "2025-03",
	}
	tx := d.ToTransaction()
	if tx.TransactionType != TransactionDeposit || tx.DataType != DataTypeManual {
		t.Fatalf("unexpected type %s/%s", tx.TransactionType, tx.DataType)
	}
	back := DepositFromTransaction(tx)
	if !back.AmountEUR.Equal(d.AmountEUR) || back.Description != d.Description || *back.CostCenterID != cc {
		t.Fatalf("deposit changed through transaction: %+v", back)
	}
}

func TestValidationErrorMessageIsSorted(t *testing.T) {
	verr := &ValidationError{}
	verr.Add("b", "second")
	verr.Add("a", "first")
	want := "validation failed: a: first; b: second"
	if verr.Error() != want {
		t.Fatalf("Error() = %q, want %q", verr.Error(), want)
	}
	if (&ValidationError{}).OrNil() != nil {
		t.Fatalf("empty ValidationError should be nil")
	}
}
