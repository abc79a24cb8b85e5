package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayerAccountStatus is the lifecycle state of a payer account.
type PayerAccountStatus string

const (
	PayerAccountRegistered PayerAccountStatus = "Registered"
	PayerAccountArchived   PayerAccountStatus = "Archived"
)

// UsageAccountStatus is the lifecycle state of a usage account.
type UsageAccountStatus string

const (
	UsageAccountUnregistered UsageAccountStatus = "Unregistered"
	UsageAccountRegistered   UsageAccountStatus = "Registered"
	UsageAccountArchived     UsageAccountStatus = "Archived"
)

// PayerAccount is a top-level AWS billing account receiving distributor invoices.
type PayerAccount struct {
	AccountID           string             `json:"accountId" db:"account_id"`
	AccountName         string             `json:"accountName" db:"account_name"`
	DistributorName     string             `json:"distributorName" db:"distributor_name"`
	LegalEntityName     string             `json:"legalEntityName" db:"legal_entity_name"`
	VATNumber           string             `json:"vatNumber" db:"vat_number"`
	CrossAccountRoleARN string             `json:"crossAccountRoleArn" db:"cross_account_role_arn"`
	Status              PayerAccountStatus `json:"status" db:"status"`
	CreatedAt           time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time          `json:"updatedAt" db:"updated_at"`
}

// Validate checks the payer account fields.
func (a *PayerAccount) Validate() error {
	verr := &ValidationError{}
	if !IsAccountID(a.AccountID) {
		verr.Add("accountId", "must be exactly 12 digits")
	}
	if a.AccountName == "" {
		verr.Add("accountName", "is required")
	}
	switch a.Status {
	case PayerAccountRegistered, PayerAccountArchived:
	default:
		verr.Add("status", "must be Registered or Archived")
	}
	return verr.OrNil()
}

// RebateFlags selects which cost categories are passed through to one side
// of a transaction. Usage toggles whether that side's discount applies to
// usage; the other flags include the category in that side's cost.
type RebateFlags struct {
	Usage      bool `json:"usage"`
	Fee        bool `json:"fee"`
	Discount   bool `json:"discount"`
	Credit     bool `json:"credit"`
	Adjustment bool `json:"adjustment"`
}

// RebateConfig holds the seller and customer pass-through flags.
type RebateConfig struct {
	Seller   RebateFlags `json:"seller"`
	Customer RebateFlags `json:"customer"`
}

// DefaultRebateConfig passes every category through to both sides.
func DefaultRebateConfig() RebateConfig {
	all := RebateFlags{Usage: true, Fee: true, Discount: true, Credit: true, Adjustment: true}
	return RebateConfig{Seller: all, Customer: all}
}

// UsageAccount is an AWS sub-account billed through a payer account.
type UsageAccount struct {
	AccountID        string             `json:"accountId" db:"account_id"`
	Customer         string             `json:"customer" db:"customer"`
	Status           UsageAccountStatus `json:"status" db:"status"`
	PayerAccountID   string             `json:"payerAccountId" db:"payer_account_id"`
	ResellerDiscount decimal.Decimal    `json:"resellerDiscount" db:"reseller_discount"`
	CustomerDiscount decimal.Decimal    `json:"customerDiscount" db:"customer_discount"`
	Rebate           RebateConfig       `json:"rebate" db:"rebate"`
	CreatedAt        time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time          `json:"updatedAt" db:"updated_at"`

	// Derived on read from the account's transactions.
	TotalUsage       decimal.Decimal `json:"totalUsage"`
	TotalDeposit     decimal.Decimal `json:"totalDeposit"`
	FundsUtilization float64         `json:"fundsUtilization"`
}

var hundred = decimal.NewFromInt(100)

// Validate checks the usage account fields. A customer discount larger than
// the reseller discount is rejected, never clamped.
func (a *UsageAccount) Validate() error {
	verr := &ValidationError{}
	if !IsAccountID(a.AccountID) {
		verr.Add("accountId", "must be exactly 12 digits")
	}
	if a.PayerAccountID != "" && !IsAccountID(a.PayerAccountID) {
		verr.Add("payerAccountId", "must be exactly 12 digits")
	}
	switch a.Status {
	case UsageAccountUnregistered, UsageAccountRegistered, UsageAccountArchived:
	default:
		verr.Add("status", "must be Unregistered, Registered or Archived")
	}
	if a.ResellerDiscount.IsNegative() || a.ResellerDiscount.GreaterThan(hundred) {
		verr.Add("resellerDiscount", "must be between 0 and 100")
	}
	if a.CustomerDiscount.IsNegative() || a.CustomerDiscount.GreaterThan(hundred) {
		verr.Add("customerDiscount", "must be between 0 and 100")
	}
	if a.CustomerDiscount.GreaterThan(a.ResellerDiscount) {
		verr.Add("customerDiscount", "must not exceed resellerDiscount")
	}
	return verr.OrNil()
}

// SetFunds fills the derived usage and deposit totals.
func (a *UsageAccount) SetFunds(totalUsage, totalDeposit decimal.Decimal) {
	a.TotalUsage = totalUsage
	a.TotalDeposit = totalDeposit
	a.FundsUtilization = 0
	if !totalDeposit.IsZero() {
		a.FundsUtilization = totalUsage.Div(totalDeposit).Mul(hundred).Round(2).InexactFloat64()
	}
}

// IsAccountID reports whether s is an AWS account id: exactly 12 digits.
func IsAccountID(s string) bool {
	if len(s) != 12 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
