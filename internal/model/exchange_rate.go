package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExchangeRateConfig is the USD to EUR multiplier for one payer account and
// billing period. At most one exists per pair.
type ExchangeRateConfig struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	PayerAccountID string          `json:"payerAccountId" db:"payer_account_id"`
	BillingPeriod  BillingPeriod   `json:"billingPeriod" db:"billing_period"`
	ExchangeRate   decimal.Decimal `json:"exchangeRate" db:"exchange_rate"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
}

// Validate checks the payer account, period and rate.
func (c *ExchangeRateConfig) Validate() error {
	verr := &ValidationError{}
	if !IsAccountID(c.PayerAccountID) {
		verr.Add("payerAccountId", "must be exactly 12 digits")
	}
	if !c.BillingPeriod.Valid() {
		verr.Add("billingPeriod", "must be YYYY-MM")
	}
	if !c.ExchangeRate.IsPositive() {
		verr.Add("exchangeRate", "must be greater than zero")
	}
	return verr.OrNil()
}

// Matches reports whether tx belongs to the configuration's payer account
// and billing period.
func (c *ExchangeRateConfig) Matches(tx Transaction) bool {
	return tx.PayerAccountID == c.PayerAccountID && tx.BillingPeriod == c.BillingPeriod
}

// ApplyResult is returned after an exchange rate has been applied.
type ApplyResult struct {
	Config              ExchangeRateConfig `json:"config"`
	TransactionsUpdated int                `json:"transactionsUpdated"`
}
