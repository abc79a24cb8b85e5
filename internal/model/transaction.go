package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType tags what a transaction record represents.
type TransactionType string

const (
	// TransactionDataExport is a cost record produced by ingestion.
	TransactionDataExport TransactionType = "DATAEXPORT"
	// TransactionManual is a manually entered credit.
	TransactionManual TransactionType = "MANUAL"
	// TransactionDeposit is a recorded customer deposit.
	TransactionDeposit TransactionType = "DEPOSIT"
)

// DataType records the origin of a transaction.
type DataType string

const (
	DataTypeExport DataType = "Export"
	DataTypeManual DataType = "Manual"
)

// CostBreakdown splits a cost into its AWS record categories.
type CostBreakdown struct {
	Usage      decimal.Decimal `json:"usage"`
	Fee        decimal.Decimal `json:"fee"`
	Discount   decimal.Decimal `json:"discount"`
	Credits    decimal.Decimal `json:"credits"`
	Adjustment decimal.Decimal `json:"adjustment"`
	Tax        decimal.Decimal `json:"tax"`
}

// Add returns the category-wise sum of b and o.
func (b CostBreakdown) Add(o CostBreakdown) CostBreakdown {
	return CostBreakdown{
		Usage:      b.Usage.Add(o.Usage),
		Fee:        b.Fee.Add(o.Fee),
		Discount:   b.Discount.Add(o.Discount),
		Credits:    b.Credits.Add(o.Credits),
		Adjustment: b.Adjustment.Add(o.Adjustment),
		Tax:        b.Tax.Add(o.Tax),
	}
}

// Gross is the sum of every category. Discounts and credits are negative
// in AWS data, so they reduce the gross.
func (b CostBreakdown) Gross() decimal.Decimal {
	return decimal.Sum(b.Usage, b.Fee, b.Discount, b.Credits, b.Adjustment, b.Tax)
}

// Categories returns the breakdown as ordered name/amount pairs.
func (b CostBreakdown) Categories() []CategoryAmount {
	return []CategoryAmount{
		{Category: "usage", Amount: b.Usage},
		{Category: "fee", Amount: b.Fee},
		{Category: "discount", Amount: b.Discount},
		{Category: "credits", Amount: b.Credits},
		{Category: "adjustment", Amount: b.Adjustment},
		{Category: "tax", Amount: b.Tax},
	}
}

// CategoryAmount is one named cost category.
type CategoryAmount struct {
	Category string
	Amount   decimal.Decimal
}

// EntityBreakdown is seller cost in USD per AWS legal entity.
type EntityBreakdown struct {
	AWS         decimal.Decimal `json:"aws"`
	Marketplace decimal.Decimal `json:"marketplace"`
}

// IsZero reports whether both entity totals are zero.
func (e EntityBreakdown) IsZero() bool {
	return e.AWS.IsZero() && e.Marketplace.IsZero()
}

// Transaction is a cost record or a deposit. TransactionType decides which.
type Transaction struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	BillingPeriod   BillingPeriod    `json:"billingPeriod" db:"billing_period"`
	PayerAccountID  string           `json:"payerAccountId,omitempty" db:"payer_account_id"`
	UsageAccountID  string           `json:"usageAccountId,omitempty" db:"usage_account_id"`
	CostCenterID    *uuid.UUID       `json:"costCenterId,omitempty" db:"cost_center_id"`
	TransactionType TransactionType  `json:"transactionType" db:"transaction_type"`
	DataType        DataType         `json:"dataType" db:"data_type"`
	DistributorCost CostPair         `json:"distributorCost" db:"distributor_cost"`
	SellerCost      CostPair         `json:"sellerCost" db:"seller_cost"`
	CustomerCost    CostPair         `json:"customerCost" db:"customer_cost"`
	CostBreakdown   CostBreakdown    `json:"costBreakdown" db:"cost_breakdown"`
	ExchangeRate    decimal.Decimal  `json:"exchangeRate" db:"exchange_rate"`
	EntityBreakdown *EntityBreakdown `json:"entityBreakdown,omitempty" db:"entity_breakdown"`

	// Deposit fields. Value is in EUR.
	Value       decimal.Decimal `json:"value" db:"value"`
	Description string          `json:"description,omitempty" db:"description"`
	PONumber    string          `json:"poNumber,omitempty" db:"po_number"`
	CreatedBy   string          `json:"createdBy,omitempty" db:"created_by"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// GroupByPeriod buckets txs by billing period, keeping their order within
// each bucket. This is the legacy grouped wire shape of transaction lists.
func GroupByPeriod(txs []Transaction) map[BillingPeriod][]Transaction {
	out := make(map[BillingPeriod][]Transaction)
	for _, tx := range txs {
		out[tx.BillingPeriod] = append(out[tx.BillingPeriod], tx)
	}
	return out
}

// Deposit is an immutable customer payment credited to a cost center or a
// single usage account.
type Deposit struct {
	ID             uuid.UUID       `json:"id"`
	CostCenterID   *uuid.UUID      `json:"costCenterId,omitempty"`
	UsageAccountID string          `json:"usageAccountId,omitempty"`
	AmountEUR      decimal.Decimal `json:"amountEur"`
	Description    string          `json:"description"`
	PONumber       string          `json:"poNumber,omitempty"`
	CreatedBy      string          `json:"createdBy,omitempty"`
	BillingPeriod  BillingPeriod   `json:"billingPeriod"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Validate checks that exactly one target is set, the amount is positive and
// a description is present.
func (d *Deposit) Validate() error {
	verr := &ValidationError{}
	hasCC := d.CostCenterID != nil && *d.CostCenterID != uuid.Nil
	hasUA := d.UsageAccountID != ""
	switch {
	case hasCC && hasUA:
		verr.Add("costCenterId", "set either costCenterId or usageAccountId, not both")
	case !hasCC && !hasUA:
		verr.Add("costCenterId", "costCenterId or usageAccountId is required")
	case hasUA && !IsAccountID(d.UsageAccountID):
		verr.Add("usageAccountId", "must be exactly 12 digits")
	}
	if !d.AmountEUR.IsPositive() {
		verr.Add("amountEur", "must be greater than zero")
	}
	if d.Description == "" {
		verr.Add("description", "is required")
	}
	return verr.OrNil()
}

// ToTransaction converts the deposit into its persisted transaction form.
func (d *Deposit) ToTransaction() Transaction {
	return Transaction{
		ID:              d.ID,
		BillingPeriod:   d.BillingPeriod,
		UsageAccountID:  d.UsageAccountID,
		CostCenterID:    d.CostCenterID,
		TransactionType: TransactionDeposit,
		DataType:        DataTypeManual,
		Value:           d.AmountEUR,
		Description:     d.Description,
		PONumber:        d.PONumber,
		CreatedBy:       d.CreatedBy,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.CreatedAt,
	}
}

// DepositFromTransaction is the inverse of Deposit.ToTransaction.
func DepositFromTransaction(tx Transaction) Deposit {
	return Deposit{
		ID:             tx.ID,
		CostCenterID:   tx.CostCenterID,
		UsageAccountID: tx.UsageAccountID,
		AmountEUR:      tx.Value,
		Description:    tx.Description,
		PONumber:       tx.PONumber,
		CreatedBy:      tx.CreatedBy,
		BillingPeriod:  tx.BillingPeriod,
		CreatedAt:      tx.CreatedAt,
	}
}
