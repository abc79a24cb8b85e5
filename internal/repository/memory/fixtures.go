package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finopsmind/billing/internal/billing"
	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/repository"
)

// Fixtures is the initial content of a memory DB.
type Fixtures struct {
	PayerAccounts []model.PayerAccount
	UsageAccounts []model.UsageAccount
	Customers     []model.Customer
	Transactions  []model.Transaction
	ExchangeRates []model.ExchangeRateConfig
}

// DemoFixtures builds a small but complete data set: two payer accounts,
// four usage accounts, two customers and six months of priced costs ending
// at end, with deposits and exchange rates.
func DemoFixtures(end model.BillingPeriod) Fixtures {
	now := time.Now().UTC()
	rate := decimal.RequireFromString("0.92")

	payers := []model.PayerAccount{
		{AccountID: "123456789012", AccountName: "EU Reseller", DistributorName: "Distri GmbH",
			LegalEntityName: "Reseller Europe SRL", VATNumber: "IT01234567890", Status: model.PayerAccountRegistered},
		{AccountID: "210987654321", AccountName: "Marketplace Payer", DistributorName: "Distri GmbH",
			LegalEntityName: "Reseller Europe SRL", VATNumber: "IT01234567890", Status: model.PayerAccountRegistered},
	}
	for i := range payers {
		payers[i].CreatedAt, payers[i].UpdatedAt = now, now
	}

	rebate := model.DefaultRebateConfig()
	usage := []model.UsageAccount{
		{AccountID: "111111111111", Customer: "Acme GmbH", PayerAccountID: "123456789012",
			ResellerDiscount: decimal.NewFromInt(8), CustomerDiscount: decimal.NewFromInt(3)},
		{AccountID: "222222222222", Customer: "Acme GmbH", PayerAccountID: "123456789012",
			ResellerDiscount: decimal.NewFromInt(8), CustomerDiscount: decimal.NewFromInt(5)},
		{AccountID: "333333333333", Customer: "Globex SpA", PayerAccountID: "210987654321",
			ResellerDiscount: decimal.NewFromInt(10), CustomerDiscount: decimal.NewFromInt(2)},
		{AccountID: "444444444444", Customer: "Globex SpA", PayerAccountID: "210987654321",
			ResellerDiscount: decimal.NewFromInt(6), CustomerDiscount: decimal.Zero},
	}
	for i := range usage {
		usage[i].Status = model.UsageAccountRegistered
		usage[i].Rebate = rebate
		usage[i].CreatedAt, usage[i].UpdatedAt = now, now
	}

	acmeProd, acmeDev, globex := uuid.New(), uuid.New(), uuid.New()
	customers := []model.Customer{
		{LegalName: "Acme GmbH", VATNumber: "DE811111111", ContactName: "Jo Weber",
			ContactEmail: "billing@acme.example", Status: model.CustomerActive,
			CostCenters: []model.CostCenter{
				{ID: acmeProd, CustomerVAT: "DE811111111", Name: "Production", UsageAccountIDs: []string{"111111111111"}},
				{ID: acmeDev, CustomerVAT: "DE811111111", Name: "Development", Position: 1, UsageAccountIDs: []string{"222222222222"}},
			}},
		{LegalName: "Globex SpA", VATNumber: "IT09876543210", ContactName: "Sam Rossi",
			ContactEmail: "finance@globex.example", Status: model.CustomerActive,
			CostCenters: []model.CostCenter{
				{ID: globex, CustomerVAT: "IT09876543210", Name: "Shared Platform",
					UsageAccountIDs: []string{"333333333333", "444444444444"}},
			}},
	}
	for i := range customers {
		customers[i].CreatedAt, customers[i].UpdatedAt = now, now
	}

	var txs []model.Transaction
	var rates []model.ExchangeRateConfig
	for i, period := range model.PeriodWindow(end, 6) {
		growth := decimal.NewFromInt(int64(100 + 7*i)).Div(decimal.NewFromInt(100))
		for j, acct := range usage {
			base := decimal.NewFromInt(int64(1200 + 850*j)).Mul(growth).Round(2)
			usd := model.CostBreakdown{
				Usage:      base,
				Fee:        decimal.NewFromInt(29),
				Discount:   base.Mul(decimal.RequireFromString("-0.03")).Round(2),
				Credits:    decimal.Zero,
				Adjustment: decimal.Zero,
				Tax:        base.Mul(decimal.RequireFromString("0.01")).Round(2),
			}
			if j == 2 && i == 3 {
				usd.Credits = decimal.NewFromInt(-250)
			}
			tx := billing.PriceLineItem(acct, period, usd, rate)
			tx.CreatedAt, tx.UpdatedAt = period.Start(), period.Start()
			if acct.PayerAccountID == "210987654321" {
				billing.AttachEntities(&tx, model.EntityBreakdown{AWS: base.Mul(decimal.RequireFromString("0.6")), Marketplace: base.Mul(decimal.RequireFromString("0.4"))})
			}
			txs = append(txs, tx)
		}
		for _, payer := range payers {
			rates = append(rates, model.ExchangeRateConfig{
				ID: uuid.New(), PayerAccountID: payer.AccountID, BillingPeriod: period,
				ExchangeRate: rate, CreatedAt: now, UpdatedAt: now,
			})
		}
	}

	window := model.PeriodWindow(end, 6)
	deposits := []model.Deposit{
		{CostCenterID: &acmeProd, AmountEUR: decimal.NewFromInt(12000), Description: "Annual prepayment", PONumber: "PO-2024-118", BillingPeriod: window[0]},
		{CostCenterID: &acmeDev, AmountEUR: decimal.NewFromInt(9000), Description: "Dev budget H1", BillingPeriod: window[0]},
		{CostCenterID: &globex, AmountEUR: decimal.NewFromInt(20000), Description: "Framework agreement", PONumber: "GX-77", BillingPeriod: window[1]},
		{UsageAccountID: "444444444444", AmountEUR: decimal.NewFromInt(2500), Description: "Top-up", BillingPeriod: window[4]},
	}
	for _, d := range deposits {
		d.ID = uuid.New()
		d.CreatedBy = "demo@billing.local"
		d.CreatedAt = d.BillingPeriod.Start()
		txs = append(txs, d.ToTransaction())
	}

	return Fixtures{
		PayerAccounts: payers,
		UsageAccounts: usage,
		Customers:     customers,
		Transactions:  txs,
		ExchangeRates: rates,
	}
}

// Seed writes f into store unless it already holds payer accounts. It
// reports whether anything was written.
func Seed(ctx context.Context, store *repository.Store, f Fixtures) (bool, error) {
	existing, err := store.PayerAccounts.List(ctx)
	if err != nil {
		return false, fmt.Errorf("checking existing data: %w", err)
	}
	if len(existing) > 0 {
		return false, nil
	}

	for i := range f.PayerAccounts {
		if err := store.PayerAccounts.Create(ctx, &f.PayerAccounts[i]); err != nil {
			return false, fmt.Errorf("seeding payer account %s: %w", f.PayerAccounts[i].AccountID, err)
		}
	}
	for i := range f.UsageAccounts {
		if err := store.UsageAccounts.Create(ctx, &f.UsageAccounts[i]); err != nil {
			return false, fmt.Errorf("seeding usage account %s: %w", f.UsageAccounts[i].AccountID, err)
		}
	}
	for i := range f.Customers {
		c := cloneCustomer(f.Customers[i])
		if err := store.Customers.Create(ctx, &c); err != nil {
			return false, fmt.Errorf("seeding customer %s: %w", c.VATNumber, err)
		}
	}
	for i := range f.ExchangeRates {
		if err := store.ExchangeRates.Create(ctx, &f.ExchangeRates[i]); err != nil {
			return false, fmt.Errorf("seeding exchange rate: %w", err)
		}
	}
	if err := store.Transactions.CreateBatch(ctx, f.Transactions); err != nil {
		return false, fmt.Errorf("seeding transactions: %w", err)
	}
	return true, nil
}
