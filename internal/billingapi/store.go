package billingapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/repository"
)

// ErrReadOnly is returned for writes the REST surface has no endpoint for.
// Every other write is forwarded to the upstream.
var ErrReadOnly = fmt.Errorf("operation not available on the remote backend: %w", errors.ErrUnsupported)

// Store exposes the client through the repository interfaces, so the
// services and the engine run unchanged on top of a remote billing API.
func (c *Client) Store() *repository.Store {
	return &repository.Store{
		PayerAccounts: remotePayers{c},
		UsageAccounts: remoteUsage{c},
		Customers:     remoteCustomers{c},
		Transactions:  remoteTransactions{c},
		ExchangeRates: remoteRates{c},
	}
}

type remotePayers struct{ c *Client }

func (r remotePayers) Create(ctx context.Context, a *model.PayerAccount) error {
	return r.c.CreatePayerAccount(ctx, a)
}
func (r remotePayers) GetByID(ctx context.Context, id string) (*model.PayerAccount, error) {
	return r.c.GetPayerAccount(ctx, id)
}
func (r remotePayers) List(ctx context.Context) ([]model.PayerAccount, error) {
	return r.c.ListPayerAccounts(ctx)
}
func (r remotePayers) Update(ctx context.Context, a *model.PayerAccount) error {
	return r.c.UpdatePayerAccount(ctx, a)
}
func (r remotePayers) Delete(ctx context.Context, id string) error {
	return r.c.DeletePayerAccount(ctx, id)
}

type remoteUsage struct{ c *Client }

func (r remoteUsage) Create(ctx context.Context, a *model.UsageAccount) error {
	return r.c.CreateUsageAccount(ctx, a)
}
func (r remoteUsage) GetByID(ctx context.Context, id string) (*model.UsageAccount, error) {
	return r.c.GetUsageAccount(ctx, id)
}
func (r remoteUsage) List(ctx context.Context, payerAccountID string) ([]model.UsageAccount, error) {
	return r.c.ListUsageAccounts(ctx, payerAccountID)
}
func (r remoteUsage) Update(ctx context.Context, a *model.UsageAccount) error {
	return r.c.UpdateUsageAccount(ctx, a)
}
func (r remoteUsage) Delete(ctx context.Context, id string) error {
	return r.c.DeleteUsageAccount(ctx, id)
}

type remoteCustomers struct{ c *Client }

func (r remoteCustomers) Create(ctx context.Context, cust *model.Customer) error {
	return r.c.CreateCustomer(ctx, cust)
}
func (r remoteCustomers) GetByVAT(ctx context.Context, vat string) (*model.Customer, error) {
	return r.c.GetCustomer(ctx, vat)
}
func (r remoteCustomers) List(ctx context.Context) ([]model.Customer, error) {
	return r.c.ListCustomers(ctx)
}
func (r remoteCustomers) Update(ctx context.Context, cust *model.Customer) error {
	return r.c.UpdateCustomer(ctx, cust)
}
func (r remoteCustomers) CreateCostCenter(ctx context.Context, cc *model.CostCenter) error {
	return r.c.CreateCostCenter(ctx, cc)
}
func (r remoteCustomers) UpdateCostCenter(ctx context.Context, cc *model.CostCenter) error {
	return r.c.UpdateCostCenter(ctx, cc)
}
func (r remoteCustomers) DeleteCostCenter(ctx context.Context, vat string, id uuid.UUID) error {
	return r.c.DeleteCostCenter(ctx, vat, id)
}

// CostCenterOwner scans the customer list; the API has no reverse lookup.
func (r remoteCustomers) CostCenterOwner(ctx context.Context, usageAccountID string) (*model.CostCenter, error) {
	customers, err := r.c.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	for _, cust := range customers {
		for _, cc := range cust.CostCenters {
			for _, id := range cc.UsageAccountIDs {
				if id == usageAccountID {
					cc.CustomerVAT = cust.VATNumber
					return &cc, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("cost center of %s: %w", usageAccountID, repository.ErrNotFound)
}

type remoteTransactions struct{ c *Client }

func (r remoteTransactions) Create(ctx context.Context, tx *model.Transaction) error {
	return r.c.CreateTransaction(ctx, tx)
}

// CreateBatch posts records one by one and stops at the first failure. The
// upstream books only credits this way; cost records come from its own
// ingestion.
func (r remoteTransactions) CreateBatch(ctx context.Context, txs []model.Transaction) error {
	for i := range txs {
		if err := r.c.CreateTransaction(ctx, &txs[i]); err != nil {
			return fmt.Errorf("record %d of %d: %w", i+1, len(txs), err)
		}
	}
	return nil
}

func (r remoteTransactions) GetByID(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	txs, err := r.c.ListTransactions(ctx, model.TransactionFilter{})
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		if tx.ID == id {
			return &tx, nil
		}
	}
	return nil, fmt.Errorf("transaction %s: %w", id, repository.ErrNotFound)
}

// List fetches from the server and re-applies f locally, because older
// servers ignore sorting and limits.
func (r remoteTransactions) List(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	txs, err := r.c.ListTransactions(ctx, f)
	if err != nil {
		return nil, err
	}
	return f.Apply(txs), nil
}

// UpdateBatch is not exposed by the API. Exchange rates are applied on the
// server through ApplyExchangeRate.
func (r remoteTransactions) UpdateBatch(context.Context, []model.Transaction) error {
	return fmt.Errorf("update transactions: %w", ErrReadOnly)
}

// ApplyExchangeRate lets the upstream re-price its own records.
func (r remoteTransactions) ApplyExchangeRate(ctx context.Context, id uuid.UUID) (model.ApplyResult, error) {
	return r.c.ApplyExchangeRate(ctx, id)
}

type remoteRates struct{ c *Client }

func (r remoteRates) Create(ctx context.Context, cfg *model.ExchangeRateConfig) error {
	return r.c.CreateExchangeRate(ctx, cfg)
}
func (r remoteRates) GetByID(ctx context.Context, id uuid.UUID) (*model.ExchangeRateConfig, error) {
	return r.c.GetExchangeRate(ctx, id)
}
func (r remoteRates) GetByPair(ctx context.Context, payerAccountID string, period model.BillingPeriod) (*model.ExchangeRateConfig, error) {
	rates, err := r.c.ListExchangeRates(ctx)
	if err != nil {
		return nil, err
	}
	for _, cfg := range rates {
		if cfg.PayerAccountID == payerAccountID && cfg.BillingPeriod == period {
			return &cfg, nil
		}
	}
	return nil, fmt.Errorf("exchange rate %s/%s: %w", payerAccountID, period, repository.ErrNotFound)
}
func (r remoteRates) List(ctx context.Context) ([]model.ExchangeRateConfig, error) {
	return r.c.ListExchangeRates(ctx)
}
func (r remoteRates) Update(ctx context.Context, cfg *model.ExchangeRateConfig) error {
	return r.c.UpdateExchangeRate(ctx, cfg)
}
func (r remoteRates) Delete(ctx context.Context, id uuid.UUID) error {
	return r.c.DeleteExchangeRate(ctx, id)
}
