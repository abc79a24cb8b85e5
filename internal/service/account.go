package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/finopsmind/billing/internal/billing"
	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/repository"
)

// AccountService manages payer and usage accounts.
type AccountService struct {
	store   *repository.Store
	reports Invalidator
	logger  *slog.Logger
}

// NewAccountService creates an AccountService. reports may be nil.
func NewAccountService(store *repository.Store, reports Invalidator, logger *slog.Logger) *AccountService {
	return &AccountService{store: store, reports: orNop(reports), logger: logger}
}

// ListPayerAccounts returns every payer account.
func (s *AccountService) ListPayerAccounts(ctx context.Context) ([]model.PayerAccount, error) {
	return s.store.PayerAccounts.List(ctx)
}

// GetPayerAccount returns one payer account.
func (s *AccountService) GetPayerAccount(ctx context.Context, id string) (*model.PayerAccount, error) {
	return s.store.PayerAccounts.GetByID(ctx, id)
}

// CreatePayerAccount registers a payer account.
func (s *AccountService) CreatePayerAccount(ctx context.Context, a *model.PayerAccount) error {
	if a.Status == "" {
		a.Status = model.PayerAccountRegistered
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if err := s.store.PayerAccounts.Create(ctx, a); err != nil {
		return fmt.Errorf("create payer account: %w", err)
	}
	s.reports.Invalidate()
	s.logger.InfoContext(ctx, "payer account created", "account_id", a.AccountID)
	return nil
}

// UpdatePayerAccount replaces a payer account's attributes.
func (s *AccountService) UpdatePayerAccount(ctx context.Context, a *model.PayerAccount) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := s.store.PayerAccounts.Update(ctx, a); err != nil {
		return fmt.Errorf("update payer account: %w", err)
	}
	s.reports.Invalidate()
	return nil
}

// DeletePayerAccount removes a payer account without usage accounts.
func (s *AccountService) DeletePayerAccount(ctx context.Context, id string) error {
	children, err := s.store.UsageAccounts.List(ctx, id)
	if err != nil {
		return fmt.Errorf("list usage accounts: %w", err)
	}
	if len(children) > 0 {
		return fmt.Errorf("%w: payer account %s still has %d usage accounts", repository.ErrConflict, id, len(children))
	}
	if err := s.store.PayerAccounts.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete payer account: %w", err)
	}
	s.reports.Invalidate()
	return nil
}

// ListUsageAccounts returns the usage accounts of payerAccountID (all when
// empty) with their usage, deposits and funds utilization filled in.
func (s *AccountService) ListUsageAccounts(ctx context.Context, payerAccountID string) ([]model.UsageAccount, error) {
	accounts, err := s.store.UsageAccounts.List(ctx, payerAccountID)
	if err != nil {
		return nil, fmt.Errorf("list usage accounts: %w", err)
	}
	if err := s.fillFunds(ctx, accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// GetUsageAccount returns one usage account with its funds filled in.
func (s *AccountService) GetUsageAccount(ctx context.Context, id string) (*model.UsageAccount, error) {
	a, err := s.store.UsageAccounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	one := []model.UsageAccount{*a}
	if err := s.fillFunds(ctx, one); err != nil {
		return nil, err
	}
	return &one[0], nil
}

func (s *AccountService) fillFunds(ctx context.Context, accounts []model.UsageAccount) error {
	if len(accounts) == 0 {
		return nil
	}
	ids := make([]string, len(accounts))
	for i, a := range accounts {
		ids[i] = a.AccountID
	}
	txs, err := s.store.Transactions.List(ctx, model.TransactionFilter{UsageAccountIDs: ids})
	if err != nil {
		return fmt.Errorf("list account transactions: %w", err)
	}
	balances := make(map[string]model.FundBalance)
	for _, b := range billing.AccountBalances(billing.Classify(txs)) {
		balances[b.Key] = b
	}
	for i := range accounts {
		b := balances[accounts[i].AccountID]
		accounts[i].SetFunds(b.TotalCost, b.TotalDeposit)
	}
	return nil
}

// CreateUsageAccount registers a usage account under an existing payer.
func (s *AccountService) CreateUsageAccount(ctx context.Context, a *model.UsageAccount) error {
	if a.Status == "" {
		a.Status = model.UsageAccountUnregistered
	}
	if err := s.validateUsage(ctx, a); err != nil {
		return err
	}
	if err := s.store.UsageAccounts.Create(ctx, a); err != nil {
		return fmt.Errorf("create usage account: %w", err)
	}
	s.reports.Invalidate()
	s.logger.InfoContext(ctx, "usage account created", "account_id", a.AccountID, "payer_account_id", a.PayerAccountID)
	return nil
}

// UpdateUsageAccount replaces a usage account's attributes. Discount
// changes only affect costs ingested afterwards.
func (s *AccountService) UpdateUsageAccount(ctx context.Context, a *model.UsageAccount) error {
	if err := s.validateUsage(ctx, a); err != nil {
		return err
	}
	if err := s.store.UsageAccounts.Update(ctx, a); err != nil {
		return fmt.Errorf("update usage account: %w", err)
	}
	s.reports.Invalidate()
	return nil
}

// DeleteUsageAccount removes a usage account that no cost center holds.
func (s *AccountService) DeleteUsageAccount(ctx context.Context, id string) error {
	owner, err := s.store.Customers.CostCenterOwner(ctx, id)
	switch {
	case err == nil:
		return fmt.Errorf("%w: usage account %s is linked to cost center %q", repository.ErrConflict, id, owner.Name)
	case !errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("look up cost center: %w", err)
	}
	if err := s.store.UsageAccounts.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete usage account: %w", err)
	}
	s.reports.Invalidate()
	return nil
}

func (s *AccountService) validateUsage(ctx context.Context, a *model.UsageAccount) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.PayerAccountID == "" {
		return nil
	}
	if _, err := s.store.PayerAccounts.GetByID(ctx, a.PayerAccountID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			verr := &model.ValidationError{}
			verr.Add("payerAccountId", "unknown payer account")
			return verr
		}
		return fmt.Errorf("look up payer account: %w", err)
	}
	return nil
}
