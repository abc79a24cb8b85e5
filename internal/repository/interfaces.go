// Package repository defines data access interfaces and their PostgreSQL
// implementations.
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/finopsmind/billing/internal/model"
)

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would violate a uniqueness rule.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable is returned while the backend cannot be reached.
	ErrUnavailable = errors.New("backend unavailable")
)

// PayerAccountRepository defines payer account data access methods.
type PayerAccountRepository interface {
	Create(ctx context.Context, account *model.PayerAccount) error
	GetByID(ctx context.Context, accountID string) (*model.PayerAccount, error)
	List(ctx context.Context) ([]model.PayerAccount, error)
	Update(ctx context.Context, account *model.PayerAccount) error
	Delete(ctx context.Context, accountID string) error
}

// UsageAccountRepository defines usage account data access methods.
type UsageAccountRepository interface {
	Create(ctx context.Context, account *model.UsageAccount) error
	GetByID(ctx context.Context, accountID string) (*model.UsageAccount, error)
	// List returns every usage account, or only those of payerAccountID
	// when it is not empty.
	List(ctx context.Context, payerAccountID string) ([]model.UsageAccount, error)
	Update(ctx context.Context, account *model.UsageAccount) error
	Delete(ctx context.Context, accountID string) error
}

// CustomerRepository defines customer and cost center data access methods.
type CustomerRepository interface {
	Create(ctx context.Context, customer *model.Customer) error
	GetByVAT(ctx context.Context, vat string) (*model.Customer, error)
	List(ctx context.Context) ([]model.Customer, error)
	Update(ctx context.Context, customer *model.Customer) error

	// Cost centers. A usage account belongs to at most one cost center;
	// writes that would break this return ErrConflict.
	CreateCostCenter(ctx context.Context, cc *model.CostCenter) error
	UpdateCostCenter(ctx context.Context, cc *model.CostCenter) error
	DeleteCostCenter(ctx context.Context, vat string, id uuid.UUID) error
	// CostCenterOwner returns the cost center holding usageAccountID, or
	// ErrNotFound.
	CostCenterOwner(ctx context.Context, usageAccountID string) (*model.CostCenter, error)
}

// TransactionRepository defines transaction data access methods.
type TransactionRepository interface {
	Create(ctx context.Context, tx *model.Transaction) error
	CreateBatch(ctx context.Context, txs []model.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Transaction, error)
	List(ctx context.Context, filter model.TransactionFilter) ([]model.Transaction, error)
	// UpdateBatch rewrites the amounts of existing transactions atomically.
	UpdateBatch(ctx context.Context, txs []model.Transaction) error
}

// RateApplier is implemented by transaction repositories that re-price
// cost records themselves instead of accepting UpdateBatch.
type RateApplier interface {
	ApplyExchangeRate(ctx context.Context, id uuid.UUID) (model.ApplyResult, error)
}

// ExchangeRateRepository defines exchange rate configuration data access
// methods. Create returns ErrConflict for an existing payer/period pair.
type ExchangeRateRepository interface {
	Create(ctx context.Context, cfg *model.ExchangeRateConfig) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExchangeRateConfig, error)
	GetByPair(ctx context.Context, payerAccountID string, period model.BillingPeriod) (*model.ExchangeRateConfig, error)
	List(ctx context.Context) ([]model.ExchangeRateConfig, error)
	Update(ctx context.Context, cfg *model.ExchangeRateConfig) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Store bundles the repositories behind one backend. The engine and the
// services never know which backend is in use.
type Store struct {
	PayerAccounts PayerAccountRepository
	UsageAccounts UsageAccountRepository
	Customers     CustomerRepository
	Transactions  TransactionRepository
	ExchangeRates ExchangeRateRepository

	// Close releases backend resources. It may be nil.
	Close func() error
}
