package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/finopsmind/billing/internal/billing"
	"github.com/finopsmind/billing/internal/events"
	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/repository"
)

// ExchangeRateService manages USD to EUR rates and re-prices costs with them.
type ExchangeRateService struct {
	store   *repository.Store
	events  events.Publisher
	reports Invalidator
	logger  *slog.Logger
}

// NewExchangeRateService creates an ExchangeRateService. pub and reports may
// be nil.
func NewExchangeRateService(store *repository.Store, pub events.Publisher, reports Invalidator, logger *slog.Logger) *ExchangeRateService {
	return &ExchangeRateService{store: store, events: orNopPublisher(pub), reports: orNop(reports), logger: logger}
}

// List returns every configuration.
func (s *ExchangeRateService) List(ctx context.Context) ([]model.ExchangeRateConfig, error) {
	return s.store.ExchangeRates.List(ctx)
}

// Get returns one configuration.
func (s *ExchangeRateService) Get(ctx context.Context, id uuid.UUID) (*model.ExchangeRateConfig, error) {
	return s.store.ExchangeRates.GetByID(ctx, id)
}

// Create stores a new configuration. A second configuration for the same
// payer account and billing period fails with ErrConfigurationExists.
func (s *ExchangeRateService) Create(ctx context.Context, cfg *model.ExchangeRateConfig) error {
	if err := s.validate(ctx, cfg); err != nil {
		return err
	}
	if err := s.ensureFree(ctx, cfg); err != nil {
		return err
	}
	if err := s.store.ExchangeRates.Create(ctx, cfg); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrConfigurationExists
		}
		return fmt.Errorf("create exchange rate: %w", err)
	}
	s.logger.InfoContext(ctx, "exchange rate created", "payer_account_id", cfg.PayerAccountID,
		"billing_period", cfg.BillingPeriod, "rate", cfg.ExchangeRate.String())
	return nil
}

// Update changes a configuration. Moving it onto a pair that already has a
// configuration fails with ErrConfigurationExists. Stored costs keep their
// old EUR amounts until Apply is called.
func (s *ExchangeRateService) Update(ctx context.Context, cfg *model.ExchangeRateConfig) error {
	if err := s.validate(ctx, cfg); err != nil {
		return err
	}
	if err := s.ensureFree(ctx, cfg); err != nil {
		return err
	}
	if err := s.store.ExchangeRates.Update(ctx, cfg); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrConfigurationExists
		}
		return fmt.Errorf("update exchange rate: %w", err)
	}
	return nil
}

// Delete removes a configuration. Already applied amounts stay.
func (s *ExchangeRateService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.ExchangeRates.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete exchange rate: %w", err)
	}
	return nil
}

// Apply re-prices every cost record of the configuration's payer account
// and billing period with its rate. Finding no records is not an error.
func (s *ExchangeRateService) Apply(ctx context.Context, id uuid.UUID) (model.ApplyResult, error) {
	cfg, err := s.store.ExchangeRates.GetByID(ctx, id)
	if err != nil {
		return model.ApplyResult{}, err
	}

	// a remote backend re-prices and publishes on its side
	if applier, ok := s.store.Transactions.(repository.RateApplier); ok {
		result, err := applier.ApplyExchangeRate(ctx, id)
		if err != nil {
			return model.ApplyResult{}, fmt.Errorf("apply exchange rate upstream: %w", err)
		}
		s.reports.Invalidate()
		s.logger.InfoContext(ctx, "exchange rate applied upstream", "id", cfg.ID, "payer_account_id", cfg.PayerAccountID,
			"billing_period", cfg.BillingPeriod, "transactions_updated", result.TransactionsUpdated)
		return result, nil
	}

	txs, err := s.store.Transactions.List(ctx, model.TransactionFilter{
		PayerAccountID: cfg.PayerAccountID,
		StartPeriod:    cfg.BillingPeriod,
		EndPeriod:      cfg.BillingPeriod,
		Types:          []model.TransactionType{model.TransactionDataExport},
	})
	if err != nil {
		return model.ApplyResult{}, fmt.Errorf("list transactions: %w", err)
	}

	updated, n := billing.Recalculate(txs, *cfg)
	if n > 0 {
		if err := s.store.Transactions.UpdateBatch(ctx, billing.Affected(updated, *cfg)); err != nil {
			return model.ApplyResult{}, fmt.Errorf("update transactions: %w", err)
		}
		s.reports.Invalidate()
	}

	result := model.ApplyResult{Config: *cfg, TransactionsUpdated: n}
	s.logger.InfoContext(ctx, "exchange rate applied", "id", cfg.ID, "payer_account_id", cfg.PayerAccountID,
		"billing_period", cfg.BillingPeriod, "rate", cfg.ExchangeRate.String(), "transactions_updated", n)
	publish(ctx, s.events, s.logger, events.ExchangeRateApplied, result)
	return result, nil
}

func (s *ExchangeRateService) validate(ctx context.Context, cfg *model.ExchangeRateConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := s.store.PayerAccounts.GetByID(ctx, cfg.PayerAccountID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			verr := &model.ValidationError{}
			verr.Add("payerAccountId", "unknown payer account")
			return verr
		}
		return fmt.Errorf("look up payer account: %w", err)
	}
	return nil
}

// ensureFree rejects cfg when another configuration owns its pair.
func (s *ExchangeRateService) ensureFree(ctx context.Context, cfg *model.ExchangeRateConfig) error {
	existing, err := s.store.ExchangeRates.GetByPair(ctx, cfg.PayerAccountID, cfg.BillingPeriod)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("look up exchange rate: %w", err)
	case existing.ID != cfg.ID:
		return ErrConfigurationExists
	}
	return nil
}
