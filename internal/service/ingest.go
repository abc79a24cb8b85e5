package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/finopsmind/billing/internal/billing"
	"github.com/finopsmind/billing/internal/events"
	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/provider"
	"github.com/finopsmind/billing/internal/repository"
)

// IngestionNotifier reports payer accounts whose costs could not be pulled.
type IngestionNotifier interface {
	SendIngestionFailure(ctx context.Context, payerAccountID string, period model.BillingPeriod, cause error) error
}

// IngestConfig tunes cost ingestion.
type IngestConfig struct {
	// Months is how many billing periods, ending with the current one, are
	// pulled on each run. Earlier months keep changing until AWS closes them.
	Months int
	// DefaultRate prices periods without an exchange rate configuration.
	DefaultRate decimal.Decimal
	// Concurrency bounds the payer accounts fetched in parallel.
	Concurrency int
}

// IngestFailure is a payer account and period that could not be imported.
type IngestFailure struct {
	PayerAccountID string              `json:"payerAccountId"`
	BillingPeriod  model.BillingPeriod `json:"billingPeriod"`
	Error          string              `json:"error"`
}

// IngestResult summarizes one ingestion run.
type IngestResult struct {
	Source      string          `json:"source"`
	PayerCount  int             `json:"payerCount"`
	Periods     []string        `json:"periods"`
	Records     int             `json:"records"`
	NewAccounts []string        `json:"newAccounts,omitempty"`
	Failures    []IngestFailure `json:"failures,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	Duration    string          `json:"duration"`
}

// IngestionService pulls monthly costs from a CostSource, prices them with
// each usage account's discounts and rebates, and stores them as DATAEXPORT
// records. Re-ingesting a period replaces its records.
type IngestionService struct {
	store    *repository.Store
	source   provider.CostSource
	events   events.Publisher
	reports  Invalidator
	notifier IngestionNotifier
	cfg      IngestConfig
	logger   *slog.Logger
	now      func() time.Time

	mu sync.Mutex // one run at a time
}

// NewIngestionService creates an IngestionService. pub, reports and
// notifier may be nil.
func NewIngestionService(store *repository.Store, source provider.CostSource, pub events.Publisher, reports Invalidator,
	notifier IngestionNotifier, cfg IngestConfig, logger *slog.Logger) *IngestionService {
	if cfg.Months <= 0 {
		cfg.Months = 2
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if !cfg.DefaultRate.IsPositive() {
		cfg.DefaultRate = decimal.NewFromInt(1)
	}
	return &IngestionService{
		store:    store,
		source:   source,
		events:   orNopPublisher(pub),
		reports:  orNop(reports),
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      nowUTC,
	}
}

// Run ingests every registered payer account for the configured window. A
// failing payer account or period does not stop the others; failures are
// listed in the result and notified.
func (s *IngestionService) Run(ctx context.Context) (IngestResult, error) {
	if !s.mu.TryLock() {
		return IngestResult{}, errors.New("ingestion already running")
	}
	defer s.mu.Unlock()

	start := s.now()
	result := IngestResult{Source: s.source.Name(), StartedAt: start}
	payers, err := s.store.PayerAccounts.List(ctx)
	if err != nil {
		return result, fmt.Errorf("list payer accounts: %w", err)
	}
	window := model.PeriodWindow(model.PeriodOf(start), s.cfg.Months)
	for _, p := range window {
		result.Periods = append(result.Periods, string(p))
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, payer := range payers {
		if payer.Status != model.PayerAccountRegistered {
			continue
		}
		result.PayerCount++
		payer := payer
		g.Go(func() error {
			for _, period := range window {
				n, created, err := s.IngestPeriod(gctx, payer, period)
				mu.Lock()
				result.Records += n
				result.NewAccounts = append(result.NewAccounts, created...)
				if err != nil {
					result.Failures = append(result.Failures, IngestFailure{
						PayerAccountID: payer.AccountID, BillingPeriod: period, Error: err.Error(),
					})
				}
				mu.Unlock()
				if err != nil {
					s.reportFailure(gctx, payer.AccountID, period, err)
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	if result.Records > 0 {
		s.reports.Invalidate()
	}
	result.Duration = time.Since(start).String()
	s.logger.InfoContext(ctx, "cost ingestion completed", "source", result.Source, "payers", result.PayerCount,
		"periods", len(window), "records", result.Records, "new_accounts", len(result.NewAccounts),
		"failures", len(result.Failures), "duration", result.Duration)
	publish(ctx, s.events, s.logger, events.CostsIngested, result)
	return result, nil
}

// IngestPeriod imports one payer account's costs for one billing period. It
// returns the number of records written and the usage accounts that were
// seen for the first time and registered as Unregistered.
func (s *IngestionService) IngestPeriod(ctx context.Context, payer model.PayerAccount, period model.BillingPeriod) (int, []string, error) {
	costs, err := s.source.FetchCosts(ctx, payer, period)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch costs: %w", err)
	}
	if len(costs) == 0 {
		return 0, nil, nil
	}

	rate, err := s.rateFor(ctx, payer.AccountID, period)
	if err != nil {
		return 0, nil, err
	}

	var created []string
	txs := make([]model.Transaction, 0, len(costs))
	for _, c := range costs {
		acct, isNew, err := s.usageAccount(ctx, payer.AccountID, c.UsageAccountID)
		if err != nil {
			return 0, created, err
		}
		if isNew {
			created = append(created, acct.AccountID)
		}
		tx := billing.PriceLineItem(*acct, period, c.Breakdown, rate)
		billing.AttachEntities(&tx, c.Entities)
		txs = append(txs, tx)
	}

	if err := s.store.Transactions.CreateBatch(ctx, txs); err != nil {
		return 0, created, fmt.Errorf("store costs: %w", err)
	}
	s.logger.DebugContext(ctx, "costs ingested", "payer_account_id", payer.AccountID,
		"billing_period", period, "records", len(txs), "rate", rate.String())
	return len(txs), created, nil
}

func (s *IngestionService) rateFor(ctx context.Context, payerAccountID string, period model.BillingPeriod) (decimal.Decimal, error) {
	cfg, err := s.store.ExchangeRates.GetByPair(ctx, payerAccountID, period)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return s.cfg.DefaultRate, nil
	case err != nil:
		return decimal.Zero, fmt.Errorf("look up exchange rate: %w", err)
	}
	return cfg.ExchangeRate, nil
}

// usageAccount returns the usage account id, registering it under
// payerAccountID when it is unknown.
func (s *IngestionService) usageAccount(ctx context.Context, payerAccountID, id string) (*model.UsageAccount, bool, error) {
	acct, err := s.store.UsageAccounts.GetByID(ctx, id)
	if err == nil {
		return acct, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("look up usage account: %w", err)
	}

	now := s.now()
	acct = &model.UsageAccount{
		AccountID:      id,
		Status:         model.UsageAccountUnregistered,
		PayerAccountID: payerAccountID,
		Rebate:         model.DefaultRebateConfig(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.UsageAccounts.Create(ctx, acct); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Registered concurrently.
			acct, err = s.store.UsageAccounts.GetByID(ctx, id)
			if err != nil {
				return nil, false, fmt.Errorf("look up usage account: %w", err)
			}
			return acct, false, nil
		}
		return nil, false, fmt.Errorf("register usage account: %w", err)
	}
	s.logger.InfoContext(ctx, "usage account discovered", "account_id", id, "payer_account_id", payerAccountID)
	return acct, true, nil
}

func (s *IngestionService) reportFailure(ctx context.Context, payerAccountID string, period model.BillingPeriod, cause error) {
	s.logger.ErrorContext(ctx, "cost ingestion failed", "payer_account_id", payerAccountID,
		"billing_period", period, "error", cause)
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendIngestionFailure(ctx, payerAccountID, period, cause); err != nil {
		s.logger.WarnContext(ctx, "ingestion failure not delivered", "payer_account_id", payerAccountID, "error", err)
	}
}
