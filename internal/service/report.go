package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/finopsmind/billing/internal/billing"
	"github.com/finopsmind/billing/internal/cache"
	"github.com/finopsmind/billing/internal/correlation"
	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/repository"
)

// ReportConfig tunes report composition and caching.
type ReportConfig struct {
	TrendMonths int
	AWSShare    float64
	CacheSize   int
	CacheTTL    time.Duration
}

// ReportService builds customer reports and the dashboard. Identical
// concurrent requests share one computation and results are cached until
// the next write.
type ReportService struct {
	store  *repository.Store
	cfg    ReportConfig
	split  billing.SplitEstimator
	logger *slog.Logger
	now    func() time.Time

	group      singleflight.Group
	customers  *cache.LRU[model.CustomerReport]
	dashboards *cache.LRU[model.DashboardSummary]
	generation atomic.Uint64
}

// NewReportService creates a ReportService.
func NewReportService(store *repository.Store, cfg ReportConfig, logger *slog.Logger) *ReportService {
	if cfg.TrendMonths <= 0 {
		cfg.TrendMonths = billing.DefaultTrendMonths
	}
	return &ReportService{
		store:      store,
		cfg:        cfg,
		split:      billing.SplitEstimator{AWSShare: cfg.AWSShare},
		logger:     logger,
		now:        nowUTC,
		customers:  cache.New[model.CustomerReport](cfg.CacheSize, cfg.CacheTTL),
		dashboards: cache.New[model.DashboardSummary](cfg.CacheSize, cfg.CacheTTL),
	}
}

// Invalidate drops every cached report. Computations already running when
// it is called do not repopulate the cache.
func (s *ReportService) Invalidate() {
	s.generation.Add(1)
	s.customers.Purge()
	s.dashboards.Purge()
}

// SweepCache removes expired entries and reports how many were dropped.
func (s *ReportService) SweepCache() int {
	return s.customers.CleanExpired() + s.dashboards.CleanExpired()
}

// CacheStats returns the counters of both caches.
func (s *ReportService) CacheStats() map[string]cache.Stats {
	return map[string]cache.Stats{
		"customers":  s.customers.Stats(),
		"dashboards": s.dashboards.Stats(),
	}
}

// CustomerReport returns the report of customer vat for period (the current
// month when empty). An unknown customer is an error; any other load
// failure yields an empty report with status degraded.
func (s *ReportService) CustomerReport(ctx context.Context, vat string, period model.BillingPeriod) (model.CustomerReport, error) {
	if period == "" {
		period = model.PeriodOf(s.now())
	}
	key := "customer:" + vat + ":" + string(period)
	if r, ok := s.customers.Get(key); ok {
		return r, nil
	}
	v, err := s.shared(ctx, key, func(ctx context.Context) (any, error) {
		gen := s.generation.Load()
		r, err := s.buildCustomerReport(ctx, vat, period)
		if err != nil {
			return nil, err
		}
		if r.Status == model.ReportStatusOK && s.generation.Load() == gen {
			s.customers.Set(key, r)
		}
		return r, nil
	})
	if err != nil {
		return model.CustomerReport{}, err
	}
	return v.(model.CustomerReport), nil
}

// Dashboard returns the all-accounts summary for period.
func (s *ReportService) Dashboard(ctx context.Context, period model.BillingPeriod) (model.DashboardSummary, error) {
	if period == "" {
		period = model.PeriodOf(s.now())
	}
	key := "dashboard:" + string(period)
	if d, ok := s.dashboards.Get(key); ok {
		return d, nil
	}
	v, err := s.shared(ctx, key, func(ctx context.Context) (any, error) {
		gen := s.generation.Load()
		d := s.buildDashboard(ctx, period)
		if d.Status == model.ReportStatusOK && s.generation.Load() == gen {
			s.dashboards.Set(key, d)
		}
		return d, nil
	})
	if err != nil {
		return model.DashboardSummary{}, err
	}
	return v.(model.DashboardSummary), nil
}

// shared runs fn once per key among concurrent callers. The computation is
// detached from any single caller's cancellation; a caller that gives up
// gets its context error while the others still receive the result.
func (s *ReportService) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (s *ReportService) buildCustomerReport(ctx context.Context, vat string, period model.BillingPeriod) (model.CustomerReport, error) {
	logger := correlation.Logger(ctx, s.logger)

	customer, err := s.store.Customers.GetByVAT(ctx, vat)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.CustomerReport{}, fmt.Errorf("customer %s: %w", vat, err)
		}
		logger.Warn("customer report degraded", "vat", vat, "billing_period", period, "error", err)
		return billing.EmptyCustomerReport(vat, period, s.now()), nil
	}

	var (
		txs      []model.Transaction
		accounts []model.UsageAccount
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		txs, err = loadCustomerTransactions(gctx, s.store.Transactions, *customer, period)
		return err
	})
	g.Go(func() error {
		var err error
		accounts, err = s.store.UsageAccounts.List(gctx, "")
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Warn("customer report degraded", "vat", vat, "billing_period", period, "error", err)
		r := billing.EmptyCustomerReport(vat, period, s.now())
		r.Customer.LegalName = customer.LegalName
		return r, nil
	}

	r := billing.BuildCustomerReport(billing.ReportInput{
		Customer:      *customer,
		Period:        period,
		Transactions:  txs,
		UsageAccounts: accounts,
		TrendMonths:   s.cfg.TrendMonths,
		Split:         s.split,
		Now:           s.now(),
	})
	logQuality(logger, "customer report", r.DataQuality, "vat", vat, "billing_period", period)
	return r, nil
}

func (s *ReportService) buildDashboard(ctx context.Context, period model.BillingPeriod) model.DashboardSummary {
	logger := correlation.Logger(ctx, s.logger)

	var (
		txs      []model.Transaction
		payers   []model.PayerAccount
		accounts []model.UsageAccount
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		txs, err = s.store.Transactions.List(gctx, model.TransactionFilter{EndPeriod: period})
		return err
	})
	g.Go(func() error {
		var err error
		payers, err = s.store.PayerAccounts.List(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		accounts, err = s.store.UsageAccounts.List(gctx, "")
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Warn("dashboard degraded", "billing_period", period, "error", err)
		return billing.EmptyDashboard(period, s.now())
	}

	d := billing.BuildDashboard(billing.DashboardInput{
		Period:        period,
		Transactions:  txs,
		PayerAccounts: payers,
		UsageAccounts: accounts,
		TrendMonths:   s.cfg.TrendMonths,
		Split:         s.split,
		Now:           s.now(),
	})
	logQuality(logger, "dashboard", d.DataQuality, "billing_period", period)
	return d
}

func logQuality(logger *slog.Logger, what string, q model.DataQuality, args ...any) {
	if q.Clean() {
		return
	}
	logger.Warn(what+" skipped records", append(args,
		"excluded", q.Excluded(),
		"missing_period", q.MissingPeriod,
		"unknown_usage_accounts", q.UnknownUsageAccounts,
		"unassigned_accounts", q.UnassignedAccounts,
	)...)
}
