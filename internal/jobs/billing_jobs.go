package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/finopsmind/billing/internal/service"
)

// Job names.
const (
	JobCostIngest = "cost-ingest"
	JobFundCheck  = "fund-check"
	JobCacheSweep = "cache-sweep"
)

// Ingester pulls provider costs into the store.
type Ingester interface {
	Run(ctx context.Context) (service.IngestResult, error)
}

// FundChecker evaluates fund balances and raises alerts.
type FundChecker interface {
	Check(ctx context.Context) (service.FundCheckResult, error)
}

// CacheSweeper drops expired cached reports.
type CacheSweeper interface {
	SweepCache() int
}

// Schedules holds the cron expression of each billing job. Empty disables
// the job.
type Schedules struct {
	Ingest     string
	FundCheck  string
	CacheSweep string
}

// BillingJobs adapts the billing services to JobFuncs.
type BillingJobs struct {
	ingester Ingester
	funds    FundChecker
	cache    CacheSweeper
	logger   *slog.Logger
}

// NewBillingJobs creates the job set. Nil services are skipped at
// registration.
func NewBillingJobs(ingester Ingester, funds FundChecker, cache CacheSweeper, logger *slog.Logger) *BillingJobs {
	return &BillingJobs{ingester: ingester, funds: funds, cache: cache, logger: logger}
}

// Register adds every available job to s.
func (b *BillingJobs) Register(s *Scheduler, sched Schedules) error {
	if b.ingester != nil {
		if err := s.Register(JobCostIngest, sched.Ingest, b.Ingest); err != nil {
			return err
		}
	}
	if b.funds != nil {
		if err := s.Register(JobFundCheck, sched.FundCheck, b.CheckFunds); err != nil {
			return err
		}
	}
	if b.cache != nil {
		if err := s.Register(JobCacheSweep, sched.CacheSweep, b.SweepCache); err != nil {
			return err
		}
	}
	return nil
}

// Ingest runs one ingestion pass. Per-payer failures are reported by the
// ingestion service itself; only a pass that could not run at all fails.
func (b *BillingJobs) Ingest(ctx context.Context) error {
	res, err := b.ingester.Run(ctx)
	if err != nil {
		return fmt.Errorf("cost ingestion: %w", err)
	}
	b.logger.InfoContext(ctx, "cost ingestion finished", "source", res.Source, "payers", res.PayerCount,
		"records", res.Records, "new_accounts", len(res.NewAccounts), "failures", len(res.Failures),
		"duration", res.Duration)
	return nil
}

func (b *BillingJobs) CheckFunds(ctx context.Context) error {
	res, err := b.funds.Check(ctx)
	if err != nil {
		return fmt.Errorf("fund check: %w", err)
	}
	b.logger.InfoContext(ctx, "fund check finished", "checked", res.Checked, "flagged", len(res.Flagged),
		"alerts", res.Alerts, "duration", res.Duration)
	return nil
}

func (b *BillingJobs) SweepCache(ctx context.Context) error {
	if n := b.cache.SweepCache(); n > 0 {
		b.logger.DebugContext(ctx, "report cache swept", "removed", n)
	}
	return nil
}
