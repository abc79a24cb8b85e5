// Package service implements the billing use cases on top of a
// repository.Store and the aggregation engine in package billing.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/finopsmind/billing/internal/correlation"
	"github.com/finopsmind/billing/internal/events"
	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/repository"
)

var (
	// ErrConfigurationExists rejects a second exchange rate for a payer
	// account and billing period.
	ErrConfigurationExists = errors.New("exchange rate configuration already exists")
	// ErrAccountAssigned is returned when a usage account already belongs
	// to another cost center.
	ErrAccountAssigned = fmt.Errorf("%w: usage account already assigned to a cost center", repository.ErrConflict)
)

// Invalidator drops cached aggregates after a write.
type Invalidator interface {
	Invalidate()
}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate() {}

func orNop(inv Invalidator) Invalidator {
	if inv == nil {
		return nopInvalidator{}
	}
	return inv
}

func orNopPublisher(p events.Publisher) events.Publisher {
	if p == nil {
		return events.Nop{}
	}
	return p
}

// publish sends an event after a committed write. Failures are logged only:
// the write has already happened.
func publish(ctx context.Context, pub events.Publisher, logger *slog.Logger, typ events.Type, data any) {
	if err := pub.Publish(ctx, events.New(ctx, typ, data)); err != nil {
		correlation.Logger(ctx, logger).Warn("event publish failed", "type", typ, "error", err)
	}
}

// depositTypes are the record types that credit a fund.
var depositTypes = []model.TransactionType{model.TransactionDeposit, model.TransactionManual}

// loadCustomerTransactions loads every record of the customer's usage
// accounts and cost centers up to through (all periods when empty). The
// two queries run concurrently; records matched by both are kept once.
func loadCustomerTransactions(ctx context.Context, txs repository.TransactionRepository, c model.Customer, through model.BillingPeriod) ([]model.Transaction, error) {
	accountIDs := c.UsageAccountIDs()
	ccIDs := make([]uuid.UUID, 0, len(c.CostCenters))
	for _, cc := range c.CostCenters {
		ccIDs = append(ccIDs, cc.ID)
	}

	var byAccount, byCostCenter []model.Transaction
	g, gctx := errgroup.WithContext(ctx)
	if len(accountIDs) > 0 {
		g.Go(func() error {
			var err error
			byAccount, err = txs.List(gctx, model.TransactionFilter{UsageAccountIDs: accountIDs, EndPeriod: through})
			if err != nil {
				return fmt.Errorf("list account transactions: %w", err)
			}
			return nil
		})
	}
	if len(ccIDs) > 0 {
		g.Go(func() error {
			var err error
			byCostCenter, err = txs.List(gctx, model.TransactionFilter{CostCenterIDs: ccIDs, EndPeriod: through, Types: depositTypes})
			if err != nil {
				return fmt.Errorf("list cost center deposits: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mergeByID(byAccount, byCostCenter), nil
}

func mergeByID(lists ...[]model.Transaction) []model.Transaction {
	seen := make(map[uuid.UUID]bool)
	var out []model.Transaction
	for _, list := range lists {
		for _, tx := range list {
			if tx.ID != uuid.Nil {
				if seen[tx.ID] {
					continue
				}
				seen[tx.ID] = true
			}
			out = append(out, tx)
		}
	}
	return out
}

func nowUTC() time.Time { return time.Now().UTC() }

func containsAccount(c model.Customer, usageAccountID string) bool {
	return slices.Contains(c.UsageAccountIDs(), usageAccountID)
}

func fieldError(field, msg string) error {
	verr := &model.ValidationError{}
	verr.Add(field, msg)
	return verr
}
