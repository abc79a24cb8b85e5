package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/finopsmind/billing/internal/billing"
	"github.com/finopsmind/billing/internal/events"
	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/notification"
	"github.com/finopsmind/billing/internal/repository"
)

// DefaultFundWarningPercent is the utilization at which a fund is reported
// as nearly exhausted.
const DefaultFundWarningPercent = 80.0

// FundNotifier delivers fund alerts to people.
type FundNotifier interface {
	SendFundAlert(ctx context.Context, alert notification.FundAlert) error
}

// FundLevel orders the states a fund can be in.
type FundLevel int

const (
	FundOK FundLevel = iota
	FundWarn
	FundOver
)

func (l FundLevel) String() string {
	switch l {
	case FundWarn:
		return "warning"
	case FundOver:
		return "over_budget"
	}
	return "ok"
}

// LevelOf classifies a balance against warnAt percent utilization. Funds
// without deposits never warn, but are over budget as soon as they cost
// anything.
func LevelOf(b model.FundBalance, warnAt float64) FundLevel {
	switch {
	case b.IsOverBudget:
		return FundOver
	case b.TotalDeposit.IsPositive() && b.UtilizationPercent >= warnAt:
		return FundWarn
	}
	return FundOK
}

// FundCheck is one fund that needs attention.
type FundCheck struct {
	CustomerVAT string            `json:"customerVat"`
	Customer    string            `json:"customer"`
	Scope       string            `json:"scope"`
	Level       string            `json:"level"`
	Balance     model.FundBalance `json:"balance"`
}

// FundCheckResult summarizes one run of the monitor.
type FundCheckResult struct {
	Checked  int         `json:"checked"`
	Alerts   int         `json:"alerts"`
	Flagged  []FundCheck `json:"flagged"`
	Duration string      `json:"duration"`
}

// FundMonitor evaluates the cost center and usage account funds of every
// active customer. An alert is sent when a fund reaches a higher level than
// on the previous run; a fund that recovers is armed again.
type FundMonitor struct {
	store    *repository.Store
	notifier FundNotifier
	events   events.Publisher
	warnAt   float64
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	levels map[string]FundLevel
}

// NewFundMonitor creates a FundMonitor. notifier and pub may be nil.
func NewFundMonitor(store *repository.Store, notifier FundNotifier, pub events.Publisher, warnAt float64, logger *slog.Logger) *FundMonitor {
	if warnAt <= 0 || warnAt > 100 {
		warnAt = DefaultFundWarningPercent
	}
	return &FundMonitor{
		store:    store,
		notifier: notifier,
		events:   orNopPublisher(pub),
		warnAt:   warnAt,
		logger:   logger,
		now:      nowUTC,
		levels:   make(map[string]FundLevel),
	}
}

// Check runs one evaluation up to the current billing period.
func (m *FundMonitor) Check(ctx context.Context) (FundCheckResult, error) {
	start := time.Now()
	customers, err := m.store.Customers.List(ctx)
	if err != nil {
		return FundCheckResult{}, fmt.Errorf("list customers: %w", err)
	}

	period := model.PeriodOf(m.now())
	var result FundCheckResult
	for _, c := range customers {
		if c.Status == model.CustomerArchived {
			continue
		}
		txs, err := loadCustomerTransactions(ctx, m.store.Transactions, c, period)
		if err != nil {
			return result, fmt.Errorf("load transactions of %s: %w", c.VATNumber, err)
		}
		part := billing.Classify(txs)

		for _, b := range billing.CostCenterBalances(c, part) {
			m.evaluate(ctx, c, "cost center", b, &result)
		}
		owned := make(map[string]bool)
		for _, id := range c.UsageAccountIDs() {
			owned[id] = true
		}
		for _, b := range billing.AccountBalances(part) {
			if !owned[b.Key] || !b.TotalDeposit.IsPositive() {
				continue
			}
			m.evaluate(ctx, c, "usage account", b, &result)
		}
	}

	result.Duration = time.Since(start).String()
	m.logger.InfoContext(ctx, "fund check completed", "checked", result.Checked,
		"flagged", len(result.Flagged), "alerts", result.Alerts)
	return result, nil
}

func (m *FundMonitor) evaluate(ctx context.Context, c model.Customer, scope string, b model.FundBalance, result *FundCheckResult) {
	result.Checked++
	level := LevelOf(b, m.warnAt)
	key := c.VATNumber + "/" + scope + "/" + b.Key

	m.mu.Lock()
	prev := m.levels[key]
	m.levels[key] = level
	m.mu.Unlock()

	if level == FundOK {
		return
	}
	check := FundCheck{CustomerVAT: c.VATNumber, Customer: c.LegalName, Scope: scope, Level: level.String(), Balance: b}
	result.Flagged = append(result.Flagged, check)
	if level <= prev {
		return
	}

	result.Alerts++
	typ := events.FundWarning
	if level == FundOver {
		typ = events.FundOverBudget
	}
	publish(ctx, m.events, m.logger, typ, check)
	if m.notifier == nil {
		return
	}
	alert := notification.FundAlert{Customer: c.LegalName, Scope: scope, Balance: b, Threshold: m.warnAt}
	if err := m.notifier.SendFundAlert(ctx, alert); err != nil {
		m.logger.WarnContext(ctx, "fund alert not delivered", "vat", c.VATNumber, "fund", b.Key, "error", err)
	}
}
