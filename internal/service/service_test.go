package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finopsmind/billing/internal/events"
	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/notification"
	"github.com/finopsmind/billing/internal/provider"
	"github.com/finopsmind/billing/internal/repository"
	"github.com/finopsmind/billing/internal/repository/memory"
)

const demoEnd model.BillingPeriod = "2024-06"

var fixedNow = time.Date(2024, 6, 14, 9, 30, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func demoStore() *repository.Store {
	return memory.NewSeeded(memory.DemoFixtures(demoEnd)).Store()
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvalidator) Invalidate() {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *countingInvalidator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestRecordDeposit(t *testing.T) {
	ctx := context.Background()
	store := demoStore()
	rec := &events.Recorder{}
	inv := &countingInvalidator{}
	svc := NewCustomerService(store, rec, inv, testLogger())
	svc.now = func() time.Time { return fixedNow }

	acme, err := store.Customers.GetByVAT(ctx, "DE811111111")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	globex, err := store.Customers.GetByVAT(ctx, "IT09876543210")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	foreign := globex.CostCenters[0].ID

	tests := []struct {
		name    string
		deposit model.Deposit
		wantErr bool
	}{
		{
			name:    "cost center of another customer",
			deposit: model.Deposit{CostCenterID: &foreign, AmountEUR: decimal.NewFromInt(10), Description: "x"},
			wantErr: true,
		},
		{
			name:    "usage account of another customer",
			deposit: model.Deposit{UsageAccountID: "333333333333", AmountEUR: decimal.NewFromInt(10), Description: "x"},
			wantErr: true,
		},
		{
			name:    "zero amount",
			deposit: model.Deposit{UsageAccountID: "111111111111", Description: "x"},
			wantErr: true,
		},
		{
			name:    "own usage account",
			deposit: model.Deposit{UsageAccountID: "111111111111", AmountEUR: decimal.NewFromInt(300), Description: "top-up"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.deposit
			err := svc.RecordDeposit(ctx, acme.VATNumber, &d)
			if tt.wantErr {
				var verr *model.ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("RecordDeposit: %v", err)
			}
			if d.BillingPeriod != "2024-06" {
				t.Errorf("billing period = %s, want 2024-06", d.BillingPeriod)
			}
			if d.ID == uuid.Nil {
				t.Error("deposit id not assigned")
			}
		})
	}

	if inv.count() != 1 {
		t.Errorf("invalidations = %d, want 1", inv.count())
	}
	if got := rec.Types(); len(got) != 1 || got[0] != events.DepositRecorded {
		t.Errorf("events = %v, want [deposit.recorded]", got)
	}

	deposits, err := svc.ListDeposits(ctx, acme.VATNumber)
	if err != nil {
		t.Fatalf("ListDeposits: %v", err)
	}
	if len(deposits) != 3 {
		t.Fatalf("deposits = %d, want 3", len(deposits))
	}
	if deposits[0].Description != "top-up" {
		t.Errorf("newest deposit = %q, want top-up", deposits[0].Description)
	}
}

func TestCostCenterRejectsAccountOwnedElsewhere(t *testing.T) {
	ctx := context.Background()
	svc := NewCustomerService(demoStore(), nil, nil, testLogger())

	cc := &model.CostCenter{Name: "Stolen", UsageAccountIDs: []string{"111111111111"}}
	err := svc.CreateCostCenter(ctx, "IT09876543210", cc)
	if !errors.Is(err, ErrAccountAssigned) || !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrAccountAssigned, got %v", err)
	}

	cc = &model.CostCenter{Name: "Ghost", UsageAccountIDs: []string{"999999999999"}}
	var verr *model.ValidationError
	if err := svc.CreateCostCenter(ctx, "IT09876543210", cc); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for unknown account, got %v", err)
	}
}

func TestCreateCustomerRejectsDuplicateAccountInRequest(t *testing.T) {
	ctx := context.Background()
	store := demoStore()
	svc := NewCustomerService(store, nil, nil, testLogger())

	if err := store.UsageAccounts.Create(ctx, &model.UsageAccount{
		AccountID: "555555555555", PayerAccountID: "123456789012", Status: model.UsageAccountRegistered,
	}); err != nil {
		t.Fatalf("create usage account: %v", err)
	}
	c := &model.Customer{
		LegalName: "Initech", VATNumber: "FR12345678901",
		CostCenters: []model.CostCenter{
			{Name: "A", UsageAccountIDs: []string{"555555555555"}},
			{Name: "B", UsageAccountIDs: []string{"555555555555"}},
		},
	}
	if err := svc.Create(ctx, c); !errors.Is(err, ErrAccountAssigned) {
		t.Fatalf("expected ErrAccountAssigned, got %v", err)
	}
	if _, err := store.Customers.GetByVAT(ctx, "FR12345678901"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("customer must not be stored, got %v", err)
	}
}

func TestDeletePayerAccountWithChildren(t *testing.T) {
	svc := NewAccountService(demoStore(), nil, testLogger())
	err := svc.DeletePayerAccount(context.Background(), "123456789012")
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestListUsageAccountsFillsFunds(t *testing.T) {
	svc := NewAccountService(demoStore(), nil, testLogger())
	accounts, err := svc.ListUsageAccounts(context.Background(), "210987654321")
	if err != nil {
		t.Fatalf("ListUsageAccounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(accounts))
	}
	for _, a := range accounts {
		if !a.TotalUsage.IsPositive() {
			t.Errorf("%s: total usage not filled", a.AccountID)
		}
		switch a.AccountID {
		case "444444444444":
			if !a.TotalDeposit.Equal(decimal.NewFromInt(2500)) {
				t.Errorf("%s: total deposit = %s, want 2500", a.AccountID, a.TotalDeposit)
			}
			if a.FundsUtilization <= 0 {
				t.Errorf("%s: utilization not filled", a.AccountID)
			}
		case "333333333333":
			if !a.TotalDeposit.IsZero() || a.FundsUtilization != 0 {
				t.Errorf("%s: expected no direct deposits, got %s / %.2f", a.AccountID, a.TotalDeposit, a.FundsUtilization)
			}
		}
	}
}

func TestExchangeRateDuplicatePair(t *testing.T) {
	ctx := context.Background()
	svc := NewExchangeRateService(demoStore(), nil, nil, testLogger())

	cfg := &model.ExchangeRateConfig{PayerAccountID: "123456789012", BillingPeriod: demoEnd, ExchangeRate: decimal.RequireFromString("0.95")}
	if err := svc.Create(ctx, cfg); !errors.Is(err, ErrConfigurationExists) {
		t.Fatalf("expected ErrConfigurationExists, got %v", err)
	}

	cfg = &model.ExchangeRateConfig{PayerAccountID: "000000000000", BillingPeriod: demoEnd, ExchangeRate: decimal.RequireFromString("0.95")}
	var verr *model.ValidationError
	if err := svc.Create(ctx, cfg); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for unknown payer, got %v", err)
	}
}

func TestApplyExchangeRate(t *testing.T) {
	ctx := context.Background()
	store := demoStore()
	rec := &events.Recorder{}
	inv := &countingInvalidator{}
	svc := NewExchangeRateService(store, rec, inv, testLogger())

	cfg, err := store.ExchangeRates.GetByPair(ctx, "123456789012", demoEnd)
	if err != nil {
		t.Fatalf("GetByPair: %v", err)
	}
	cfg.ExchangeRate = decimal.RequireFromString("1.10")
	if err := svc.Update(ctx, cfg); err != nil {
		t.Fatalf("Update: %v", err)
	}

	result, err := svc.Apply(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.TransactionsUpdated != 2 {
		t.Fatalf("updated = %d, want 2", result.TransactionsUpdated)
	}
	if inv.count() != 1 {
		t.Errorf("invalidations = %d, want 1", inv.count())
	}

	txs, _ := store.Transactions.List(ctx, model.TransactionFilter{
		PayerAccountID: "123456789012", StartPeriod: demoEnd, EndPeriod: demoEnd,
	})
	for _, tx := range txs {
		want := tx.CustomerCost.USD.Mul(decimal.RequireFromString("1.10"))
		if !tx.CustomerCost.EUR.Equal(want) {
			t.Errorf("%s: customer EUR = %s, want %s", tx.UsageAccountID, tx.CustomerCost.EUR, want)
		}
	}

	// Another period of the same payer is untouched.
	older, _ := store.Transactions.List(ctx, model.TransactionFilter{
		PayerAccountID: "123456789012", EndPeriod: demoEnd.Prev(), Limit: 1,
	})
	if len(older) == 1 && older[0].ExchangeRate.Equal(decimal.RequireFromString("1.10")) {
		t.Error("record outside the configured period was re-priced")
	}

	future := &model.ExchangeRateConfig{PayerAccountID: "123456789012", BillingPeriod: demoEnd.Next(), ExchangeRate: decimal.NewFromInt(1)}
	if err := svc.Create(ctx, future); err != nil {
		t.Fatalf("Create: %v", err)
	}
	result, err = svc.Apply(ctx, future.ID)
	if err != nil || result.TransactionsUpdated != 0 {
		t.Fatalf("Apply without records = %d, %v; want 0, nil", result.TransactionsUpdated, err)
	}
	if inv.count() != 1 {
		t.Errorf("empty apply must not invalidate, invalidations = %d", inv.count())
	}
	if got := rec.Types(); len(got) != 2 {
		t.Errorf("events = %v, want two exchange_rate.applied", got)
	}
}

// applyingTransactions re-prices on its own, like the remote backend.
type applyingTransactions struct {
	repository.TransactionRepository
	applied []uuid.UUID
}

func (a *applyingTransactions) ApplyExchangeRate(_ context.Context, id uuid.UUID) (model.ApplyResult, error) {
	a.applied = append(a.applied, id)
	return model.ApplyResult{TransactionsUpdated: 7}, nil
}

func (a *applyingTransactions) UpdateBatch(context.Context, []model.Transaction) error {
	return errors.New("UpdateBatch called")
}

func TestApplyExchangeRateDelegatesToStore(t *testing.T) {
	ctx := context.Background()
	store := demoStore()
	txs := &applyingTransactions{TransactionRepository: store.Transactions}
	store.Transactions = txs
	rec := &events.Recorder{}
	inv := &countingInvalidator{}
	svc := NewExchangeRateService(store, rec, inv, testLogger())

	cfg, err := store.ExchangeRates.GetByPair(ctx, "123456789012", demoEnd)
	if err != nil {
		t.Fatalf("GetByPair: %v", err)
	}
	result, err := svc.Apply(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.TransactionsUpdated != 7 || len(txs.applied) != 1 || txs.applied[0] != cfg.ID {
		t.Fatalf("result %+v, applied %v", result, txs.applied)
	}
	if inv.count() != 1 {
		t.Errorf("invalidations = %d, want 1", inv.count())
	}
	if got := rec.Types(); len(got) != 0 {
		t.Errorf("events = %v, the applying backend publishes its own", got)
	}

	if _, err := svc.Apply(ctx, uuid.New()); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("unknown id: expected ErrNotFound, got %v", err)
	}
}

type failingCustomers struct {
	repository.CustomerRepository
	err error
}

func (f failingCustomers) GetByVAT(context.Context, string) (*model.Customer, error) {
	return nil, f.err
}

func TestCustomerReportCachingAndInvalidation(t *testing.T) {
	ctx := context.Background()
	svc := NewReportService(demoStore(), ReportConfig{CacheSize: 10, CacheTTL: time.Minute}, testLogger())
	svc.now = func() time.Time { return fixedNow }

	first, err := svc.CustomerReport(ctx, "DE811111111", demoEnd)
	if err != nil {
		t.Fatalf("CustomerReport: %v", err)
	}
	if first.Status != model.ReportStatusOK {
		t.Fatalf("status = %s, want ok", first.Status)
	}
	if first.Customer.LegalName != "Acme GmbH" || len(first.CostCenters) != 2 {
		t.Fatalf("unexpected report: %+v", first.Customer)
	}
	if _, err := svc.CustomerReport(ctx, "DE811111111", demoEnd); err != nil {
		t.Fatalf("CustomerReport: %v", err)
	}
	if s := svc.CacheStats()["customers"]; s.Hits != 1 || s.Size != 1 {
		t.Fatalf("cache stats = %+v, want one hit and one entry", s)
	}

	svc.Invalidate()
	if s := svc.CacheStats()["customers"]; s.Size != 0 {
		t.Fatalf("cache size after invalidate = %d", s.Size)
	}
}

func TestCustomerReportErrors(t *testing.T) {
	ctx := context.Background()

	store := demoStore()
	svc := NewReportService(store, ReportConfig{CacheSize: 10, CacheTTL: time.Minute}, testLogger())
	if _, err := svc.CustomerReport(ctx, "XX000", demoEnd); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("unknown customer: expected ErrNotFound, got %v", err)
	}

	store.Customers = failingCustomers{CustomerRepository: store.Customers, err: errors.New("upstream unavailable")}
	r, err := svc.CustomerReport(ctx, "DE811111111", demoEnd)
	if err != nil {
		t.Fatalf("upstream failure must degrade, got %v", err)
	}
	if r.Status != model.ReportStatusDegraded || len(r.Trend) != 12 {
		t.Fatalf("degraded report = %s with %d trend points", r.Status, len(r.Trend))
	}
	if s := svc.CacheStats()["customers"]; s.Size != 0 {
		t.Fatal("degraded report must not be cached")
	}
}

func TestDashboard(t *testing.T) {
	svc := NewReportService(demoStore(), ReportConfig{}, testLogger())
	d, err := svc.Dashboard(context.Background(), demoEnd)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if d.PayerAccountCount != 2 || d.UsageAccountCount != 4 {
		t.Fatalf("counts = %d payers / %d usage, want 2 / 4", d.PayerAccountCount, d.UsageAccountCount)
	}
	if len(d.TopUsageAccounts) != 4 || len(d.TopPayerAccounts) != 2 {
		t.Fatalf("top lists = %d / %d", len(d.TopUsageAccounts), len(d.TopPayerAccounts))
	}
	if !d.Totals.CustomerCost.EUR.IsPositive() {
		t.Error("dashboard totals empty")
	}
}

type recordingNotifier struct {
	alerts []notification.FundAlert
}

func (n *recordingNotifier) SendFundAlert(_ context.Context, a notification.FundAlert) error {
	n.alerts = append(n.alerts, a)
	return nil
}

func TestFundMonitorAlertsOncePerLevel(t *testing.T) {
	ctx := context.Background()
	store := memory.New().Store()
	if err := store.PayerAccounts.Create(ctx, &model.PayerAccount{AccountID: "123456789012", AccountName: "P", Status: model.PayerAccountRegistered}); err != nil {
		t.Fatal(err)
	}
	cc := model.CostCenter{ID: uuid.New(), Name: "Ops", UsageAccountIDs: []string{"111111111111"}}
	if err := store.Customers.Create(ctx, &model.Customer{
		LegalName: "Acme", VATNumber: "DE1", Status: model.CustomerActive, CostCenters: []model.CostCenter{cc},
	}); err != nil {
		t.Fatal(err)
	}
	deposit := model.Deposit{CostCenterID: &cc.ID, AmountEUR: decimal.NewFromInt(100), Description: "d", BillingPeriod: "2024-04"}
	depositTx := deposit.ToTransaction()
	cost := func(period model.BillingPeriod, eur int64) *model.Transaction {
		return &model.Transaction{
			BillingPeriod: period, PayerAccountID: "123456789012", UsageAccountID: "111111111111",
			TransactionType: model.TransactionDataExport, DataType: model.DataTypeExport,
			CustomerCost: model.CostPair{USD: decimal.NewFromInt(eur), EUR: decimal.NewFromInt(eur)},
		}
	}
	for _, tx := range []*model.Transaction{&depositTx, cost("2024-04", 85)} {
		if err := store.Transactions.Create(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	notifier := &recordingNotifier{}
	rec := &events.Recorder{}
	m := NewFundMonitor(store, notifier, rec, 80, testLogger())
	m.now = func() time.Time { return time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC) }

	steps := []struct {
		name       string
		add        *model.Transaction
		wantAlerts int
		wantLevel  string
	}{
		{name: "crosses warning", wantAlerts: 1, wantLevel: "warning"},
		{name: "still warning", wantAlerts: 0, wantLevel: "warning"},
		{name: "goes over budget", add: cost("2024-05", 30), wantAlerts: 1, wantLevel: "over_budget"},
		{name: "still over budget", wantAlerts: 0, wantLevel: "over_budget"},
	}
	for _, step := range steps {
		if step.add != nil {
			if err := store.Transactions.Create(ctx, step.add); err != nil {
				t.Fatal(err)
			}
		}
		res, err := m.Check(ctx)
		if err != nil {
			t.Fatalf("%s: Check: %v", step.name, err)
		}
		if res.Alerts != step.wantAlerts {
			t.Errorf("%s: alerts = %d, want %d", step.name, res.Alerts, step.wantAlerts)
		}
		if len(res.Flagged) != 1 || res.Flagged[0].Level != step.wantLevel {
			t.Errorf("%s: flagged = %+v, want one %s", step.name, res.Flagged, step.wantLevel)
		}
	}

	if len(notifier.alerts) != 2 || !notifier.alerts[1].Balance.IsOverBudget {
		t.Fatalf("notifications = %+v", notifier.alerts)
	}
	want := []events.Type{events.FundWarning, events.FundOverBudget}
	got := rec.Types()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestLevelOf(t *testing.T) {
	tests := []struct {
		name    string
		deposit int64
		cost    int64
		want    FundLevel
	}{
		{"no deposit no cost", 0, 0, FundOK},
		{"no deposit with cost", 0, 5, FundOver},
		{"below threshold", 100, 79, FundOK},
		{"at threshold", 100, 80, FundWarn},
		{"exactly spent", 100, 100, FundWarn},
		{"over", 100, 101, FundOver},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := reconcile(tt.deposit, tt.cost)
			if got := LevelOf(b, 80); got != tt.want {
				t.Errorf("LevelOf = %s, want %s", got, tt.want)
			}
		})
	}
}

func reconcile(deposit, cost int64) model.FundBalance {
	d, c := decimal.NewFromInt(deposit), decimal.NewFromInt(cost)
	b := model.FundBalance{TotalDeposit: d, TotalCost: c, AvailableFund: d.Sub(c), IsOverBudget: c.GreaterThan(d)}
	if deposit > 0 {
		b.UtilizationPercent = min(c.Div(d).Mul(decimal.NewFromInt(100)).InexactFloat64(), 100)
	}
	return b
}

type fakeSource struct {
	costs map[string][]provider.AccountCost
	fail  map[string]error
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Health(context.Context) provider.HealthStatus {
	return provider.HealthStatus{Healthy: true}
}

func (f *fakeSource) FetchCosts(_ context.Context, payer model.PayerAccount, _ model.BillingPeriod) ([]provider.AccountCost, error) {
	if err := f.fail[payer.AccountID]; err != nil {
		return nil, err
	}
	return f.costs[payer.AccountID], nil
}

func (f *fakeSource) Close() error { return nil }

type failureNotifier struct {
	mu    sync.Mutex
	payer []string
}

func (n *failureNotifier) SendIngestionFailure(_ context.Context, payerAccountID string, _ model.BillingPeriod, _ error) error {
	n.mu.Lock()
	n.payer = append(n.payer, payerAccountID)
	n.mu.Unlock()
	return nil
}

func TestIngestionRun(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	store := db.Store()
	for _, id := range []string{"123456789012", "210987654321"} {
		if err := store.PayerAccounts.Create(ctx, &model.PayerAccount{AccountID: id, AccountName: id, Status: model.PayerAccountRegistered}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.UsageAccounts.Create(ctx, &model.UsageAccount{
		AccountID: "111111111111", PayerAccountID: "123456789012", Status: model.UsageAccountRegistered,
		ResellerDiscount: decimal.NewFromInt(10), CustomerDiscount: decimal.NewFromInt(5),
		Rebate: model.DefaultRebateConfig(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.ExchangeRates.Create(ctx, &model.ExchangeRateConfig{
		PayerAccountID: "123456789012", BillingPeriod: "2024-05", ExchangeRate: decimal.RequireFromString("0.9"),
	}); err != nil {
		t.Fatal(err)
	}

	source := &fakeSource{
		costs: map[string][]provider.AccountCost{
			"123456789012": {
				{UsageAccountID: "111111111111", Breakdown: model.CostBreakdown{Usage: decimal.NewFromInt(1000)}},
				{UsageAccountID: "999999999999", Breakdown: model.CostBreakdown{Usage: decimal.NewFromInt(50)}},
			},
		},
		fail: map[string]error{"210987654321": errors.New("access denied")},
	}
	rec := &events.Recorder{}
	inv := &countingInvalidator{}
	notifier := &failureNotifier{}
	svc := NewIngestionService(store, source, rec, inv, notifier, IngestConfig{Months: 1}, testLogger())
	svc.now = func() time.Time { return time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC) }

	res, err := svc.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Records != 2 || res.PayerCount != 2 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.NewAccounts) != 1 || res.NewAccounts[0] != "999999999999" {
		t.Errorf("new accounts = %v", res.NewAccounts)
	}
	if len(res.Failures) != 1 || res.Failures[0].PayerAccountID != "210987654321" {
		t.Errorf("failures = %+v", res.Failures)
	}
	if len(notifier.payer) != 1 {
		t.Errorf("failure notifications = %v", notifier.payer)
	}
	if inv.count() != 1 {
		t.Errorf("invalidations = %d, want 1", inv.count())
	}
	if got := rec.Types(); len(got) != 1 || got[0] != events.CostsIngested {
		t.Errorf("events = %v", got)
	}

	discovered, err := store.UsageAccounts.GetByID(ctx, "999999999999")
	if err != nil || discovered.Status != model.UsageAccountUnregistered {
		t.Fatalf("discovered account = %+v, %v", discovered, err)
	}

	txs, _ := store.Transactions.List(ctx, model.TransactionFilter{UsageAccountID: "111111111111"})
	if len(txs) != 1 {
		t.Fatalf("records = %d, want 1", len(txs))
	}
	tx := txs[0]
	if !tx.CustomerCost.USD.Equal(decimal.NewFromInt(950)) || !tx.SellerCost.USD.Equal(decimal.NewFromInt(900)) {
		t.Errorf("seller / customer USD = %s / %s, want 900 / 950", tx.SellerCost.USD, tx.CustomerCost.USD)
	}
	if !tx.CustomerCost.EUR.Equal(decimal.NewFromInt(855)) {
		t.Errorf("customer EUR = %s, want 855", tx.CustomerCost.EUR)
	}

	// A second run replaces rather than duplicates.
	if _, err := svc.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	txs, _ = store.Transactions.List(ctx, model.TransactionFilter{UsageAccountID: "111111111111"})
	if len(txs) != 1 {
		t.Fatalf("records after re-run = %d, want 1", len(txs))
	}
}
