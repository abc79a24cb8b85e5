package billingapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finopsmind/billing/internal/config"
	"github.com/finopsmind/billing/internal/correlation"
	"github.com/finopsmind/billing/internal/export"
	"github.com/finopsmind/billing/internal/handler"
	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/repository"
	"github.com/finopsmind/billing/internal/repository/memory"
	"github.com/finopsmind/billing/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(url string, maxRetries, maxFailures int) *Client {
	c := NewClient(config.UpstreamConfig{
		URL:        url,
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
		CircuitBreaker: config.CircuitBreakerConfig{
			MaxFailures:  maxFailures,
			ResetTimeout: time.Minute,
		},
	}, testLogger())
	c.backoff = time.Millisecond
	return c
}

func TestTransactionsPayloadShapes(t *testing.T) {
	flat := `{"data":[
		{"id":"6f1c3d4e-0000-4000-8000-000000000001","billingPeriod":"2024-05","transactionType":"DATAEXPORT"},
		{"id":"6f1c3d4e-0000-4000-8000-000000000002","billingPeriod":"2024-06","transactionType":"DATAEXPORT"}
	]}`
	grouped := `{"data":{
		"2024-06":[{"id":"6f1c3d4e-0000-4000-8000-000000000002","transactionType":"DATAEXPORT"}],
		"2024-05":[{"id":"6f1c3d4e-0000-4000-8000-000000000001","billingPeriod":"2024-05","transactionType":"DATAEXPORT"}]
	}}`

	decode := func(raw string) TransactionsPayload {
		t.Helper()
		var env struct {
			Data TransactionsPayload `json:"data"`
		}
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		return env.Data
	}

	a, b := decode(flat), decode(grouped)
	if a.Grouped || !b.Grouped {
		t.Fatalf("shape detection wrong: flat=%v grouped=%v", a.Grouped, b.Grouped)
	}
	if len(a.Records) != 2 || len(b.Records) != 2 {
		t.Fatalf("expected 2 records each, got %d and %d", len(a.Records), len(b.Records))
	}
	for i := range a.Records {
		if a.Records[i].ID != b.Records[i].ID || a.Records[i].BillingPeriod != b.Records[i].BillingPeriod {
			t.Errorf("record %d differs: %+v vs %+v", i, a.Records[i], b.Records[i])
		}
	}

	var env struct {
		Data TransactionsPayload `json:"data"`
	}
	if err := json.Unmarshal([]byte(`{"data":"oops"}`), &env); err == nil {
		t.Error("expected an error for a string payload")
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"not found", http.StatusNotFound, `{"code":"NOT_FOUND","message":"customer not found"}`,
			func(err error) bool { return errors.Is(err, repository.ErrNotFound) }},
		{"conflict", http.StatusConflict, `{"code":"CONFIGURATION_EXISTS","message":"exists"}`,
			func(err error) bool { return errors.Is(err, repository.ErrConflict) }},
		{"validation", http.StatusUnprocessableEntity, `{"code":"VALIDATION_ERROR","details":{"accountId":"must be exactly 12 digits"}}`,
			func(err error) bool {
				var verr *model.ValidationError
				return errors.As(err, &verr) && verr.Fields["accountId"] != ""
			}},
		{"bad request", http.StatusBadRequest, `{"code":"BAD_REQUEST","message":"invalid request body"}`,
			func(err error) bool {
				var he *HTTPError
				return errors.As(err, &he) && he.Code == "BAD_REQUEST"
			}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL, 0, 5).GetCustomer(context.Background(), "DE811111111")
			if err == nil || !tt.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if got := r.Header.Get(correlation.HeaderName); got != "corr-1" {
			t.Errorf("correlation header = %q", got)
		}
		if r.URL.Path != "/api/v1/payer-accounts" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, `{"data":[{"accountId":"123456789012","accountName":"EU Reseller"}]}`)
	}))
	defer srv.Close()

	ctx := correlation.WithID(context.Background(), "corr-1")
	accounts, err := newTestClient(srv.URL, 3, 10).ListPayerAccounts(ctx)
	if err != nil {
		t.Fatalf("ListPayerAccounts: %v", err)
	}
	if len(accounts) != 1 || calls.Load() != 3 {
		t.Fatalf("got %d accounts after %d calls", len(accounts), calls.Load())
	}
}

func TestWritesAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL, 3, 10).CreatePayerAccount(context.Background(), &model.PayerAccount{AccountID: "123456789012"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls.Load() != 1 {
		t.Fatalf("POST sent %d times", calls.Load())
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0, 2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := c.Dashboard(ctx, ""); !IsUnavailable(err) {
			t.Fatalf("call %d: expected an unavailable error, got %v", i, err)
		}
	}
	if c.BreakerState() != stateOpen {
		t.Fatalf("breaker state = %s", c.BreakerState())
	}
	_, err := c.Dashboard(ctx, "")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if !errors.Is(err, repository.ErrUnavailable) {
		t.Errorf("circuit open must read as an unavailable backend: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("open breaker still sent requests: %d", calls.Load())
	}
}

// newUpstream serves the real API over the demo data set.
func newUpstream(t *testing.T) (*httptest.Server, *repository.Store) {
	t.Helper()
	logger := testLogger()
	store := memory.NewSeeded(memory.DemoFixtures("2024-06")).Store()
	reports := service.NewReportService(store, service.ReportConfig{TrendMonths: 6, AWSShare: 0.82}, logger)
	customers := service.NewCustomerService(store, nil, reports, logger)
	h := handler.Handlers{
		Accounts:      handler.NewAccountHandler(service.NewAccountService(store, reports, logger), logger),
		Customers:     handler.NewCustomerHandler(customers, logger),
		Transactions:  handler.NewTransactionHandler(service.NewTransactionService(store, customers, logger), logger),
		ExchangeRates: handler.NewExchangeRateHandler(service.NewExchangeRateService(store, nil, reports, logger), logger),
		Reports:       handler.NewReportHandler(reports, export.NewExporter(nil, logger), logger),
		Health:        handler.NewHealthHandler("memory", nil),
	}
	srv := httptest.NewServer(handler.NewRouter(h, handler.RouterOptions{}, logger))
	t.Cleanup(srv.Close)
	return srv, store
}

func TestRemoteStoreMatchesLocalReport(t *testing.T) {
	srv, local := newUpstream(t)
	ctx := context.Background()
	cfg := service.ReportConfig{TrendMonths: 6, AWSShare: 0.82}

	remote := newTestClient(srv.URL, 1, 5).Store()
	got, err := service.NewReportService(remote, cfg, testLogger()).CustomerReport(ctx, "IT09876543210", "2024-06")
	if err != nil {
		t.Fatalf("remote report: %v", err)
	}
	want, err := service.NewReportService(local, cfg, testLogger()).CustomerReport(ctx, "IT09876543210", "2024-06")
	if err != nil {
		t.Fatalf("local report: %v", err)
	}

	if got.Status != model.ReportStatusOK {
		t.Fatalf("remote report degraded")
	}
	if !got.Totals.CustomerCost.EUR.Equal(want.Totals.CustomerCost.EUR) ||
		!got.Totals.Margin.USD.Equal(want.Totals.Margin.USD) ||
		!got.Totals.Deposits.Equal(want.Totals.Deposits) {
		t.Errorf("totals differ:\nremote %+v\nlocal  %+v", got.Totals, want.Totals)
	}
	if len(got.Trend) != len(want.Trend) {
		t.Errorf("trend length %d, want %d", len(got.Trend), len(want.Trend))
	}
}

func TestRemoteStoreLookups(t *testing.T) {
	srv, _ := newUpstream(t)
	ctx := context.Background()
	store := newTestClient(srv.URL, 0, 5).Store()

	owner, err := store.Customers.CostCenterOwner(ctx, "222222222222")
	if err != nil {
		t.Fatalf("CostCenterOwner: %v", err)
	}
	if owner.Name != "Development" || owner.CustomerVAT != "DE811111111" {
		t.Errorf("owner = %+v", owner)
	}
	if _, err := store.Customers.CostCenterOwner(ctx, "999999999999"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	rate, err := store.ExchangeRates.GetByPair(ctx, "210987654321", "2024-04")
	if err != nil {
		t.Fatalf("GetByPair: %v", err)
	}
	byID, err := store.ExchangeRates.GetByID(ctx, rate.ID)
	if err != nil || byID.ID != rate.ID {
		t.Fatalf("GetByID: %v", err)
	}

	txs, err := store.Transactions.List(ctx, model.TransactionFilter{
		UsageAccountID: "111111111111", SortBy: model.SortByBillingPeriod, SortOrder: model.SortAsc,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(txs) != 6 || txs[0].BillingPeriod != "2024-01" {
		t.Fatalf("unexpected listing: %d records, first %s", len(txs), txs[0].BillingPeriod)
	}

	if err := store.Transactions.UpdateBatch(ctx, txs); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}

func TestRemoteApplyRunsUpstream(t *testing.T) {
	srv, local := newUpstream(t)
	ctx := context.Background()
	remote := newTestClient(srv.URL, 0, 5).Store()

	cfg, err := local.ExchangeRates.GetByPair(ctx, "123456789012", "2024-06")
	if err != nil {
		t.Fatalf("GetByPair: %v", err)
	}
	cfg.ExchangeRate = decimal.RequireFromString("1.25")
	if err := local.ExchangeRates.Update(ctx, cfg); err != nil {
		t.Fatalf("Update: %v", err)
	}

	res, err := service.NewExchangeRateService(remote, nil, nil, testLogger()).Apply(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.TransactionsUpdated != 2 {
		t.Fatalf("updated = %d, want 2", res.TransactionsUpdated)
	}

	txs, err := local.Transactions.List(ctx, model.TransactionFilter{
		PayerAccountID: "123456789012", StartPeriod: "2024-06", EndPeriod: "2024-06",
		Types: []model.TransactionType{model.TransactionDataExport},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, tx := range txs {
		if !tx.ExchangeRate.Equal(cfg.ExchangeRate) {
			t.Errorf("%s kept rate %s upstream", tx.UsageAccountID, tx.ExchangeRate)
		}
	}
}
