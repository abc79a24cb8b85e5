package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/finopsmind/billing/internal/auth"
	"github.com/finopsmind/billing/internal/export"
	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/repository"
	"github.com/finopsmind/billing/internal/repository/memory"
	"github.com/finopsmind/billing/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServer struct {
	store   *repository.Store
	handler http.Handler
}

func newTestServer(t *testing.T, verifier *auth.Verifier) *testServer {
	t.Helper()
	logger := testLogger()
	store := memory.NewSeeded(memory.DemoFixtures("2024-06")).Store()

	reports := service.NewReportService(store, service.ReportConfig{TrendMonths: 6, AWSShare: 0.82}, logger)
	customers := service.NewCustomerService(store, nil, reports, logger)
	h := Handlers{
		Accounts:      NewAccountHandler(service.NewAccountService(store, reports, logger), logger),
		Customers:     NewCustomerHandler(customers, logger),
		Transactions:  NewTransactionHandler(service.NewTransactionService(store, customers, logger), logger),
		ExchangeRates: NewExchangeRateHandler(service.NewExchangeRateService(store, nil, reports, logger), logger),
		Reports:       NewReportHandler(reports, export.NewExporter(nil, logger), logger),
		Health:        NewHealthHandler("memory", nil),
	}
	return &testServer{
		store:   store,
		handler: NewRouter(h, RouterOptions{AllowedOrigins: []string{"*"}, Verifier: verifier}, logger),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

type apiError struct {
	Code    string            `json:"code"`
	Details map[string]string `json:"details"`
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["status"] != "healthy" || body["backend"] != "memory" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestListCustomers(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/customers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Data []model.Customer `json:"data"`
	}
	decodeBody(t, rec, &body)
	if len(body.Data) != 2 {
		t.Fatalf("expected 2 customers, got %d", len(body.Data))
	}
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("missing correlation header")
	}
}

func TestGetCustomerNotFound(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/customers/XX000", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestTransactionsFlatAndGrouped(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/transactions?payerAccountId=123456789012&startPeriod=2024-05&endPeriod=2024-06&types=dataexport", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var flat struct {
		Data []model.Transaction `json:"data"`
	}
	decodeBody(t, rec, &flat)
	// two usage accounts for two months
	if len(flat.Data) != 4 {
		t.Fatalf("expected 4 records, got %d", len(flat.Data))
	}

	rec = s.do(t, http.MethodGet, "/api/v1/transactions?payerAccountId=123456789012&startPeriod=2024-05&endPeriod=2024-06&types=DATAEXPORT&grouped=true", nil)
	var grouped struct {
		Data map[string][]model.Transaction `json:"data"`
	}
	decodeBody(t, rec, &grouped)
	if len(grouped.Data) != 2 || len(grouped.Data["2024-05"]) != 2 || len(grouped.Data["2024-06"]) != 2 {
		t.Fatalf("unexpected grouped shape: %v", rec.Body.String())
	}
}

func TestTransactionsRejectsBadFilter(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/transactions?startPeriod=2024-13&limit=-1", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var e apiError
	decodeBody(t, rec, &e)
	if e.Details["startPeriod"] == "" || e.Details["limit"] == "" {
		t.Errorf("expected field details, got %v", e.Details)
	}
}

func TestCreateUsageAccountValidation(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/v1/usage-accounts", map[string]any{
		"accountId":        "555555555555",
		"payerAccountId":   "123456789012",
		"resellerDiscount": 5,
		"customerDiscount": 7,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var e apiError
	decodeBody(t, rec, &e)
	if e.Code != "VALIDATION_ERROR" || e.Details["customerDiscount"] == "" {
		t.Errorf("unexpected error: %+v", e)
	}
}

func TestExchangeRateConflict(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/v1/settings/exchange-rates", map[string]any{
		"payerAccountId": "123456789012",
		"billingPeriod":  "2024-06",
		"exchangeRate":   0.95,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var e apiError
	decodeBody(t, rec, &e)
	if e.Code != "CONFIGURATION_EXISTS" || e.Details["billingPeriod"] != "2024-06" {
		t.Errorf("unexpected error: %+v", e)
	}
}

func TestApplyExchangeRate(t *testing.T) {
	s := newTestServer(t, nil)
	cfg, err := s.store.ExchangeRates.GetByPair(context.Background(), "123456789012", "2024-06")
	if err != nil {
		t.Fatalf("fixture rate: %v", err)
	}
	rec := s.do(t, http.MethodPost, "/api/v1/settings/exchange-rates/"+cfg.ID.String()+"/apply", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result model.ApplyResult
	decodeBody(t, rec, &result)
	if result.TransactionsUpdated != 2 {
		t.Errorf("expected 2 updated records, got %d", result.TransactionsUpdated)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/settings/exchange-rates/not-a-uuid/apply", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad id, got %d", rec.Code)
	}
}

func TestRecordDepositUsesCaller(t *testing.T) {
	secret := "test-secret"
	v, err := auth.NewVerifier(secret, "")
	if err != nil {
		t.Fatal(err)
	}
	s := newTestServer(t, v)
	acme, err := s.store.Customers.GetByVAT(context.Background(), "DE811111111")
	if err != nil {
		t.Fatal(err)
	}
	token, err := v.Sign(auth.Claims{Subject: "u1", Email: "finance@reseller.example", Role: auth.RoleFinance,
		Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatal(err)
	}

	rec := s.do(t, http.MethodPost, "/api/v1/customers/DE811111111/deposits", map[string]any{
		"costCenterId": acme.CostCenters[0].ID,
		"amountEur":    1500,
		"description":  "Q3 prepayment",
		"createdBy":    "someone@else.example",
	}, "Authorization", "Bearer "+token)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var d model.Deposit
	decodeBody(t, rec, &d)
	if d.CreatedBy != "finance@reseller.example" {
		t.Errorf("createdBy = %q", d.CreatedBy)
	}
}

func TestCreateTransactionFollowsDepositRules(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	credits := model.TransactionFilter{Types: []model.TransactionType{model.TransactionDeposit, model.TransactionManual}}
	before, err := s.store.Transactions.List(ctx, credits)
	if err != nil {
		t.Fatal(err)
	}

	rejected := []struct {
		name string
		body map[string]any
	}{
		{"both targets, no description", map[string]any{
			"transactionType": "DEPOSIT", "billingPeriod": "2019-01", "value": 100,
			"costCenterId": "6f1c3d4e-0000-4000-8000-00000000beef", "usageAccountId": "not-an-account",
		}},
		{"unknown cost center", map[string]any{
			"transactionType": "DEPOSIT", "value": 100, "description": "x",
			"costCenterId": "6f1c3d4e-0000-4000-8000-00000000beef",
		}},
		{"unassigned usage account", map[string]any{
			"transactionType": "MANUAL", "value": 100, "description": "x", "usageAccountId": "999999999999",
		}},
		{"cost record", map[string]any{
			"transactionType": "DATAEXPORT", "billingPeriod": "2024-06",
			"payerAccountId": "123456789012", "usageAccountId": "111111111111",
		}},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/transactions", tt.body)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
	after, _ := s.store.Transactions.List(ctx, credits)
	if len(after) != len(before) {
		t.Fatalf("rejected records were stored: %d before, %d after", len(before), len(after))
	}

	rec := s.do(t, http.MethodPost, "/api/v1/transactions", map[string]any{
		"transactionType": "MANUAL", "billingPeriod": "2019-01", "value": 50,
		"description": "goodwill credit", "usageAccountId": "111111111111", "createdBy": "someone@else.example",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var tx model.Transaction
	decodeBody(t, rec, &tx)
	if tx.TransactionType != model.TransactionManual || tx.BillingPeriod == "2019-01" || !tx.BillingPeriod.Valid() {
		t.Errorf("stored %s in period %s", tx.TransactionType, tx.BillingPeriod)
	}
	if tx.CreatedBy != "anonymous@local" {
		t.Errorf("createdBy = %q", tx.CreatedBy)
	}
}

func TestWritesNeedWriterRole(t *testing.T) {
	v, err := auth.NewVerifier("test-secret", "")
	if err != nil {
		t.Fatal(err)
	}
	s := newTestServer(t, v)
	token, _ := v.Sign(auth.Claims{Subject: "u2", Email: "viewer@reseller.example", Role: auth.RoleViewer,
		Exp: time.Now().Add(time.Hour).Unix()})
	bearer := "Bearer " + token

	if rec := s.do(t, http.MethodGet, "/api/v1/payer-accounts", nil, "Authorization", bearer); rec.Code != http.StatusOK {
		t.Fatalf("viewer read: expected 200, got %d", rec.Code)
	}
	rec := s.do(t, http.MethodDelete, "/api/v1/payer-accounts/123456789012", nil, "Authorization", bearer)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer write: expected 403, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/v1/payer-accounts", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", rec.Code)
	}
}

func TestCustomerReport(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/reports/customers/DE811111111?billingPeriod=2024-06", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report model.CustomerReport
	decodeBody(t, rec, &report)
	if report.Status != model.ReportStatusOK || report.BillingPeriod != "2024-06" {
		t.Errorf("unexpected report header: %s %s", report.Status, report.BillingPeriod)
	}
	if !report.Totals.CustomerCost.EUR.IsPositive() {
		t.Error("expected a positive customer cost")
	}

	rec = s.do(t, http.MethodGet, "/api/v1/reports/customers/DE811111111?billingPeriod=June", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad period: expected 422, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/api/v1/reports/customers/XX000?billingPeriod=2024-06", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown customer: expected 404, got %d", rec.Code)
	}
}

func TestExportReport(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/reports/customers/DE811111111/export?format=csv&billingPeriod=2024-06", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "billing-DE811111111-2024-06.csv") {
		t.Errorf("content disposition = %s", cd)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/reports/customers/DE811111111/export?format=docx", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown format, got %d", rec.Code)
	}
}

func TestDashboard(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/reports/dashboard?billingPeriod=2024-06", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var d model.DashboardSummary
	decodeBody(t, rec, &d)
	if d.PayerAccountCount != 2 || d.UsageAccountCount != 4 {
		t.Errorf("unexpected counts: %d payers, %d usage accounts", d.PayerAccountCount, d.UsageAccountCount)
	}
}
