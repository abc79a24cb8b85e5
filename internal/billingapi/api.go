package billingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/finopsmind/billing/internal/model"
)

type listEnvelope[T any] struct {
	Data []T `json:"data"`
}

// TransactionsPayload is the data member of a transaction listing. Older
// servers group records by billing period; newer ones return a flat list.
// Both decode to the same records.
type TransactionsPayload struct {
	Records []model.Transaction
	// Grouped is true when the server used the period-keyed shape.
	Grouped bool
}

func (p *TransactionsPayload) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		p.Records, p.Grouped = nil, false
		return nil
	case b[0] == '[':
		p.Grouped = false
		return json.Unmarshal(b, &p.Records)
	case b[0] == '{':
		var groups map[model.BillingPeriod][]model.Transaction
		if err := json.Unmarshal(b, &groups); err != nil {
			return err
		}
		periods := make([]model.BillingPeriod, 0, len(groups))
		for k := range groups {
			periods = append(periods, k)
		}
		sort.Slice(periods, func(i, j int) bool { return periods[i] < periods[j] })
		p.Records, p.Grouped = nil, true
		for _, period := range periods {
			for _, tx := range groups[period] {
				if tx.BillingPeriod == "" {
					tx.BillingPeriod = period
				}
				p.Records = append(p.Records, tx)
			}
		}
		return nil
	}
	return fmt.Errorf("unexpected transactions payload starting with %q", b[0])
}

// ListPayerAccounts returns every payer account.
func (c *Client) ListPayerAccounts(ctx context.Context) ([]model.PayerAccount, error) {
	var env listEnvelope[model.PayerAccount]
	if err := c.do(ctx, http.MethodGet, "/payer-accounts", nil, nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *Client) GetPayerAccount(ctx context.Context, id string) (*model.PayerAccount, error) {
	var a model.PayerAccount
	if err := c.do(ctx, http.MethodGet, "/payer-accounts/"+url.PathEscape(id), nil, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) CreatePayerAccount(ctx context.Context, a *model.PayerAccount) error {
	return c.do(ctx, http.MethodPost, "/payer-accounts", nil, a, a)
}

func (c *Client) UpdatePayerAccount(ctx context.Context, a *model.PayerAccount) error {
	return c.do(ctx, http.MethodPut, "/payer-accounts/"+url.PathEscape(a.AccountID), nil, a, a)
}

func (c *Client) DeletePayerAccount(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/payer-accounts/"+url.PathEscape(id), nil, nil, nil)
}

// ListUsageAccounts returns the usage accounts of payerAccountID, or all
// when it is empty.
func (c *Client) ListUsageAccounts(ctx context.Context, payerAccountID string) ([]model.UsageAccount, error) {
	var q url.Values
	if payerAccountID != "" {
		q = url.Values{"payerAccountId": {payerAccountID}}
	}
	var env listEnvelope[model.UsageAccount]
	if err := c.do(ctx, http.MethodGet, "/usage-accounts", q, nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *Client) GetUsageAccount(ctx context.Context, id string) (*model.UsageAccount, error) {
	var a model.UsageAccount
	if err := c.do(ctx, http.MethodGet, "/usage-accounts/"+url.PathEscape(id), nil, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) CreateUsageAccount(ctx context.Context, a *model.UsageAccount) error {
	return c.do(ctx, http.MethodPost, "/usage-accounts", nil, a, a)
}

func (c *Client) UpdateUsageAccount(ctx context.Context, a *model.UsageAccount) error {
	return c.do(ctx, http.MethodPut, "/usage-accounts/"+url.PathEscape(a.AccountID), nil, a, a)
}

func (c *Client) DeleteUsageAccount(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/usage-accounts/"+url.PathEscape(id), nil, nil, nil)
}

// ListCustomers returns every customer with its cost centers.
func (c *Client) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	var env listEnvelope[model.Customer]
	if err := c.do(ctx, http.MethodGet, "/customers", nil, nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *Client) GetCustomer(ctx context.Context, vat string) (*model.Customer, error) {
	var cust model.Customer
	if err := c.do(ctx, http.MethodGet, "/customers/"+url.PathEscape(vat), nil, nil, &cust); err != nil {
		return nil, err
	}
	return &cust, nil
}

func (c *Client) CreateCustomer(ctx context.Context, cust *model.Customer) error {
	return c.do(ctx, http.MethodPost, "/customers", nil, cust, cust)
}

func (c *Client) UpdateCustomer(ctx context.Context, cust *model.Customer) error {
	return c.do(ctx, http.MethodPut, "/customers/"+url.PathEscape(cust.VATNumber), nil, cust, cust)
}

func (c *Client) CreateCostCenter(ctx context.Context, cc *model.CostCenter) error {
	return c.do(ctx, http.MethodPost, "/customers/"+url.PathEscape(cc.CustomerVAT)+"/cost-centers", nil, cc, cc)
}

func (c *Client) UpdateCostCenter(ctx context.Context, cc *model.CostCenter) error {
	path := fmt.Sprintf("/customers/%s/cost-centers/%s", url.PathEscape(cc.CustomerVAT), cc.ID)
	return c.do(ctx, http.MethodPut, path, nil, cc, cc)
}

func (c *Client) DeleteCostCenter(ctx context.Context, vat string, id uuid.UUID) error {
	path := fmt.Sprintf("/customers/%s/cost-centers/%s", url.PathEscape(vat), id)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// ListTransactions returns the records matching f, whichever listing shape
// the server answers with.
func (c *Client) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	var env struct {
		Data TransactionsPayload `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/transactions", filterQuery(f), nil, &env); err != nil {
		return nil, err
	}
	return env.Data.Records, nil
}

func (c *Client) CreateTransaction(ctx context.Context, tx *model.Transaction) error {
	return c.do(ctx, http.MethodPost, "/transactions", nil, tx, tx)
}

func filterQuery(f model.TransactionFilter) url.Values {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("startPeriod", string(f.StartPeriod))
	set("endPeriod", string(f.EndPeriod))
	set("payerAccountId", f.PayerAccountID)
	set("usageAccountId", f.UsageAccountID)
	if f.CostCenterID != nil {
		set("costCenterId", f.CostCenterID.String())
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		set("types", strings.Join(types, ","))
	}
	set("sortBy", f.SortBy)
	set("sortOrder", f.SortOrder)
	if f.Limit > 0 {
		set("limit", strconv.Itoa(f.Limit))
	}
	return q
}

func (c *Client) ListExchangeRates(ctx context.Context) ([]model.ExchangeRateConfig, error) {
	var env listEnvelope[model.ExchangeRateConfig]
	if err := c.do(ctx, http.MethodGet, "/settings/exchange-rates", nil, nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *Client) GetExchangeRate(ctx context.Context, id uuid.UUID) (*model.ExchangeRateConfig, error) {
	var cfg model.ExchangeRateConfig
	if err := c.do(ctx, http.MethodGet, "/settings/exchange-rates/"+id.String(), nil, nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Client) CreateExchangeRate(ctx context.Context, cfg *model.ExchangeRateConfig) error {
	return c.do(ctx, http.MethodPost, "/settings/exchange-rates", nil, cfg, cfg)
}

func (c *Client) UpdateExchangeRate(ctx context.Context, cfg *model.ExchangeRateConfig) error {
	return c.do(ctx, http.MethodPut, "/settings/exchange-rates/"+cfg.ID.String(), nil, cfg, cfg)
}

func (c *Client) DeleteExchangeRate(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/settings/exchange-rates/"+id.String(), nil, nil, nil)
}

// ApplyExchangeRate asks the server to re-price the stored costs of a rate.
func (c *Client) ApplyExchangeRate(ctx context.Context, id uuid.UUID) (model.ApplyResult, error) {
	var res model.ApplyResult
	err := c.do(ctx, http.MethodPost, "/settings/exchange-rates/"+id.String()+"/apply", nil, nil, &res)
	return res, err
}

func periodQuery(period model.BillingPeriod) url.Values {
	if period == "" {
		return nil
	}
	return url.Values{"billingPeriod": {string(period)}}
}

// CustomerReport fetches the server-side report of one customer.
func (c *Client) CustomerReport(ctx context.Context, vat string, period model.BillingPeriod) (model.CustomerReport, error) {
	var r model.CustomerReport
	err := c.do(ctx, http.MethodGet, "/reports/customers/"+url.PathEscape(vat), periodQuery(period), nil, &r)
	return r, err
}

// Dashboard fetches the cross-customer summary.
func (c *Client) Dashboard(ctx context.Context, period model.BillingPeriod) (model.DashboardSummary, error) {
	var d model.DashboardSummary
	err := c.do(ctx, http.MethodGet, "/reports/dashboard", periodQuery(period), nil, &d)
	return d, err
}

// IsUnavailable reports whether err means the upstream could not be
// reached or answered with a server error.
func IsUnavailable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode >= 500
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
