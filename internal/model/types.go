// Package model contains the billing domain entities and the view models
// produced by the aggregation engine.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// API consumers expect monetary values as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// BillingPeriod is a calendar month identifier in YYYY-MM form.
type BillingPeriod string

const billingPeriodLayout = "2006-01"

// ParseBillingPeriod validates s and returns it as a BillingPeriod.
func ParseBillingPeriod(s string) (BillingPeriod, error) {
	if len(s) != len(billingPeriodLayout) {
		return "", fmt.Errorf("invalid billing period %q: expected YYYY-MM", s)
	}
	if _, err := time.Parse(billingPeriodLayout, s); err != nil {
		return "", fmt.Errorf("invalid billing period %q: expected YYYY-MM", s)
	}
	return BillingPeriod(s), nil
}

// PeriodOf returns the billing period containing t.
func PeriodOf(t time.Time) BillingPeriod {
	return BillingPeriod(t.UTC().Format(billingPeriodLayout))
}

// Valid reports whether p is a well-formed, zero-padded YYYY-MM value.
func (p BillingPeriod) Valid() bool {
	_, err := ParseBillingPeriod(string(p))
	return err == nil
}

// Start returns the first instant of the period in UTC.
func (p BillingPeriod) Start() time.Time {
	t, _ := time.Parse(billingPeriodLayout, string(p))
	return t
}

// Next returns the following month.
func (p BillingPeriod) Next() BillingPeriod {
	return PeriodOf(p.Start().AddDate(0, 1, 0))
}

// Prev returns the preceding month.
func (p BillingPeriod) Prev() BillingPeriod {
	return PeriodOf(p.Start().AddDate(0, -1, 0))
}

func (p BillingPeriod) String() string {
	return string(p)
}

// PeriodWindow returns n consecutive periods ending at end, oldest first.
func PeriodWindow(end BillingPeriod, n int) []BillingPeriod {
	if n <= 0 || !end.Valid() {
		return nil
	}
	window := make([]BillingPeriod, n)
	p := end
	for i := n - 1; i >= 0; i-- {
		window[i] = p
		p = p.Prev()
	}
	return window
}

// CostPair holds the same cost in USD and in EUR.
type CostPair struct {
	USD decimal.Decimal `json:"usd"`
	EUR decimal.Decimal `json:"eur"`
}

// Add returns the element-wise sum of c and o.
func (c CostPair) Add(o CostPair) CostPair {
	return CostPair{USD: c.USD.Add(o.USD), EUR: c.EUR.Add(o.EUR)}
}

// Sub returns the element-wise difference c - o.
func (c CostPair) Sub(o CostPair) CostPair {
	return CostPair{USD: c.USD.Sub(o.USD), EUR: c.EUR.Sub(o.EUR)}
}

// IsZero reports whether both amounts are zero.
func (c CostPair) IsZero() bool {
	return c.USD.IsZero() && c.EUR.IsZero()
}
