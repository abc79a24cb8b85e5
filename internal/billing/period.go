package billing

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/finopsmind/billing/internal/model"
)

// Order is the direction periods are returned in.
type Order int

const (
	// Ascending suits time-series charts.
	Ascending Order = iota
	// Descending suits most-recent-first lists.
	Descending
)

// AggregateByPeriod folds costs and deposits into one accumulator per
// billing period.
//
// When window is non-empty the accumulators are seeded with it, so months
// without records still appear zero-filled, and records outside the window
// are dropped. Without a window the periods are taken from the data. Records
// with a missing or malformed period are skipped and counted.
func AggregateByPeriod(part Partition, window []model.BillingPeriod, order Order) ([]model.PeriodTotals, model.DataQuality) {
	var q model.DataQuality
	acc := make(map[model.BillingPeriod]*model.PeriodTotals, len(window))
	for _, p := range window {
		acc[p] = &model.PeriodTotals{BillingPeriod: p}
	}
	seeded := len(window) > 0

	slot := func(p model.BillingPeriod) *model.PeriodTotals {
		if !p.Valid() {
			q.MissingPeriod++
			return nil
		}
		t, ok := acc[p]
		if !ok {
			if seeded {
				q.OutsideWindow++
				return nil
			}
			t = &model.PeriodTotals{BillingPeriod: p}
			acc[p] = t
		}
		return t
	}

	for _, tx := range part.Costs {
		t := slot(tx.BillingPeriod)
		if t == nil {
			continue
		}
		t.DistributorCost = t.DistributorCost.Add(tx.DistributorCost)
		t.SellerCost = t.SellerCost.Add(tx.SellerCost)
		t.CustomerCost = t.CustomerCost.Add(tx.CustomerCost)
		t.Margin = t.Margin.Add(Margin(tx))
		t.CostRecords++
	}
	for _, tx := range part.Deposits {
		t := slot(tx.BillingPeriod)
		if t == nil {
			continue
		}
		t.Deposits = t.Deposits.Add(tx.Value)
		t.DepositRecords++
	}

	out := make([]model.PeriodTotals, 0, len(acc))
	for _, t := range acc {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if order == Descending {
			return out[i].BillingPeriod > out[j].BillingPeriod
		}
		return out[i].BillingPeriod < out[j].BillingPeriod
	})
	return out, q
}

// Field extracts one numeric value from a transaction.
type Field func(model.Transaction) decimal.Decimal

// Common fields for SumByPeriod.
var (
	SellerUSD   Field = func(tx model.Transaction) decimal.Decimal { return tx.SellerCost.USD }
	SellerEUR   Field = func(tx model.Transaction) decimal.Decimal { return tx.SellerCost.EUR }
	CustomerUSD Field = func(tx model.Transaction) decimal.Decimal { return tx.CustomerCost.USD }
	CustomerEUR Field = func(tx model.Transaction) decimal.Decimal { return tx.CustomerCost.EUR }
	DepositEUR  Field = func(tx model.Transaction) decimal.Decimal { return tx.Value }
)

// SumByPeriod sums field over txs per billing period. Records without a
// valid period are ignored.
func SumByPeriod(txs []model.Transaction, field Field) map[model.BillingPeriod]decimal.Decimal {
	out := make(map[model.BillingPeriod]decimal.Decimal)
	for _, tx := range txs {
		if !tx.BillingPeriod.Valid() {
			continue
		}
		out[tx.BillingPeriod] = out[tx.BillingPeriod].Add(field(tx))
	}
	return out
}

// TotalFor returns the totals of period, or a zero value.
func TotalFor(periods []model.PeriodTotals, period model.BillingPeriod) model.PeriodTotals {
	for _, t := range periods {
		if t.BillingPeriod == period {
			return t
		}
	}
	return model.PeriodTotals{BillingPeriod: period}
}
