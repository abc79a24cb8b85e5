package billing

import (
	"github.com/shopspring/decimal"

	"github.com/finopsmind/billing/internal/model"
)

// SumBreakdown totals the cost categories of costs.
func SumBreakdown(costs []model.Transaction) model.CostBreakdown {
	var total model.CostBreakdown
	for _, tx := range costs {
		total = total.Add(tx.CostBreakdown)
	}
	return total
}

// CategoryShares expresses each category as a percentage of the gross.
// Every percentage is 0 when the gross is 0.
func CategoryShares(b model.CostBreakdown) []model.CategoryShare {
	gross := b.Gross()
	cats := b.Categories()
	out := make([]model.CategoryShare, 0, len(cats))
	for _, c := range cats {
		out = append(out, model.CategoryShare{
			Category: c.Category,
			Amount:   c.Amount,
			Percent:  percentOf(c.Amount, gross),
		})
	}
	return out
}

func percentOf(part, whole decimal.Decimal) float64 {
	if whole.IsZero() {
		return 0
	}
	return part.Div(whole).Mul(hundred).Round(2).InexactFloat64()
}
