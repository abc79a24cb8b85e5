package billing

import (
	"github.com/shopspring/decimal"

	"github.com/finopsmind/billing/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Reconcile compares deposit against cost. Utilization is capped to
// [0, 100]; going over budget is reported through IsOverBudget only.
func Reconcile(deposit, cost decimal.Decimal) model.FundBalance {
	return model.FundBalance{
		TotalDeposit:       deposit,
		TotalCost:          cost,
		AvailableFund:      deposit.Sub(cost),
		UtilizationPercent: utilization(deposit, cost),
		IsOverBudget:       cost.GreaterThan(deposit),
	}
}

func utilization(deposit, cost decimal.Decimal) float64 {
	if deposit.IsZero() {
		return 0
	}
	pct := cost.Div(deposit).Mul(hundred)
	switch {
	case pct.IsNegative():
		return 0
	case pct.GreaterThan(hundred):
		return 100
	}
	return pct.Round(2).InexactFloat64()
}

// AccountBalances reconciles every usage account seen in part, in first-seen
// order (costs first, then deposits). Costs are customer cost in EUR;
// deposits are the ones booked directly on the account.
func AccountBalances(part Partition) []model.FundBalance {
	var order []string
	cost := make(map[string]decimal.Decimal)
	deposit := make(map[string]decimal.Decimal)
	seen := func(id string) {
		if _, ok := cost[id]; ok {
			return
		}
		if _, ok := deposit[id]; ok {
			return
		}
		order = append(order, id)
	}

	for _, tx := range part.Costs {
		if tx.UsageAccountID == "" {
			continue
		}
		seen(tx.UsageAccountID)
		cost[tx.UsageAccountID] = cost[tx.UsageAccountID].Add(tx.CustomerCost.EUR)
	}
	for _, tx := range part.Deposits {
		if tx.UsageAccountID == "" {
			continue
		}
		seen(tx.UsageAccountID)
		deposit[tx.UsageAccountID] = deposit[tx.UsageAccountID].Add(tx.Value)
	}

	out := make([]model.FundBalance, 0, len(order))
	for _, id := range order {
		b := Reconcile(deposit[id], cost[id])
		b.Key = id
		out = append(out, b)
	}
	return out
}

// CostCenterBalances reconciles each cost center of customer, in the
// customer's order. Deposits are matched on costCenterId and costs through
// the cost center's own usage accounts. Nothing is inherited from accounts.
func CostCenterBalances(customer model.Customer, part Partition) []model.FundBalance {
	lookup := NewCostCenterLookup(customer)
	cost := make(map[string]decimal.Decimal)
	deposit := make(map[string]decimal.Decimal)

	for _, tx := range part.Costs {
		ref, ok := lookup[tx.UsageAccountID]
		if !ok {
			continue
		}
		k := ref.ID.String()
		cost[k] = cost[k].Add(tx.CustomerCost.EUR)
	}
	for _, tx := range part.Deposits {
		if tx.CostCenterID == nil {
			continue
		}
		k := tx.CostCenterID.String()
		deposit[k] = deposit[k].Add(tx.Value)
	}

	out := make([]model.FundBalance, 0, len(customer.CostCenters))
	for _, cc := range customer.CostCenters {
		k := cc.ID.String()
		b := Reconcile(deposit[k], cost[k])
		b.Key = k
		b.Name = cc.Name
		out = append(out, b)
	}
	return out
}
