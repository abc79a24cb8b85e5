package billing

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finopsmind/billing/internal/model"
)

// KeyFunc derives the grouping key of a cost record. Records for which ok is
// false are left out of the grouping.
type KeyFunc func(tx model.Transaction) (key, name string, ok bool)

// ByPayerAccount groups by payer account id.
func ByPayerAccount(tx model.Transaction) (string, string, bool) {
	return tx.PayerAccountID, "", tx.PayerAccountID != ""
}

// ByUsageAccount groups by usage account id.
func ByUsageAccount(tx model.Transaction) (string, string, bool) {
	return tx.UsageAccountID, "", tx.UsageAccountID != ""
}

// CostCenterRef names the cost center owning a usage account.
type CostCenterRef struct {
	ID   uuid.UUID
	Name string
}

// CostCenterLookup maps usage account id to its cost center.
type CostCenterLookup map[string]CostCenterRef

// NewCostCenterLookup indexes the cost centers of the given customers.
func NewCostCenterLookup(customers ...model.Customer) CostCenterLookup {
	lookup := make(CostCenterLookup)
	for _, c := range customers {
		for _, cc := range c.CostCenters {
			for _, id := range cc.UsageAccountIDs {
				lookup[id] = CostCenterRef{ID: cc.ID, Name: cc.Name}
			}
		}
	}
	return lookup
}

// ByCostCenter groups by the cost center owning the record's usage account.
// Accounts absent from lookup are excluded.
func ByCostCenter(lookup CostCenterLookup) KeyFunc {
	return func(tx model.Transaction) (string, string, bool) {
		ref, ok := lookup[tx.UsageAccountID]
		if !ok {
			return "", "", false
		}
		return ref.ID.String(), ref.Name, true
	}
}

// GroupCosts sums seller cost, customer cost and margin per key. Groups are
// returned in first-seen order.
func GroupCosts(costs []model.Transaction, key KeyFunc) []model.GroupTotal {
	index := make(map[string]int)
	var out []model.GroupTotal
	for _, tx := range costs {
		k, name, ok := key(tx)
		if !ok {
			continue
		}
		i, seen := index[k]
		if !seen {
			i = len(out)
			index[k] = i
			out = append(out, model.GroupTotal{Key: k, Name: name})
		}
		g := &out[i]
		g.SellerCost = g.SellerCost.Add(tx.SellerCost)
		g.CustomerCost = g.CustomerCost.Add(tx.CustomerCost)
		g.Margin = g.Margin.Add(Margin(tx))
		g.Records++
	}
	return out
}

// Metric selects the value groups are ranked by.
type Metric func(model.GroupTotal) decimal.Decimal

// Ranking metrics for TopN.
var (
	RankSellerUSD   Metric = func(g model.GroupTotal) decimal.Decimal { return g.SellerCost.USD }
	RankCustomerEUR Metric = func(g model.GroupTotal) decimal.Decimal { return g.CustomerCost.EUR }
)

// TopN returns at most n groups sorted descending by metric. Equal values
// keep their input order. The input slice is not modified.
func TopN(groups []model.GroupTotal, n int, metric Metric) []model.GroupTotal {
	out := make([]model.GroupTotal, len(groups))
	copy(out, groups)
	sort.SliceStable(out, func(i, j int) bool {
		return metric(out[i]).GreaterThan(metric(out[j]))
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// CountUnassigned returns how many cost records reference a usage account
// that is not linked to any cost center in lookup.
func CountUnassigned(costs []model.Transaction, lookup CostCenterLookup) int {
	n := 0
	for _, tx := range costs {
		if _, ok := lookup[tx.UsageAccountID]; !ok {
			n++
		}
	}
	return n
}

// CountUnknownAccounts returns how many cost records reference a usage
// account missing from known. An empty known set disables the check.
func CountUnknownAccounts(costs []model.Transaction, known map[string]bool) int {
	if len(known) == 0 {
		return 0
	}
	n := 0
	for _, tx := range costs {
		if !known[tx.UsageAccountID] {
			n++
		}
	}
	return n
}
