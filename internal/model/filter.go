package model

import (
	"slices"
	"sort"

	"github.com/google/uuid"
)

// Transaction sort keys.
const (
	SortByBillingPeriod = "billingPeriod"
	SortByCreatedAt     = "createdAt"
	SortBySellerCost    = "sellerCost"
	SortByCustomerCost  = "customerCost"

	SortAsc  = "asc"
	SortDesc = "desc"
)

// TransactionFilter narrows transaction listings. Empty fields do not
// filter. Periods are inclusive.
type TransactionFilter struct {
	StartPeriod     BillingPeriod     `json:"startPeriod,omitempty"`
	EndPeriod       BillingPeriod     `json:"endPeriod,omitempty"`
	PayerAccountID  string            `json:"payerAccountId,omitempty"`
	UsageAccountID  string            `json:"usageAccountId,omitempty"`
	UsageAccountIDs []string          `json:"usageAccountIds,omitempty"`
	CostCenterID    *uuid.UUID        `json:"costCenterId,omitempty"`
	CostCenterIDs   []uuid.UUID       `json:"costCenterIds,omitempty"`
	Types           []TransactionType `json:"types,omitempty"`
	SortBy          string            `json:"sortBy,omitempty"`
	SortOrder       string            `json:"sortOrder,omitempty"`
	Limit           int               `json:"limit,omitempty"`
}

// Match reports whether tx passes every set criterion.
func (f TransactionFilter) Match(tx Transaction) bool {
	if f.StartPeriod != "" && tx.BillingPeriod < f.StartPeriod {
		return false
	}
	if f.EndPeriod != "" && tx.BillingPeriod > f.EndPeriod {
		return false
	}
	if f.PayerAccountID != "" && tx.PayerAccountID != f.PayerAccountID {
		return false
	}
	if f.UsageAccountID != "" && tx.UsageAccountID != f.UsageAccountID {
		return false
	}
	if len(f.UsageAccountIDs) > 0 && !slices.Contains(f.UsageAccountIDs, tx.UsageAccountID) {
		return false
	}
	if f.CostCenterID != nil && (tx.CostCenterID == nil || *tx.CostCenterID != *f.CostCenterID) {
		return false
	}
	if len(f.CostCenterIDs) > 0 && (tx.CostCenterID == nil || !slices.Contains(f.CostCenterIDs, *tx.CostCenterID)) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, tx.TransactionType) {
		return false
	}
	return true
}

// Apply filters, sorts and limits txs in memory. The input is not modified.
func (f TransactionFilter) Apply(txs []Transaction) []Transaction {
	var out []Transaction
	for _, tx := range txs {
		if f.Match(tx) {
			out = append(out, tx)
		}
	}
	SortTransactions(out, f.SortBy, f.SortOrder)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// SortTransactions orders txs in place. Unknown keys sort by billing period;
// the default order is descending.
func SortTransactions(txs []Transaction, by, order string) {
	less := func(a, b Transaction) bool {
		switch by {
		case SortByCreatedAt:
			return a.CreatedAt.Before(b.CreatedAt)
		case SortBySellerCost:
			return a.SellerCost.USD.LessThan(b.SellerCost.USD)
		case SortByCustomerCost:
			return a.CustomerCost.EUR.LessThan(b.CustomerCost.EUR)
		default:
			return a.BillingPeriod < b.BillingPeriod
		}
	}
	asc := order == SortAsc
	sort.SliceStable(txs, func(i, j int) bool {
		if asc {
			return less(txs[i], txs[j])
		}
		return less(txs[j], txs[i])
	})
}
