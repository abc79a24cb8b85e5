// Package billing is the aggregation engine behind reports and dashboards.
//
// Every function in this package is pure: it reads transaction, account and
// customer snapshots and returns view models without touching storage. The
// engine is lenient. Malformed records contribute zero and are counted in a
// model.DataQuality value instead of failing the computation.
package billing

import (
	"github.com/finopsmind/billing/internal/model"
)

// RecordKind is the bucket a transaction falls into before aggregation.
type RecordKind int

const (
	// KindExcluded marks records with a missing or unknown transaction type.
	KindExcluded RecordKind = iota
	KindCost
	KindDeposit
)

func (k RecordKind) String() string {
	switch k {
	case KindCost:
		return "cost"
	case KindDeposit:
		return "deposit"
	default:
		return "excluded"
	}
}

// Kind classifies a single transaction. Only DATAEXPORT records are costs;
// MANUAL and DEPOSIT records are deposits; everything else is excluded so it
// can never leak into either total.
func Kind(tx model.Transaction) RecordKind {
	switch tx.TransactionType {
	case model.TransactionDataExport:
		return KindCost
	case model.TransactionManual, model.TransactionDeposit:
		return KindDeposit
	default:
		return KindExcluded
	}
}

// Partition is a transaction list split into disjoint, order-preserving
// subsets.
type Partition struct {
	Costs    []model.Transaction
	Deposits []model.Transaction
	Excluded []model.Transaction
}

// Classify splits txs into costs, deposits and excluded records.
func Classify(txs []model.Transaction) Partition {
	var p Partition
	for _, tx := range txs {
		switch Kind(tx) {
		case KindCost:
			p.Costs = append(p.Costs, tx)
		case KindDeposit:
			p.Deposits = append(p.Deposits, tx)
		default:
			p.Excluded = append(p.Excluded, tx)
		}
	}
	return p
}

// Len returns the number of classified records.
func (p Partition) Len() int {
	return len(p.Costs) + len(p.Deposits) + len(p.Excluded)
}

// Quality counts the excluded records by their raw type.
func (p Partition) Quality() model.DataQuality {
	var q model.DataQuality
	for _, tx := range p.Excluded {
		if q.ExcludedTypes == nil {
			q.ExcludedTypes = make(map[string]int)
		}
		t := string(tx.TransactionType)
		if t == "" {
			t = "<missing>"
		}
		q.ExcludedTypes[t]++
	}
	return q
}

// ForPeriod keeps the costs and deposits of a single billing period.
func (p Partition) ForPeriod(period model.BillingPeriod) Partition {
	keep := func(tx model.Transaction) bool { return tx.BillingPeriod == period }
	return p.filter(keep)
}

// Through drops records dated after period. Records without a valid period
// are kept so they still count towards fund balances.
func (p Partition) Through(period model.BillingPeriod) Partition {
	keep := func(tx model.Transaction) bool {
		return !tx.BillingPeriod.Valid() || tx.BillingPeriod <= period
	}
	return p.filter(keep)
}

func (p Partition) filter(keep func(model.Transaction) bool) Partition {
	var out Partition
	for _, tx := range p.Costs {
		if keep(tx) {
			out.Costs = append(out.Costs, tx)
		}
	}
	for _, tx := range p.Deposits {
		if keep(tx) {
			out.Deposits = append(out.Deposits, tx)
		}
	}
	out.Excluded = p.Excluded
	return out
}
