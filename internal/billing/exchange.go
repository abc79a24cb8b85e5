package billing

import (
	"github.com/shopspring/decimal"

	"github.com/finopsmind/billing/internal/model"
)

// Convert turns a USD amount into EUR with a USD to EUR multiplier.
func Convert(usd, rate decimal.Decimal) decimal.Decimal {
	return usd.Mul(rate)
}

// Recalculate applies cfg to every cost record of its payer account and
// billing period. It returns a copy of txs with the EUR amounts and the
// exchange rate replaced on the matching records, and how many matched.
// Deposits and non-matching records are returned unchanged.
func Recalculate(txs []model.Transaction, cfg model.ExchangeRateConfig) ([]model.Transaction, int) {
	out := make([]model.Transaction, len(txs))
	copy(out, txs)
	n := 0
	for i := range out {
		tx := &out[i]
		if Kind(*tx) != KindCost || !cfg.Matches(*tx) {
			continue
		}
		tx.DistributorCost.EUR = Convert(tx.DistributorCost.USD, cfg.ExchangeRate)
		tx.SellerCost.EUR = Convert(tx.SellerCost.USD, cfg.ExchangeRate)
		tx.CustomerCost.EUR = Convert(tx.CustomerCost.USD, cfg.ExchangeRate)
		tx.ExchangeRate = cfg.ExchangeRate
		n++
	}
	return out, n
}

// Affected returns the records Recalculate would change.
func Affected(txs []model.Transaction, cfg model.ExchangeRateConfig) []model.Transaction {
	var out []model.Transaction
	for _, tx := range txs {
		if Kind(tx) == KindCost && cfg.Matches(tx) {
			out = append(out, tx)
		}
	}
	return out
}
