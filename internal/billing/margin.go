package billing

import (
	"github.com/shopspring/decimal"

	"github.com/finopsmind/billing/internal/model"
)

// Margin is what the reseller keeps on one cost record.
func Margin(tx model.Transaction) model.CostPair {
	return tx.CustomerCost.Sub(tx.SellerCost)
}

// TotalMargin sums Margin over costs.
func TotalMargin(costs []model.Transaction) model.CostPair {
	var total model.CostPair
	for _, tx := range costs {
		total = total.Add(Margin(tx))
	}
	return total
}

// DefaultAWSShare is the fallback AWS portion of seller cost when no
// entity-level data exists. It is a heuristic, not a measured ratio.
const DefaultAWSShare = 0.82

// SplitEstimator divides seller cost between AWS and Marketplace.
type SplitEstimator struct {
	// AWSShare is applied to records without an entity breakdown. Values
	// outside (0, 1) fall back to DefaultAWSShare.
	AWSShare float64
}

func (e SplitEstimator) share() float64 {
	if e.AWSShare <= 0 || e.AWSShare >= 1 {
		return DefaultAWSShare
	}
	return e.AWSShare
}

// Split returns the AWS and Marketplace portions of the seller cost (USD)
// of costs. Records with a non-zero entity breakdown contribute their
// measured amounts; the seller cost of every other record is divided by the
// configured share, which marks the result estimated. AWS plus Marketplace
// equals the measured amounts plus the estimated seller cost.
func (e SplitEstimator) Split(costs []model.Transaction) model.MarketplaceSplit {
	var measured model.EntityBreakdown
	var unmeasured decimal.Decimal
	estimated := false
	for _, tx := range costs {
		if tx.EntityBreakdown != nil && !tx.EntityBreakdown.IsZero() {
			measured.AWS = measured.AWS.Add(tx.EntityBreakdown.AWS)
			measured.Marketplace = measured.Marketplace.Add(tx.EntityBreakdown.Marketplace)
			continue
		}
		unmeasured = unmeasured.Add(tx.SellerCost.USD)
		estimated = true
	}
	if !estimated {
		return model.MarketplaceSplit{AWS: measured.AWS, Marketplace: measured.Marketplace}
	}

	share := e.share()
	aws := unmeasured.Mul(decimal.NewFromFloat(share))
	return model.MarketplaceSplit{
		AWS:         measured.AWS.Add(aws),
		Marketplace: measured.Marketplace.Add(unmeasured.Sub(aws)),
		Estimated:   true,
		AWSShare:    share,
	}
}
