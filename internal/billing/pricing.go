package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finopsmind/billing/internal/model"
)

// PriceLineItem turns an ingested USD category breakdown of one usage
// account into a DATAEXPORT transaction.
//
// The distributor cost is the gross of every category. The seller and the
// customer each pay usage (reduced by their discount when their usage
// rebate flag is set) and tax, plus every other category whose rebate flag
// is set for that side. EUR amounts are USD times rate.
func PriceLineItem(acct model.UsageAccount, period model.BillingPeriod, usd model.CostBreakdown, rate decimal.Decimal) model.Transaction {
	distributor := usd.Gross()
	seller := sideCost(usd, acct.ResellerDiscount, acct.Rebate.Seller)
	customer := sideCost(usd, acct.CustomerDiscount, acct.Rebate.Customer)

	now := time.Now().UTC()
	return model.Transaction{
		ID:              uuid.New(),
		BillingPeriod:   period,
		PayerAccountID:  acct.PayerAccountID,
		UsageAccountID:  acct.AccountID,
		TransactionType: model.TransactionDataExport,
		DataType:        model.DataTypeExport,
		DistributorCost: model.CostPair{USD: distributor, EUR: Convert(distributor, rate)},
		SellerCost:      model.CostPair{USD: seller, EUR: Convert(seller, rate)},
		CustomerCost:    model.CostPair{USD: customer, EUR: Convert(customer, rate)},
		CostBreakdown:   usd,
		ExchangeRate:    rate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func sideCost(b model.CostBreakdown, discountPct decimal.Decimal, flags model.RebateFlags) decimal.Decimal {
	usage := b.Usage
	if flags.Usage && !discountPct.IsZero() {
		usage = usage.Mul(hundred.Sub(discountPct)).Div(hundred)
	}
	total := usage.Add(b.Tax)
	if flags.Fee {
		total = total.Add(b.Fee)
	}
	if flags.Discount {
		total = total.Add(b.Discount)
	}
	if flags.Credit {
		total = total.Add(b.Credits)
	}
	if flags.Adjustment {
		total = total.Add(b.Adjustment)
	}
	return total
}

// AttachEntities sets the entity breakdown of tx by scaling the per-entity
// gross cost to the record's seller cost. Nothing is attached when the
// entity gross is zero.
func AttachEntities(tx *model.Transaction, gross model.EntityBreakdown) {
	total := gross.AWS.Add(gross.Marketplace)
	if total.IsZero() {
		return
	}
	seller := tx.SellerCost.USD
	aws := seller.Mul(gross.AWS).Div(total).Round(6)
	tx.EntityBreakdown = &model.EntityBreakdown{
		AWS:         aws,
		Marketplace: seller.Sub(aws),
	}
}
