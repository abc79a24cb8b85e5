package billing

import (
	"time"

	"github.com/finopsmind/billing/internal/model"
)

// DefaultTrendMonths is the length of the trend window in reports.
const DefaultTrendMonths = 12

// Top list sizes.
const (
	TopCostCenters   = 5
	TopAccounts      = 10
	TopUsageAccounts = 10
	TopPayerAccounts = 5
)

// ReportInput is everything needed to build a customer report. Transactions
// should cover the customer's usage accounts and cost centers up to Period.
type ReportInput struct {
	Customer      model.Customer
	Period        model.BillingPeriod
	Transactions  []model.Transaction
	UsageAccounts []model.UsageAccount
	TrendMonths   int
	Split         SplitEstimator
	Now           time.Time
}

// BuildCustomerReport aggregates one customer for one billing period.
func BuildCustomerReport(in ReportInput) model.CustomerReport {
	months := in.TrendMonths
	if months <= 0 {
		months = DefaultTrendMonths
	}

	all := Classify(in.Transactions)
	quality := all.Quality()
	upTo := all.Through(in.Period)
	current := all.ForPeriod(in.Period)

	trend, pq := AggregateByPeriod(all, model.PeriodWindow(in.Period, months), Ascending)
	quality.Merge(pq)

	lookup := NewCostCenterLookup(in.Customer)
	quality.UnassignedAccounts = CountUnassigned(current.Costs, lookup)
	quality.UnknownUsageAccounts = CountUnknownAccounts(current.Costs, knownAccounts(in.UsageAccounts))

	breakdown := SumBreakdown(current.Costs)
	report := model.CustomerReport{
		Customer:       model.CustomerRef{LegalName: in.Customer.LegalName, VATNumber: in.Customer.VATNumber},
		BillingPeriod:  in.Period,
		Status:         model.ReportStatusOK,
		Totals:         TotalFor(trend, in.Period),
		Breakdown:      breakdown,
		Categories:     CategoryShares(breakdown),
		Split:          in.Split.Split(current.Costs),
		CostCenters:    CostCenterBalances(in.Customer, upTo),
		Accounts:       customerAccountBalances(in.Customer, upTo, lookup),
		Trend:          trend,
		TopCostCenters: TopN(GroupCosts(current.Costs, ByCostCenter(lookup)), TopCostCenters, RankCustomerEUR),
		TopAccounts:    TopN(GroupCosts(current.Costs, ByUsageAccount), TopAccounts, RankCustomerEUR),
		DataQuality:    quality,
		GeneratedAt:    generatedAt(in.Now),
	}
	return report
}

// customerAccountBalances keeps only the customer's usage accounts, in cost
// center order, naming each after its cost center.
func customerAccountBalances(c model.Customer, part Partition, lookup CostCenterLookup) []model.FundBalance {
	byID := make(map[string]model.FundBalance)
	for _, b := range AccountBalances(part) {
		byID[b.Key] = b
	}
	var out []model.FundBalance
	for _, id := range c.UsageAccountIDs() {
		b, ok := byID[id]
		if !ok {
			b = Reconcile(b.TotalDeposit, b.TotalCost)
			b.Key = id
		}
		b.Name = lookup[id].Name
		out = append(out, b)
	}
	return out
}

// DashboardInput is everything needed to build the dashboard.
type DashboardInput struct {
	Period        model.BillingPeriod
	Transactions  []model.Transaction
	PayerAccounts []model.PayerAccount
	UsageAccounts []model.UsageAccount
	TrendMonths   int
	Split         SplitEstimator
	Now           time.Time
}

// BuildDashboard aggregates every account for one billing period.
func BuildDashboard(in DashboardInput) model.DashboardSummary {
	months := in.TrendMonths
	if months <= 0 {
		months = DefaultTrendMonths
	}

	all := Classify(in.Transactions)
	quality := all.Quality()
	current := all.ForPeriod(in.Period)

	trend, pq := AggregateByPeriod(all, model.PeriodWindow(in.Period, months), Ascending)
	quality.Merge(pq)
	quality.UnknownUsageAccounts = CountUnknownAccounts(current.Costs, knownAccounts(in.UsageAccounts))

	usageNames := make(map[string]string, len(in.UsageAccounts))
	for _, a := range in.UsageAccounts {
		usageNames[a.AccountID] = a.Customer
	}
	payerNames := make(map[string]string, len(in.PayerAccounts))
	for _, a := range in.PayerAccounts {
		payerNames[a.AccountID] = a.AccountName
	}

	topUsage := TopN(GroupCosts(current.Costs, ByUsageAccount), TopUsageAccounts, RankCustomerEUR)
	for i := range topUsage {
		topUsage[i].Name = usageNames[topUsage[i].Key]
	}
	topPayer := TopN(GroupCosts(current.Costs, ByPayerAccount), TopPayerAccounts, RankSellerUSD)
	for i := range topPayer {
		topPayer[i].Name = payerNames[topPayer[i].Key]
	}

	var over []model.FundBalance
	for _, b := range AccountBalances(all.Through(in.Period)) {
		if b.IsOverBudget {
			b.Name = usageNames[b.Key]
			over = append(over, b)
		}
	}

	breakdown := SumBreakdown(current.Costs)
	return model.DashboardSummary{
		BillingPeriod:     in.Period,
		Status:            model.ReportStatusOK,
		Totals:            TotalFor(trend, in.Period),
		Breakdown:         breakdown,
		Categories:        CategoryShares(breakdown),
		Split:             in.Split.Split(current.Costs),
		Trend:             trend,
		TopUsageAccounts:  topUsage,
		TopPayerAccounts:  topPayer,
		OverBudget:        over,
		PayerAccountCount: len(in.PayerAccounts),
		UsageAccountCount: len(in.UsageAccounts),
		DataQuality:       quality,
		GeneratedAt:       generatedAt(in.Now),
	}
}

// EmptyCustomerReport is returned with status degraded when the data behind
// a report could not be loaded.
func EmptyCustomerReport(vat string, period model.BillingPeriod, now time.Time) model.CustomerReport {
	return model.CustomerReport{
		Customer:      model.CustomerRef{VATNumber: vat},
		BillingPeriod: period,
		Status:        model.ReportStatusDegraded,
		Categories:    CategoryShares(model.CostBreakdown{}),
		Trend:         zeroTrend(period),
		GeneratedAt:   generatedAt(now),
	}
}

// EmptyDashboard is the degraded counterpart of BuildDashboard.
func EmptyDashboard(period model.BillingPeriod, now time.Time) model.DashboardSummary {
	return model.DashboardSummary{
		BillingPeriod: period,
		Status:        model.ReportStatusDegraded,
		Categories:    CategoryShares(model.CostBreakdown{}),
		Trend:         zeroTrend(period),
		GeneratedAt:   generatedAt(now),
	}
}

func zeroTrend(period model.BillingPeriod) []model.PeriodTotals {
	trend, _ := AggregateByPeriod(Partition{}, model.PeriodWindow(period, DefaultTrendMonths), Ascending)
	return trend
}

func knownAccounts(accounts []model.UsageAccount) map[string]bool {
	known := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		known[a.AccountID] = true
	}
	return known
}

func generatedAt(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now().UTC()
	}
	return now.UTC()
}
