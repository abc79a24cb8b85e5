package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReportStatus tells clients whether a report was built from complete data.
type ReportStatus string

const (
	ReportStatusOK ReportStatus = "ok"
	// ReportStatusDegraded marks an empty report returned after an upstream
	// failure.
	ReportStatusDegraded ReportStatus = "degraded"
)

// FundBalance is deposit versus cost for one usage account or cost center.
// Amounts are in EUR.
type FundBalance struct {
	Key                string          `json:"key"`
	Name               string          `json:"name,omitempty"`
	TotalDeposit       decimal.Decimal `json:"totalDeposit"`
	TotalCost          decimal.Decimal `json:"totalCost"`
	AvailableFund      decimal.Decimal `json:"availableFund"`
	UtilizationPercent float64         `json:"utilizationPercent"`
	IsOverBudget       bool            `json:"isOverBudget"`
}

// PeriodTotals accumulates one billing period.
type PeriodTotals struct {
	BillingPeriod   BillingPeriod   `json:"billingPeriod"`
	DistributorCost CostPair        `json:"distributorCost"`
	SellerCost      CostPair        `json:"sellerCost"`
	CustomerCost    CostPair        `json:"customerCost"`
	Margin          CostPair        `json:"margin"`
	Deposits        decimal.Decimal `json:"deposits"`
	CostRecords     int             `json:"costRecords"`
	DepositRecords  int             `json:"depositRecords"`
}

// GroupTotal is the summed cost of one grouping key.
type GroupTotal struct {
	Key          string   `json:"key"`
	Name         string   `json:"name,omitempty"`
	SellerCost   CostPair `json:"sellerCost"`
	CustomerCost CostPair `json:"customerCost"`
	Margin       CostPair `json:"margin"`
	Records      int      `json:"records"`
}

// MarketplaceSplit divides seller cost (USD) between AWS and Marketplace.
// Estimated is true when the split was derived from the configured share
// rather than from entity-level data.
type MarketplaceSplit struct {
	AWS         decimal.Decimal `json:"aws"`
	Marketplace decimal.Decimal `json:"marketplace"`
	Estimated   bool            `json:"estimated"`
	AWSShare    float64         `json:"awsShare,omitempty"`
}

// CategoryShare is one cost category and its share of the gross cost.
type CategoryShare struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Percent  float64         `json:"percent"`
}

// DataQuality counts records that were skipped or defaulted while
// aggregating.
type DataQuality struct {
	ExcludedTypes        map[string]int `json:"excludedTypes,omitempty"`
	MissingPeriod        int            `json:"missingPeriod"`
	OutsideWindow        int            `json:"outsideWindow"`
	UnknownUsageAccounts int            `json:"unknownUsageAccounts"`
	UnassignedAccounts   int            `json:"unassignedAccounts"`
}

// Excluded returns the number of records with an unrecognised type.
func (q DataQuality) Excluded() int {
	n := 0
	for _, c := range q.ExcludedTypes {
		n += c
	}
	return n
}

// Clean reports whether no malformed record was skipped. Records outside the
// requested window are not a data problem and do not count.
func (q DataQuality) Clean() bool {
	return q.Excluded() == 0 && q.MissingPeriod == 0 &&
		q.UnknownUsageAccounts == 0 && q.UnassignedAccounts == 0
}

// Merge adds the counters of o into q.
func (q *DataQuality) Merge(o DataQuality) {
	for k, v := range o.ExcludedTypes {
		if q.ExcludedTypes == nil {
			q.ExcludedTypes = make(map[string]int)
		}
		q.ExcludedTypes[k] += v
	}
	q.MissingPeriod += o.MissingPeriod
	q.OutsideWindow += o.OutsideWindow
	q.UnknownUsageAccounts += o.UnknownUsageAccounts
	q.UnassignedAccounts += o.UnassignedAccounts
}

// CustomerRef identifies the customer a report was built for.
type CustomerRef struct {
	LegalName string `json:"legalName"`
	VATNumber string `json:"vatNumber"`
}

// CustomerReport is the aggregated view of one customer for a billing period.
type CustomerReport struct {
	Customer       CustomerRef      `json:"customer"`
	BillingPeriod  BillingPeriod    `json:"billingPeriod"`
	Status         ReportStatus     `json:"status"`
	Totals         PeriodTotals     `json:"totals"`
	Breakdown      CostBreakdown    `json:"costBreakdown"`
	Categories     []CategoryShare  `json:"categories"`
	Split          MarketplaceSplit `json:"split"`
	CostCenters    []FundBalance    `json:"costCenters"`
	Accounts       []FundBalance    `json:"accounts"`
	Trend          []PeriodTotals   `json:"trend"`
	TopCostCenters []GroupTotal     `json:"topCostCenters"`
	TopAccounts    []GroupTotal     `json:"topAccounts"`
	DataQuality    DataQuality      `json:"dataQuality"`
	GeneratedAt    time.Time        `json:"generatedAt"`
}

// DashboardSummary is the cross-customer overview for a billing period.
type DashboardSummary struct {
	BillingPeriod     BillingPeriod    `json:"billingPeriod"`
	Status            ReportStatus     `json:"status"`
	Totals            PeriodTotals     `json:"totals"`
	Breakdown         CostBreakdown    `json:"costBreakdown"`
	Categories        []CategoryShare  `json:"categories"`
	Split             MarketplaceSplit `json:"split"`
	Trend             []PeriodTotals   `json:"trend"`
	TopUsageAccounts  []GroupTotal     `json:"topUsageAccounts"`
	TopPayerAccounts  []GroupTotal     `json:"topPayerAccounts"`
	OverBudget        []FundBalance    `json:"overBudget"`
	PayerAccountCount int              `json:"payerAccountCount"`
	UsageAccountCount int              `json:"usageAccountCount"`
	DataQuality       DataQuality      `json:"dataQuality"`
	GeneratedAt       time.Time        `json:"generatedAt"`
}
