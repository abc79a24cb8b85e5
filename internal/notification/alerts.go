package notification

import (
	"context"
	"fmt"

	"github.com/finopsmind/billing/internal/model"
)

// FundAlert describes a fund whose consumption crossed the warning
// threshold or the deposit itself.
type FundAlert struct {
	Customer  string
	Scope     string // "cost center" or "usage account"
	Balance   model.FundBalance
	Threshold float64
}

// SendFundAlert notifies about a fund nearing or exceeding its deposits.
func (s *Service) SendFundAlert(ctx context.Context, a FundAlert) error {
	b := a.Balance
	name := b.Name
	if name == "" {
		name = b.Key
	}

	msg := Message{
		EventType: EventFundWarning,
		Title:     fmt.Sprintf("Fund Warning: %s", name),
		Body: fmt.Sprintf("%s %s of %s has used %.0f%% of its deposits (EUR %s of %s).",
			a.Scope, name, a.Customer, b.UtilizationPercent, b.TotalCost.StringFixed(2), b.TotalDeposit.StringFixed(2)),
		Severity: SeverityMedium,
	}
	if b.IsOverBudget {
		msg.EventType = EventFundOverBudget
		msg.Title = fmt.Sprintf("Fund Exhausted: %s", name)
		msg.Body = fmt.Sprintf("%s %s of %s is over budget by EUR %s (cost %s, deposits %s).",
			a.Scope, name, a.Customer, b.AvailableFund.Neg().StringFixed(2), b.TotalCost.StringFixed(2), b.TotalDeposit.StringFixed(2))
		msg.Severity = SeverityHigh
	}
	msg.Data = map[string]any{
		"Customer":    a.Customer,
		"Fund":        name,
		"Deposits":    "EUR " + b.TotalDeposit.StringFixed(2),
		"Cost":        "EUR " + b.TotalCost.StringFixed(2),
		"Available":   "EUR " + b.AvailableFund.StringFixed(2),
		"Utilization": fmt.Sprintf("%.1f%%", b.UtilizationPercent),
		"Threshold":   fmt.Sprintf("%.0f%%", a.Threshold),
	}
	return s.Send(ctx, msg)
}

// SendIngestionFailure reports a payer account whose costs could not be
// imported.
func (s *Service) SendIngestionFailure(ctx context.Context, payerAccountID string, period model.BillingPeriod, cause error) error {
	return s.Send(ctx, Message{
		EventType: EventIngestFailed,
		Title:     fmt.Sprintf("Cost Ingestion Failed: %s", payerAccountID),
		Body:      fmt.Sprintf("Costs of payer account %s for %s could not be imported: %v", payerAccountID, period, cause),
		Severity:  SeverityHigh,
		Data: map[string]any{
			"Payer Account":  payerAccountID,
			"Billing Period": string(period),
		},
	})
}
