package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"

	"github.com/finopsmind/billing/internal/model"
)

var (
	boldRed     = color.New(color.FgRed, color.Bold).SprintFunc()
	boldYellow  = color.New(color.FgYellow, color.Bold).SprintFunc()
	brightGreen = color.New(color.FgGreen, color.Bold).SprintFunc()
	brightCyan  = color.New(color.FgCyan, color.Bold).SprintFunc()
)

// warnPercent matches the fund monitor's default warning level.
const warnPercent = 80.0

func table(w io.Writer, title string, data pterm.TableData) error {
	rendered, err := pterm.DefaultTable.
		WithHasHeader().
		WithBoxed().
		WithHeaderStyle(pterm.NewStyle(pterm.FgLightCyan)).
		WithData(data).
		Srender()
	if err != nil {
		return err
	}
	if title != "" {
		fmt.Fprintln(w, brightCyan(title))
	}
	_, err = fmt.Fprintln(w, rendered)
	return err
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func percent(p float64) string { return strconv.FormatFloat(p, 'f', 1, 64) + "%" }

// utilization colours a usage percentage: red when over budget, yellow from
// the warning level.
func utilization(p float64, over bool) string {
	s := percent(p)
	switch {
	case over || p > 100:
		return boldRed(s)
	case p >= warnPercent:
		return boldYellow(s)
	default:
		return brightGreen(s)
	}
}

func renderAccounts(w io.Writer, payers []model.PayerAccount, usage []model.UsageAccount, only string) error {
	payerData := pterm.TableData{{"Payer account", "Name", "Legal entity", "Status"}}
	for _, p := range payers {
		if only != "" && p.AccountID != only {
			continue
		}
		payerData = append(payerData, []string{p.AccountID, p.AccountName, p.LegalEntityName, string(p.Status)})
	}
	if err := table(w, "Payer accounts", payerData); err != nil {
		return err
	}

	sort.Slice(usage, func(i, j int) bool { return usage[i].AccountID < usage[j].AccountID })
	usageData := pterm.TableData{{"Usage account", "Payer", "Customer", "Status", "Usage EUR", "Deposit EUR", "Utilization"}}
	for _, u := range usage {
		usageData = append(usageData, []string{
			u.AccountID, u.PayerAccountID, u.Customer, string(u.Status),
			money(u.TotalUsage), money(u.TotalDeposit),
			utilization(u.FundsUtilization, !u.TotalDeposit.IsZero() && u.TotalUsage.GreaterThan(u.TotalDeposit)),
		})
	}
	return table(w, "Usage accounts", usageData)
}

func totalsTable(w io.Writer, t model.PeriodTotals) error {
	return table(w, "Totals", pterm.TableData{
		{"", "USD", "EUR"},
		{"Distributor cost", money(t.DistributorCost.USD), money(t.DistributorCost.EUR)},
		{"Seller cost", money(t.SellerCost.USD), money(t.SellerCost.EUR)},
		{"Customer cost", money(t.CustomerCost.USD), money(t.CustomerCost.EUR)},
		{"Margin", money(t.Margin.USD), money(t.Margin.EUR)},
		{"Deposits", "", money(t.Deposits)},
	})
}

func fundTable(w io.Writer, title string, funds []model.FundBalance) error {
	data := pterm.TableData{{"Key", "Name", "Deposit EUR", "Cost EUR", "Available EUR", "Utilization"}}
	for _, f := range funds {
		data = append(data, []string{
			f.Key, f.Name, money(f.TotalDeposit), money(f.TotalCost), money(f.AvailableFund),
			utilization(f.UtilizationPercent, f.IsOverBudget),
		})
	}
	return table(w, title, data)
}

func trendTable(w io.Writer, trend []model.PeriodTotals) error {
	peak := decimal.Zero
	for _, p := range trend {
		if p.CustomerCost.EUR.GreaterThan(peak) {
			peak = p.CustomerCost.EUR
		}
	}
	data := pterm.TableData{{"Period", "Customer EUR", "Margin EUR", ""}}
	for _, p := range trend {
		bar := ""
		if peak.IsPositive() && p.CustomerCost.EUR.IsPositive() {
			n := int(p.CustomerCost.EUR.Div(peak).Mul(decimal.NewFromInt(30)).IntPart())
			bar = pterm.FgBlue.Sprint(strings.Repeat("█", n))
		}
		data = append(data, []string{string(p.BillingPeriod), money(p.CustomerCost.EUR), money(p.Margin.EUR), bar})
	}
	return table(w, "Trend", data)
}

func statusLine(w io.Writer, status model.ReportStatus, q model.DataQuality) {
	if status == model.ReportStatusDegraded {
		fmt.Fprintln(w, boldRed("Report degraded: source data could not be loaded, figures are empty"))
		return
	}
	if !q.Clean() {
		fmt.Fprintln(w, boldYellow(fmt.Sprintf("Data quality: %d excluded, %d without period, %d unknown accounts, %d unassigned",
			q.Excluded(), q.MissingPeriod, q.UnknownUsageAccounts, q.UnassignedAccounts)))
	}
}

func renderReport(w io.Writer, r model.CustomerReport) error {
	fmt.Fprintf(w, "%s (%s), billing period %s\n", brightCyan(r.Customer.LegalName), r.Customer.VATNumber, r.BillingPeriod)
	statusLine(w, r.Status, r.DataQuality)

	if err := totalsTable(w, r.Totals); err != nil {
		return err
	}
	cats := pterm.TableData{{"Category", "USD", "Share"}}
	for _, c := range r.Categories {
		cats = append(cats, []string{c.Category, money(c.Amount), percent(c.Percent)})
	}
	if err := table(w, "Cost categories", cats); err != nil {
		return err
	}
	if err := fundTable(w, "Cost centers", r.CostCenters); err != nil {
		return err
	}
	if err := fundTable(w, "Usage accounts", r.Accounts); err != nil {
		return err
	}
	return trendTable(w, r.Trend)
}

func renderDashboard(w io.Writer, d model.DashboardSummary) error {
	fmt.Fprintf(w, "Dashboard %s: %d payer accounts, %d usage accounts\n", d.BillingPeriod, d.PayerAccountCount, d.UsageAccountCount)
	statusLine(w, d.Status, d.DataQuality)

	if err := totalsTable(w, d.Totals); err != nil {
		return err
	}
	split := "measured"
	if d.Split.Estimated {
		split = "estimated"
	}
	if err := table(w, "AWS / Marketplace ("+split+")", pterm.TableData{
		{"AWS USD", "Marketplace USD"},
		{money(d.Split.AWS), money(d.Split.Marketplace)},
	}); err != nil {
		return err
	}
	top := pterm.TableData{{"Usage account", "Customer EUR", "Margin EUR"}}
	for _, g := range d.TopUsageAccounts {
		top = append(top, []string{g.Key, money(g.CustomerCost.EUR), money(g.Margin.EUR)})
	}
	if err := table(w, "Top usage accounts", top); err != nil {
		return err
	}
	if len(d.OverBudget) > 0 {
		if err := fundTable(w, boldRed("Over budget"), d.OverBudget); err != nil {
			return err
		}
	}
	return trendTable(w, d.Trend)
}

func renderRates(w io.Writer, rates []model.ExchangeRateConfig) error {
	sort.Slice(rates, func(i, j int) bool {
		if rates[i].BillingPeriod != rates[j].BillingPeriod {
			return rates[i].BillingPeriod > rates[j].BillingPeriod
		}
		return rates[i].PayerAccountID < rates[j].PayerAccountID
	})
	data := pterm.TableData{{"ID", "Payer account", "Period", "EUR per USD"}}
	for _, r := range rates {
		data = append(data, []string{r.ID.String(), r.PayerAccountID, string(r.BillingPeriod), r.ExchangeRate.String()})
	}
	return table(w, "Exchange rates", data)
}

func renderApply(w io.Writer, res model.ApplyResult) error {
	_, err := fmt.Fprintf(w, "%s applied rate %s to %s %s: %d transactions updated\n",
		brightGreen("OK"), res.Config.ExchangeRate, res.Config.PayerAccountID, res.Config.BillingPeriod, res.TransactionsUpdated)
	return err
}
