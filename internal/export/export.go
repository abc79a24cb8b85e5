// Package export renders customer reports as CSV or PDF documents and
// optionally archives them in S3.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"

	"github.com/finopsmind/billing/internal/model"
)

// Format is an export document format.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// ParseFormat accepts csv and pdf, defaulting to csv when s is empty.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "csv":
		return FormatCSV, nil
	case "pdf":
		return FormatPDF, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "text/csv"
}

// Filename names the document of report r.
func Filename(r model.CustomerReport, f Format) string {
	return fmt.Sprintf("billing-%s-%s.%s", r.Customer.VATNumber, r.BillingPeriod, f)
}

// Archiver stores rendered documents somewhere durable.
type Archiver interface {
	Archive(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// Exporter renders reports and, when an archiver is configured, keeps a copy
// of every document it renders.
type Exporter struct {
	archiver Archiver
	logger   *slog.Logger
}

// NewExporter creates an Exporter. archiver may be nil.
func NewExporter(archiver Archiver, logger *slog.Logger) *Exporter {
	return &Exporter{archiver: archiver, logger: logger}
}

// Render writes r in format f to w. Archiving failures are logged and do
// not fail the export.
func (e *Exporter) Render(ctx context.Context, w io.Writer, r model.CustomerReport, f Format) error {
	var buf bytes.Buffer
	var err error
	switch f {
	case FormatPDF:
		err = WritePDF(&buf, r)
	default:
		err = WriteCSV(&buf, r)
	}
	if err != nil {
		return err
	}

	if e.archiver != nil {
		key := fmt.Sprintf("%s/%s", r.BillingPeriod, Filename(r, f))
		if loc, err := e.archiver.Archive(ctx, key, f.ContentType(), buf.Bytes()); err != nil {
			e.logger.WarnContext(ctx, "report archive failed", "key", key, "error", err)
		} else {
			e.logger.InfoContext(ctx, "report archived", "location", loc)
		}
	}

	_, err = w.Write(buf.Bytes())
	return err
}

// WriteCSV writes a sectioned CSV of r: totals, categories, cost centers,
// accounts and the trend.
func WriteCSV(w io.Writer, r model.CustomerReport) error {
	cw := csv.NewWriter(w)
	rows := [][]string{
		{"Customer", r.Customer.LegalName},
		{"VAT Number", r.Customer.VATNumber},
		{"Billing Period", string(r.BillingPeriod)},
		{"Status", string(r.Status)},
		{},
		{"Totals", "USD", "EUR"},
		{"Distributor Cost", money(r.Totals.DistributorCost.USD), money(r.Totals.DistributorCost.EUR)},
		{"Seller Cost", money(r.Totals.SellerCost.USD), money(r.Totals.SellerCost.EUR)},
		{"Customer Cost", money(r.Totals.CustomerCost.USD), money(r.Totals.CustomerCost.EUR)},
		{"Margin", money(r.Totals.Margin.USD), money(r.Totals.Margin.EUR)},
		{"Deposits", "", money(r.Totals.Deposits)},
		{},
		{"Category", "Amount USD", "Percent"},
	}
	for _, c := range r.Categories {
		rows = append(rows, []string{c.Category, money(c.Amount), fmt.Sprintf("%.2f", c.Percent)})
	}
	rows = append(rows, []string{}, fundHeader("Cost Center"))
	for _, b := range r.CostCenters {
		rows = append(rows, fundRow(b))
	}
	rows = append(rows, []string{}, fundHeader("Usage Account"))
	for _, b := range r.Accounts {
		rows = append(rows, fundRow(b))
	}
	rows = append(rows, []string{}, []string{"Billing Period", "Seller Cost EUR", "Customer Cost EUR", "Margin EUR", "Deposits EUR"})
	for _, t := range r.Trend {
		rows = append(rows, []string{string(t.BillingPeriod), money(t.SellerCost.EUR), money(t.CustomerCost.EUR), money(t.Margin.EUR), money(t.Deposits)})
	}

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("error writing CSV: %w", err)
	}
	return nil
}

func fundHeader(what string) []string {
	return []string{what, "Name", "Deposits EUR", "Cost EUR", "Available EUR", "Utilization %", "Over Budget"}
}

func fundRow(b model.FundBalance) []string {
	return []string{
		b.Key, b.Name, money(b.TotalDeposit), money(b.TotalCost), money(b.AvailableFund),
		fmt.Sprintf("%.2f", b.UtilizationPercent), fmt.Sprintf("%t", b.IsOverBudget),
	}
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// WritePDF renders r as a one-document A4 statement.
func WritePDF(w io.Writer, r model.CustomerReport) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	headerColor := [3]int{40, 40, 40}
	bodyTextColor := [3]int{50, 50, 50}
	lineColor := [3]int{200, 200, 200}

	section := func(title string) {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 12)
		pdf.SetTextColor(0, 0, 0)
		pdf.Cell(0, 8, tr(title))
		pdf.Ln(7)
		pdf.SetDrawColor(lineColor[0], lineColor[1], lineColor[2])
		pdf.Line(pdf.GetX(), pdf.GetY(), pdf.GetX()+190, pdf.GetY())
		pdf.Ln(2)
		pdf.SetFont("Arial", "", 9)
		pdf.SetTextColor(bodyTextColor[0], bodyTextColor[1], bodyTextColor[2])
	}
	table := func(widths []float64, header []string, rows [][]string) {
		pdf.SetFont("Arial", "B", 9)
		for i, h := range header {
			pdf.CellFormat(widths[i], 6, tr(h), "B", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 9)
		for _, row := range rows {
			for i, cell := range row {
				align := "L"
				if i > 0 {
					align = "R"
				}
				pdf.CellFormat(widths[i], 5, tr(cell), "", 0, align, false, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	pdf.AddPage()
	pdf.SetFillColor(headerColor[0], headerColor[1], headerColor[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 12, tr(fmt.Sprintf("  %s  |  %s", r.Customer.LegalName, r.BillingPeriod)), "", 1, "L", true, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.SetFillColor(240, 240, 240)
	pdf.SetTextColor(bodyTextColor[0], bodyTextColor[1], bodyTextColor[2])
	pdf.CellFormat(0, 8, tr(fmt.Sprintf("  VAT Number: %s", r.Customer.VATNumber)), "", 1, "L", true, 0, "")
	if r.Status != model.ReportStatusOK {
		pdf.SetTextColor(192, 0, 0)
		pdf.CellFormat(0, 8, tr("  Data source unavailable: figures are incomplete."), "", 1, "L", false, 0, "")
		pdf.SetTextColor(bodyTextColor[0], bodyTextColor[1], bodyTextColor[2])
	}

	section("Summary")
	table([]float64{70, 60, 60}, []string{"", "USD", "EUR"}, [][]string{
		{"Customer cost", money(r.Totals.CustomerCost.USD), money(r.Totals.CustomerCost.EUR)},
		{"Seller cost", money(r.Totals.SellerCost.USD), money(r.Totals.SellerCost.EUR)},
		{"Margin", money(r.Totals.Margin.USD), money(r.Totals.Margin.EUR)},
		{"Deposits", "", money(r.Totals.Deposits)},
	})

	section("Cost Categories")
	var cats [][]string
	for _, c := range r.Categories {
		cats = append(cats, []string{c.Category, money(c.Amount), fmt.Sprintf("%.1f%%", c.Percent)})
	}
	table([]float64{70, 60, 60}, []string{"Category", "USD", "Share"}, cats)

	if len(r.CostCenters) > 0 {
		section("Cost Center Funds")
		var rows [][]string
		for _, b := range r.CostCenters {
			rows = append(rows, []string{b.Name, money(b.TotalDeposit), money(b.TotalCost), money(b.AvailableFund), fmt.Sprintf("%.1f%%", b.UtilizationPercent)})
		}
		table([]float64{60, 32, 32, 34, 32}, []string{"Cost center", "Deposits", "Cost", "Available", "Used"}, rows)
	}

	section("Trend (EUR)")
	var trend [][]string
	for _, t := range r.Trend {
		trend = append(trend, []string{string(t.BillingPeriod), money(t.CustomerCost.EUR), money(t.Margin.EUR), money(t.Deposits)})
	}
	table([]float64{55, 45, 45, 45}, []string{"Period", "Customer cost", "Margin", "Deposits"}, trend)

	pdf.SetY(-15)
	pdf.SetFont("Arial", "I", 8)
	pdf.SetTextColor(128, 128, 128)
	footer := fmt.Sprintf("Generated by Reseller Billing | %s", r.GeneratedAt.Format(time.RFC3339))
	pdf.CellFormat(0, 10, tr(footer), "", 0, "L", false, 0, "")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("error writing PDF: %w", err)
	}
	return nil
}
