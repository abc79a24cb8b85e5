package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shopspring/decimal"

	"github.com/finopsmind/billing/internal/model"
)

func sampleReport() model.CustomerReport {
	return model.CustomerReport{
		Customer:      model.CustomerRef{LegalName: "Acme GmbH", VATNumber: "DE811111111"},
		BillingPeriod: "2024-06",
		Status:        model.ReportStatusOK,
		Totals: model.PeriodTotals{
			BillingPeriod: "2024-06",
			CustomerCost:  model.CostPair{USD: decimal.NewFromInt(1000), EUR: decimal.NewFromInt(920)},
			SellerCost:    model.CostPair{USD: decimal.NewFromInt(900), EUR: decimal.NewFromInt(828)},
			Margin:        model.CostPair{USD: decimal.NewFromInt(100), EUR: decimal.NewFromInt(92)},
			Deposits:      decimal.NewFromInt(5000),
		},
		Categories: []model.CategoryShare{{Category: "usage", Amount: decimal.NewFromInt(1000), Percent: 100}},
		CostCenters: []model.FundBalance{{
			Key: "cc-1", Name: "Production", TotalDeposit: decimal.NewFromInt(5000),
			TotalCost: decimal.NewFromInt(920), AvailableFund: decimal.NewFromInt(4080), UtilizationPercent: 18.4,
		}},
		Trend:       []model.PeriodTotals{{BillingPeriod: "2024-06", CustomerCost: model.CostPair{EUR: decimal.NewFromInt(920)}}},
		GeneratedAt: time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC),
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatCSV, false},
		{"CSV", FormatCSV, false},
		{"pdf", FormatPDF, false},
		{"xlsx", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleReport()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	r := csv.NewReader(&buf)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	found := false
	for _, row := range rows {
		if len(row) == 3 && row[0] == "Customer Cost" {
			found = true
			if row[1] != "1000.00" || row[2] != "920.00" {
				t.Errorf("customer cost row = %v", row)
			}
		}
	}
	if !found {
		t.Fatal("customer cost row missing")
	}
	if len(rows) < 10 {
		t.Fatalf("too few rows: %d", len(rows))
	}
}

func TestWritePDF(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePDF(&buf, sampleReport()); err != nil {
		t.Fatalf("WritePDF: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Fatalf("output does not look like a PDF: %q", buf.Bytes()[:min(8, buf.Len())])
	}
}

type fakeS3 struct {
	in  *s3.PutObjectInput
	err error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	return &s3.PutObjectOutput{}, f.err
}

func TestRenderArchives(t *testing.T) {
	fake := &fakeS3{}
	e := NewExporter(NewS3Archiver(fake, "reports", "billing"), slog.New(slog.NewTextHandler(io.Discard, nil)))

	var out bytes.Buffer
	if err := e.Render(context.Background(), &out, sampleReport(), FormatCSV); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if fake.in == nil {
		t.Fatal("nothing archived")
	}
	if got := aws.ToString(fake.in.Key); got != "billing/2024-06/billing-DE811111111-2024-06.csv" {
		t.Errorf("key = %s", got)
	}
	if aws.ToString(fake.in.ContentType) != "text/csv" {
		t.Errorf("content type = %s", aws.ToString(fake.in.ContentType))
	}
	if out.Len() == 0 {
		t.Error("nothing written to the response")
	}
}

func TestRenderIgnoresArchiveFailure(t *testing.T) {
	fake := &fakeS3{err: errors.New("access denied")}
	e := NewExporter(NewS3Archiver(fake, "reports", ""), slog.New(slog.NewTextHandler(io.Discard, nil)))
	var out bytes.Buffer
	if err := e.Render(context.Background(), &out, sampleReport(), FormatPDF); err != nil {
		t.Fatalf("archive failure must not fail the export: %v", err)
	}
	if out.Len() == 0 {
		t.Error("nothing written to the response")
	}
}
