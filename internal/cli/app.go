// Package cli implements billingctl, the operator command line for the
// billing API.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/finopsmind/billing/internal/billingapi"
	"github.com/finopsmind/billing/internal/config"
	"github.com/finopsmind/billing/internal/export"
	"github.com/finopsmind/billing/internal/logging"
	"github.com/finopsmind/billing/internal/model"
)

// API is the part of the billing API the CLI talks to.
type API interface {
	ListPayerAccounts(ctx context.Context) ([]model.PayerAccount, error)
	ListUsageAccounts(ctx context.Context, payerAccountID string) ([]model.UsageAccount, error)
	CustomerReport(ctx context.Context, vat string, period model.BillingPeriod) (model.CustomerReport, error)
	Dashboard(ctx context.Context, period model.BillingPeriod) (model.DashboardSummary, error)
	ListExchangeRates(ctx context.Context) ([]model.ExchangeRateConfig, error)
	ApplyExchangeRate(ctx context.Context, id uuid.UUID) (model.ApplyResult, error)
}

// App is the billingctl command tree.
type App struct {
	root *cobra.Command

	url      string
	token    string
	timeout  time.Duration
	logLevel string

	// newAPI builds the client once flags are parsed.
	newAPI func() API
}

// NewApp creates the CLI. Connection flags default to BILLING_API_URL and
// BILLING_API_TOKEN.
func NewApp(version string) *App {
	app := &App{}
	app.newAPI = app.remoteAPI

	root := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operate the reseller billing API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "billingctl %s\n" .Version}}`)

	root.PersistentFlags().StringVar(&app.url, "url", envOr("BILLING_API_URL", "http://localhost:8080"), "Billing API base URL")
	root.PersistentFlags().StringVar(&app.token, "token", os.Getenv("BILLING_API_TOKEN"), "Bearer token")
	root.PersistentFlags().DurationVar(&app.timeout, "timeout", 30*time.Second, "Per-request timeout")
	root.PersistentFlags().StringVar(&app.logLevel, "log-level", "warn", "Client log level (debug, info, warn, error)")

	root.AddCommand(app.accountsCmd(), app.reportCmd(), app.dashboardCmd(), app.ratesCmd())
	app.root = root
	return app
}

// Execute runs the CLI with ctx.
func (app *App) Execute(ctx context.Context) error {
	return app.root.ExecuteContext(ctx)
}

// SetArgs overrides os.Args, for tests.
func (app *App) SetArgs(args []string) { app.root.SetArgs(args) }

// SetOutput redirects command output.
func (app *App) SetOutput(w io.Writer) {
	app.root.SetOut(w)
	app.root.SetErr(w)
}

func (app *App) remoteAPI() API {
	logger := logging.New(logging.Config{Level: app.logLevel, Format: "text", Output: os.Stderr})
	return billingapi.NewClient(config.UpstreamConfig{
		URL:        app.url,
		Token:      app.token,
		Timeout:    app.timeout,
		MaxRetries: 2,
		CircuitBreaker: config.CircuitBreakerConfig{
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
		},
	}, logging.Component(logger, logging.ComponentCLI))
}

func (app *App) accountsCmd() *cobra.Command {
	var payer string
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List payer and usage accounts with their fund utilization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api := app.newAPI()
			ctx := cmd.Context()

			payers, err := api.ListPayerAccounts(ctx)
			if err != nil {
				return fmt.Errorf("listing payer accounts: %w", err)
			}
			usage, err := api.ListUsageAccounts(ctx, payer)
			if err != nil {
				return fmt.Errorf("listing usage accounts: %w", err)
			}
			return renderAccounts(cmd.OutOrStdout(), payers, usage, payer)
		},
	}
	cmd.Flags().StringVar(&payer, "payer", "", "Only usage accounts of this payer account")
	return cmd
}

func (app *App) reportCmd() *cobra.Command {
	var (
		period string
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "report <vat>",
		Short: "Show or export a customer report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := optionalPeriod(period)
			if err != nil {
				return err
			}
			report, err := app.newAPI().CustomerReport(cmd.Context(), args[0], p)
			if err != nil {
				return fmt.Errorf("fetching report: %w", err)
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			switch format {
			case "table":
				return renderReport(w, report)
			case "json":
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			case "csv":
				return export.WriteCSV(w, report)
			case "pdf":
				return export.WritePDF(w, report)
			default:
				return fmt.Errorf("unknown format %q: use table, json, csv or pdf", format)
			}
		},
	}
	cmd.Flags().StringVar(&period, "period", "", "Billing period YYYY-MM (default: current month)")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table, json, csv, pdf")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}

func (app *App) dashboardCmd() *cobra.Command {
	var (
		period   string
		watch    bool
		interval time.Duration
		count    int
	)
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show the cross-customer dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := optionalPeriod(period)
			if err != nil {
				return err
			}
			api := app.newAPI()
			if !watch {
				d, err := api.Dashboard(cmd.Context(), p)
				if err != nil {
					return fmt.Errorf("fetching dashboard: %w", err)
				}
				return renderDashboard(cmd.OutOrStdout(), d)
			}
			return watchDashboard(cmd.Context(), cmd.OutOrStdout(), api, p, interval, count)
		},
	}
	cmd.Flags().StringVar(&period, "period", "", "Billing period YYYY-MM (default: current month)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Refresh until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "Refresh interval with --watch")
	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many refreshes with --watch (0: until interrupted)")
	return cmd
}

func (app *App) ratesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rates",
		Short: "Manage exchange rate configurations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List exchange rate configurations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rates, err := app.newAPI().ListExchangeRates(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing exchange rates: %w", err)
			}
			return renderRates(cmd.OutOrStdout(), rates)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "apply <id>",
		Short: "Re-price the EUR amounts of a payer account's period with a stored rate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid exchange rate id %q: %w", args[0], err)
			}
			res, err := app.newAPI().ApplyExchangeRate(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("applying exchange rate: %w", err)
			}
			return renderApply(cmd.OutOrStdout(), res)
		},
	})
	return cmd
}

func optionalPeriod(s string) (model.BillingPeriod, error) {
	if s == "" {
		return "", nil
	}
	return model.ParseBillingPeriod(s)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
