package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/finopsmind/billing/internal/apierrors"
	"github.com/finopsmind/billing/internal/auth"
	"github.com/finopsmind/billing/internal/correlation"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Accounts      *AccountHandler
	Customers     *CustomerHandler
	Transactions  *TransactionHandler
	ExchangeRates *ExchangeRateHandler
	Reports       *ReportHandler
	Health        *HealthHandler
}

// RouterOptions configures cross-cutting middleware.
type RouterOptions struct {
	AllowedOrigins []string
	// Verifier checks bearer tokens. nil disables authentication.
	Verifier *auth.Verifier
	Timeout  time.Duration
	// RequestLogging enables chi's access log.
	RequestLogging bool
}

// NewRouter builds the HTTP API. Reads are open to every authenticated
// role, writes need admin or finance.
func NewRouter(h Handlers, opts RouterOptions, logger *slog.Logger) http.Handler {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(correlation.Middleware)
	if opts.RequestLogging {
		r.Use(middleware.Logger)
	}
	r.Use(apierrors.Recoverer(logger))
	r.Use(middleware.Timeout(opts.Timeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", correlation.HeaderName},
		ExposedHeaders:   []string{"Content-Disposition", correlation.HeaderName},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health.Health)

	writers := auth.RequireRole(auth.RoleAdmin, auth.RoleFinance)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(opts.Verifier))

		r.Get("/health", h.Health.Health)

		// Accounts
		r.Get("/payer-accounts", h.Accounts.ListPayers)
		r.Get("/payer-accounts/{id}", h.Accounts.GetPayer)
		r.Get("/usage-accounts", h.Accounts.ListUsage)
		r.Get("/usage-accounts/{id}", h.Accounts.GetUsage)

		// Customers
		r.Get("/customers", h.Customers.List)
		r.Get("/customers/{vat}", h.Customers.Get)
		r.Get("/customers/{vat}/cost-centers", h.Customers.ListCostCenters)
		r.Get("/customers/{vat}/deposits", h.Customers.ListDeposits)

		// Transactions
		r.Get("/transactions", h.Transactions.List)

		// Settings
		r.Get("/settings/exchange-rates", h.ExchangeRates.List)
		r.Get("/settings/exchange-rates/{id}", h.ExchangeRates.Get)

		// Reports
		r.Get("/reports/customers/{vat}", h.Reports.Customer)
		r.Get("/reports/customers/{vat}/export", h.Reports.Export)
		r.Get("/reports/dashboard", h.Reports.Dashboard)

		r.Group(func(r chi.Router) {
			r.Use(writers)

			r.Post("/payer-accounts", h.Accounts.CreatePayer)
			r.Put("/payer-accounts/{id}", h.Accounts.UpdatePayer)
			r.Delete("/payer-accounts/{id}", h.Accounts.DeletePayer)
			r.Post("/usage-accounts", h.Accounts.CreateUsage)
			r.Put("/usage-accounts/{id}", h.Accounts.UpdateUsage)
			r.Delete("/usage-accounts/{id}", h.Accounts.DeleteUsage)

			r.Post("/customers", h.Customers.Create)
			r.Put("/customers/{vat}", h.Customers.Update)
			r.Post("/customers/{vat}/cost-centers", h.Customers.CreateCostCenter)
			r.Put("/customers/{vat}/cost-centers/{id}", h.Customers.UpdateCostCenter)
			r.Delete("/customers/{vat}/cost-centers/{id}", h.Customers.DeleteCostCenter)
			r.Post("/customers/{vat}/deposits", h.Customers.RecordDeposit)

			r.Post("/transactions", h.Transactions.Create)

			r.Post("/settings/exchange-rates", h.ExchangeRates.Create)
			r.Put("/settings/exchange-rates/{id}", h.ExchangeRates.Update)
			r.Delete("/settings/exchange-rates/{id}", h.ExchangeRates.Delete)
			r.Post("/settings/exchange-rates/{id}/apply", h.ExchangeRates.Apply)
		})
	})

	return r
}
