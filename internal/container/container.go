// Package container provides dependency injection.
package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finopsmind/billing/internal/auth"
	"github.com/finopsmind/billing/internal/billingapi"
	"github.com/finopsmind/billing/internal/config"
	"github.com/finopsmind/billing/internal/events"
	"github.com/finopsmind/billing/internal/export"
	"github.com/finopsmind/billing/internal/handler"
	"github.com/finopsmind/billing/internal/jobs"
	"github.com/finopsmind/billing/internal/logging"
	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/notification"
	"github.com/finopsmind/billing/internal/provider"
	"github.com/finopsmind/billing/internal/provider/aws"
	"github.com/finopsmind/billing/internal/repository"
	"github.com/finopsmind/billing/internal/repository/memory"
	"github.com/finopsmind/billing/internal/service"
)

// Container holds all application dependencies.
type Container struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *repository.Store
	publisher events.Publisher
	notifier  *notification.Service
	sources   *provider.Registry
	verifier  *auth.Verifier
	exporter  *export.Exporter
	scheduler *jobs.Scheduler

	// Services
	accounts      *service.AccountService
	customers     *service.CustomerService
	transactions  *service.TransactionService
	exchangeRates *service.ExchangeRateService
	reports       *service.ReportService
	funds         *service.FundMonitor
	ingestion     *service.IngestionService
}

// New creates a new dependency container. Optional integrations that fail
// to start (AWS, AMQP, S3) are logged and left out; a data backend that
// cannot be reached is an error.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{
		cfg:     cfg,
		logger:  logger,
		sources: provider.NewRegistry(),
	}

	store, err := openStore(ctx, cfg, logging.Component(logger, logging.ComponentStorage))
	if err != nil {
		return nil, err
	}
	c.store = store

	if !cfg.Auth.Disabled {
		v, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		if err != nil {
			c.closeStore()
			return nil, fmt.Errorf("failed to create token verifier: %w", err)
		}
		c.verifier = v
	} else {
		logger.Warn("authentication disabled, every request runs as anonymous admin")
	}

	// Event publisher
	c.publisher = events.Nop{}
	if cfg.AMQP.URL != "" {
		pub, err := events.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, logging.Component(logger, logging.ComponentEvents))
		if err != nil {
			logger.Warn("failed to connect to event broker, events disabled", "error", err)
		} else {
			c.publisher = pub
			logger.Info("event publisher connected", "exchange", cfg.AMQP.Exchange)
		}
	}

	// Notification service
	c.notifier = notification.NewService(notification.Config{
		SlackWebhookURL: cfg.Notification.SlackWebhookURL,
		EmailSMTPHost:   cfg.Notification.EmailSMTPHost,
		EmailSMTPPort:   cfg.Notification.EmailSMTPPort,
		EmailFrom:       cfg.Notification.EmailFrom,
		EmailPassword:   cfg.Notification.EmailPassword,
		EmailRecipients: cfg.Notification.EmailRecipients,
		WebhookURLs:     cfg.Notification.WebhookURLs,
	}, logging.Component(logger, logging.ComponentNotify))
	logger.Info("notification service initialized", "channels", c.notifier.Channels())

	// Cost sources
	var source provider.CostSource
	if cfg.AWS.Enabled {
		src, err := aws.NewSource(ctx, cfg.AWS, logging.Component(logger, logging.ComponentIngestion))
		if err != nil {
			logger.Warn("failed to initialize AWS cost source", "error", err)
		} else {
			c.sources.Register(src.Name(), src)
			source = src
			logger.Info("AWS cost source registered", "region", cfg.AWS.Region)
		}
	}

	// Services
	svcLogger := logging.Component(logger, logging.ComponentService)
	c.reports = service.NewReportService(store, service.ReportConfig{
		TrendMonths: cfg.Billing.TrendMonths,
		AWSShare:    cfg.Billing.AWSShare,
		CacheSize:   cfg.Cache.Size,
		CacheTTL:    cfg.Cache.TTL,
	}, svcLogger)
	c.accounts = service.NewAccountService(store, c.reports, svcLogger)
	c.customers = service.NewCustomerService(store, c.publisher, c.reports, svcLogger)
	c.transactions = service.NewTransactionService(store, c.customers, svcLogger)
	c.exchangeRates = service.NewExchangeRateService(store, c.publisher, c.reports, svcLogger)
	c.funds = service.NewFundMonitor(store, c.notifier, c.publisher, cfg.Billing.FundWarningPercent, svcLogger)

	switch {
	case source != nil && cfg.Backend == config.BackendRemote:
		logger.Info("remote backend: cost ingestion is left to the upstream")
	case source != nil:
		rate, err := decimal.NewFromString(cfg.Billing.DefaultRate)
		if err != nil {
			logger.Warn("invalid default exchange rate, using 1", "value", cfg.Billing.DefaultRate, "error", err)
			rate = decimal.NewFromInt(1)
		}
		c.ingestion = service.NewIngestionService(store, source, c.publisher, c.reports, c.notifier, service.IngestConfig{
			Months:      cfg.Jobs.IngestMonths,
			DefaultRate: rate,
		}, logging.Component(logger, logging.ComponentIngestion))
	}

	// Report exporter
	var archiver export.Archiver
	if cfg.Export.S3Bucket != "" {
		client, err := export.NewS3Client(ctx, cfg.Export.Region, cfg.AWS.AccessKeyID, cfg.AWS.SecretKey)
		if err != nil {
			logger.Warn("failed to initialize S3 archive, exports are not archived", "error", err)
		} else {
			archiver = export.NewS3Archiver(client, cfg.Export.S3Bucket, cfg.Export.S3Prefix)
			logger.Info("report archive enabled", "bucket", cfg.Export.S3Bucket)
		}
	}
	c.exporter = export.NewExporter(archiver, logger)

	c.scheduler = jobs.NewScheduler(logging.Component(logger, logging.ComponentJobs), 30*time.Minute)

	return c, nil
}

// openStore selects the data backend. The postgres backend is migrated and
// seeded with demo data when configured to.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*repository.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		if !cfg.Database.SeedDemoData {
			logger.Info("using empty in-memory store")
			return memory.New().Store(), nil
		}
		end := demoEnd(cfg.Database)
		logger.Info("using in-memory store with demo data", "through", end)
		return memory.NewSeeded(memory.DemoFixtures(end)).Store(), nil

	case config.BackendRemote:
		logger.Info("using remote billing API", "url", cfg.Upstream.URL)
		return billingapi.NewClient(cfg.Upstream, logger).Store(), nil

	default:
		db, err := repository.Open(ctx, cfg.Database.DSN(), repository.PoolConfig{
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
			MaxLifetime:  cfg.Database.MaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("database connected", "host", cfg.Database.Host, "database", cfg.Database.Name)

		if cfg.Database.AutoMigrate {
			if err := repository.RunMigrations(db); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			logger.Info("database migrations applied")
		}

		store := repository.NewPostgresStore(db)
		if cfg.Database.SeedDemoData {
			end := demoEnd(cfg.Database)
			wrote, err := memory.Seed(ctx, store, memory.DemoFixtures(end))
			if err != nil {
				logger.Warn("failed to seed demo data", "error", err)
			} else if wrote {
				logger.Info("demo data seeded", "through", end)
			}
		}
		return store, nil
	}
}

// demoEnd is the last billing period of the demo data set, the current
// month unless configured.
func demoEnd(db config.DatabaseConfig) model.BillingPeriod {
	if p, err := model.ParseBillingPeriod(db.DemoEndPeriod); err == nil {
		return p
	}
	return model.PeriodOf(time.Now())
}

// Start registers and starts background jobs.
func (c *Container) Start(ctx context.Context) error {
	var ingester jobs.Ingester
	if c.ingestion != nil {
		ingester = c.ingestion
	}
	bj := jobs.NewBillingJobs(ingester, c.funds, c.reports, logging.Component(c.logger, logging.ComponentJobs))
	if err := bj.Register(c.scheduler, jobs.Schedules{
		Ingest:     c.cfg.Jobs.IngestSchedule,
		FundCheck:  c.cfg.Jobs.FundCheckSchedule,
		CacheSweep: c.cfg.Jobs.CacheSweep,
	}); err != nil {
		return err
	}
	c.scheduler.Start()
	return nil
}

// Stop gracefully stops all components.
func (c *Container) Stop(ctx context.Context) error {
	c.logger.Info("stopping container components")

	var errs []error
	if c.scheduler != nil {
		if err := c.scheduler.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.sources.Close()
	if closer, ok := c.publisher.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing event publisher: %w", err))
		}
	}
	if err := c.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Container) closeStore() error {
	if c.store == nil || c.store.Close == nil {
		return nil
	}
	return c.store.Close()
}

// Handlers builds the HTTP handlers over the container's services.
func (c *Container) Handlers() handler.Handlers {
	apiLogger := logging.Component(c.logger, logging.ComponentAPI)
	return handler.Handlers{
		Accounts:      handler.NewAccountHandler(c.accounts, apiLogger),
		Customers:     handler.NewCustomerHandler(c.customers, apiLogger),
		Transactions:  handler.NewTransactionHandler(c.transactions, apiLogger),
		ExchangeRates: handler.NewExchangeRateHandler(c.exchangeRates, apiLogger),
		Reports:       handler.NewReportHandler(c.reports, c.exporter, apiLogger),
		Health:        handler.NewHealthHandler(c.cfg.Backend, c.sources),
	}
}

// RouterOptions returns the HTTP router settings.
func (c *Container) RouterOptions() handler.RouterOptions {
	return handler.RouterOptions{
		AllowedOrigins: c.cfg.Server.AllowedOrigins,
		Verifier:       c.verifier,
		Timeout:        c.cfg.Server.WriteTimeout,
		RequestLogging: true,
	}
}

// Accessors

func (c *Container) Config() *config.Config               { return c.cfg }
func (c *Container) Logger() *slog.Logger                 { return c.logger }
func (c *Container) Store() *repository.Store             { return c.store }
func (c *Container) Scheduler() *jobs.Scheduler           { return c.scheduler }
func (c *Container) Sources() *provider.Registry          { return c.sources }
func (c *Container) Reports() *service.ReportService      { return c.reports }
func (c *Container) Ingestion() *service.IngestionService { return c.ingestion }
