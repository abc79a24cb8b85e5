// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Data backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRemote   = "remote"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Backend      string
	Upstream     UpstreamConfig
	Auth         AuthConfig
	AWS          AWSConfig
	Jobs         JobsConfig
	Billing      BillingConfig
	Cache        CacheConfig
	AMQP         AMQPConfig
	Notification NotificationConfig
	Export       ExportConfig
	Logging      LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MaxOpenConns  int
	MaxIdleConns  int
	MaxLifetime   time.Duration
	AutoMigrate   bool
	SeedDemoData  bool
	DemoEndPeriod string
}

// UpstreamConfig points at a remote billing API used as data backend.
type UpstreamConfig struct {
	URL            string
	Token          string
	Timeout        time.Duration
	MaxRetries     int
	CircuitBreaker CircuitBreakerConfig
}

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// AuthConfig holds token verification settings. Tokens are issued by the
// identity provider; this service only verifies them.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Disabled  bool
}

// AWSConfig holds Cost Explorer ingestion settings.
type AWSConfig struct {
	Enabled     bool
	Region      string
	AccessKeyID string
	SecretKey   string
	ExternalID  string
	SessionName string
}

// JobsConfig holds background job settings.
type JobsConfig struct {
	IngestSchedule    string
	IngestMonths      int
	FundCheckSchedule string
	CacheSweep        string
}

// BillingConfig tunes the aggregation engine.
type BillingConfig struct {
	AWSShare           float64
	TrendMonths        int
	FundWarningPercent float64
	DefaultRate        string
}

// CacheConfig sizes the report cache.
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// AMQPConfig holds event broker settings. An empty URL disables publishing.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// NotificationConfig holds notification settings.
type NotificationConfig struct {
	SlackWebhookURL string
	EmailSMTPHost   string
	EmailSMTPPort   int
	EmailFrom       string
	EmailPassword   string
	EmailRecipients []string
	WebhookURLs     []string
}

// ExportConfig holds report archive settings. An empty bucket disables
// uploads.
type ExportConfig struct {
	S3Bucket string
	S3Prefix string
	Region   string
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads the optional CONFIG_FILE overlay and then the environment.
// Environment variables win over file values, file values over defaults.
func Load() (*Config, error) {
	var f fileConfig
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		loaded, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		f = *loaded
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", pick(f.Server.Host, "0.0.0.0")),
			Port:            getEnvInt("SERVER_PORT", pick(f.Server.Port, 8080)),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getEnvList("CORS_ALLOWED_ORIGINS", pickList(f.Server.AllowedOrigins, []string{"http://localhost:3000"})),
		},
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", pick(f.Database.Host, "localhost")),
			Port:          getEnvInt("DB_PORT", pick(f.Database.Port, 5432)),
			User:          getEnv("DB_USER", pick(f.Database.User, "billing")),
			Password:      getEnv("DB_PASSWORD", ""),
			Name:          getEnv("DB_NAME", pick(f.Database.Name, "billing")),
			SSLMode:       getEnv("DB_SSL_MODE", pick(f.Database.SSLMode, "disable")),
			MaxOpenConns:  getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  getEnvInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:   getEnvDuration("DB_MAX_LIFETIME", 5*time.Minute),
			AutoMigrate:   getEnvBool("DB_AUTO_MIGRATE", true),
			SeedDemoData:  getEnvBool("SEED_DEMO_DATA", true),
			DemoEndPeriod: getEnv("DEMO_END_PERIOD", ""),
		},
		Backend: strings.ToLower(getEnv("DATA_BACKEND", pick(f.Backend, BackendPostgres))),
		Upstream: UpstreamConfig{
			URL:        getEnv("UPSTREAM_URL", f.Upstream.URL),
			Token:      getEnv("UPSTREAM_TOKEN", ""),
			Timeout:    getEnvDuration("UPSTREAM_TIMEOUT", pickDuration(f.Upstream.Timeout, 30*time.Second)),
			MaxRetries: getEnvInt("UPSTREAM_MAX_RETRIES", pick(f.Upstream.MaxRetries, 3)),
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures:  getEnvInt("CB_MAX_FAILURES", 5),
				ResetTimeout: getEnvDuration("CB_RESET_TIMEOUT", 30*time.Second),
			},
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", f.Auth.Issuer),
			Disabled:  getEnvBool("AUTH_DISABLED", f.Auth.Disabled),
		},
		AWS: AWSConfig{
			Enabled:     getEnvBool("AWS_ENABLED", f.AWS.Enabled),
			Region:      getEnv("AWS_REGION", pick(f.AWS.Region, "us-east-1")),
			AccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ExternalID:  getEnv("AWS_EXTERNAL_ID", ""),
			SessionName: getEnv("AWS_SESSION_NAME", "reseller-billing"),
		},
		Jobs: JobsConfig{
			IngestSchedule:    getEnv("JOB_COST_INGEST", pick(f.Jobs.IngestSchedule, "0 */6 * * *")),
			IngestMonths:      getEnvInt("JOB_COST_INGEST_MONTHS", pick(f.Jobs.IngestMonths, 2)),
			FundCheckSchedule: getEnv("JOB_FUND_CHECK", pick(f.Jobs.FundCheckSchedule, "0 * * * *")),
			CacheSweep:        getEnv("JOB_CACHE_SWEEP", "*/10 * * * *"),
		},
		Billing: BillingConfig{
			AWSShare:           getEnvFloat("BILLING_AWS_SHARE", pick(f.Billing.AWSShare, 0.82)),
			TrendMonths:        getEnvInt("BILLING_TREND_MONTHS", pick(f.Billing.TrendMonths, 12)),
			FundWarningPercent: getEnvFloat("BILLING_FUND_WARNING_PERCENT", pick(f.Billing.FundWarningPercent, 80)),
			DefaultRate:        getEnv("BILLING_DEFAULT_EXCHANGE_RATE", pick(f.Billing.DefaultRate, "1")),
		},
		Cache: CacheConfig{
			Size: getEnvInt("REPORT_CACHE_SIZE", pick(f.Cache.Size, 256)),
			TTL:  getEnvDuration("REPORT_CACHE_TTL", pickDuration(f.Cache.TTL, 5*time.Minute)),
		},
		AMQP: AMQPConfig{
			URL:      getEnv("AMQP_URL", ""),
			Exchange: getEnv("AMQP_EXCHANGE", pick(f.AMQP.Exchange, "billing.events")),
		},
		Notification: NotificationConfig{
			SlackWebhookURL: getEnv("NOTIFICATION_SLACK_WEBHOOK", ""),
			EmailSMTPHost:   getEnv("NOTIFICATION_EMAIL_SMTP_HOST", f.Notification.EmailSMTPHost),
			EmailSMTPPort:   getEnvInt("NOTIFICATION_EMAIL_SMTP_PORT", pick(f.Notification.EmailSMTPPort, 587)),
			EmailFrom:       getEnv("NOTIFICATION_EMAIL_FROM", f.Notification.EmailFrom),
			EmailPassword:   getEnv("NOTIFICATION_EMAIL_PASSWORD", ""),
			EmailRecipients: getEnvList("NOTIFICATION_EMAIL_RECIPIENTS", f.Notification.EmailRecipients),
			WebhookURLs:     getEnvList("NOTIFICATION_WEBHOOK_URLS", nil),
		},
		Export: ExportConfig{
			S3Bucket: getEnv("EXPORT_S3_BUCKET", f.Export.S3Bucket),
			S3Prefix: getEnv("EXPORT_S3_PREFIX", pick(f.Export.S3Prefix, "reports/")),
			Region:   getEnv("EXPORT_S3_REGION", f.Export.Region),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", pick(f.Logging.Level, "info")),
			Format: getEnv("LOG_FORMAT", pick(f.Logging.Format, "json")),
		},
	}
	if cfg.Export.Region == "" {
		cfg.Export.Region = cfg.AWS.Region
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration. All problems are reported at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Server.Port))
	}
	switch c.Backend {
	case BackendPostgres:
		if c.Database.Password == "" {
			errs = append(errs, errors.New("DB_PASSWORD is required for the postgres backend"))
		}
	case BackendRemote:
		if c.Upstream.URL == "" {
			errs = append(errs, errors.New("UPSTREAM_URL is required for the remote backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("invalid data backend %q: must be postgres, memory or remote", c.Backend))
	}
	if !c.Auth.Disabled && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required unless AUTH_DISABLED=true"))
	}
	if c.Billing.AWSShare <= 0 || c.Billing.AWSShare >= 1 {
		errs = append(errs, fmt.Errorf("invalid AWS share %v: must be between 0 and 1 exclusive", c.Billing.AWSShare))
	}
	if c.Billing.FundWarningPercent <= 0 || c.Billing.FundWarningPercent > 100 {
		errs = append(errs, fmt.Errorf("invalid fund warning percent %v: must be in (0, 100]", c.Billing.FundWarningPercent))
	}
	if c.Billing.TrendMonths < 1 || c.Billing.TrendMonths > 60 {
		errs = append(errs, fmt.Errorf("invalid trend months %d: must be between 1 and 60", c.Billing.TrendMonths))
	}
	if c.Cache.Size < 0 {
		errs = append(errs, fmt.Errorf("invalid cache size %d", c.Cache.Size))
	}
	if c.AMQP.URL != "" && c.AMQP.Exchange == "" {
		errs = append(errs, errors.New("AMQP_EXCHANGE is required when AMQP_URL is set"))
	}
	return errors.Join(errs...)
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// Helper functions
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func pick[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}
	return v
}

func pickList(v, fallback []string) []string {
	if len(v) == 0 {
		return fallback
	}
	return v
}

func pickDuration(s string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && s != "" {
		return d
	}
	return fallback
}
