package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

// fileConfig is the non-secret subset of Config that may come from a file.
// Secrets (passwords, tokens, JWT secret) are read from the environment
// only.
type fileConfig struct {
	Backend string `json:"backend" yaml:"backend" toml:"backend"`
	Server  struct {
		Host           string   `json:"host" yaml:"host" toml:"host"`
		Port           int      `json:"port" yaml:"port" toml:"port"`
		AllowedOrigins []string `json:"allowedOrigins" yaml:"allowed_origins" toml:"allowed_origins"`
	} `json:"server" yaml:"server" toml:"server"`
	Database struct {
		Host    string `json:"host" yaml:"host" toml:"host"`
		Port    int    `json:"port" yaml:"port" toml:"port"`
		User    string `json:"user" yaml:"user" toml:"user"`
		Name    string `json:"name" yaml:"name" toml:"name"`
		SSLMode string `json:"sslMode" yaml:"ssl_mode" toml:"ssl_mode"`
	} `json:"database" yaml:"database" toml:"database"`
	Upstream struct {
		URL        string `json:"url" yaml:"url" toml:"url"`
		Timeout    string `json:"timeout" yaml:"timeout" toml:"timeout"`
		MaxRetries int    `json:"maxRetries" yaml:"max_retries" toml:"max_retries"`
	} `json:"upstream" yaml:"upstream" toml:"upstream"`
	Auth struct {
		Issuer   string `json:"issuer" yaml:"issuer" toml:"issuer"`
		Disabled bool   `json:"disabled" yaml:"disabled" toml:"disabled"`
	} `json:"auth" yaml:"auth" toml:"auth"`
	AWS struct {
		Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
		Region  string `json:"region" yaml:"region" toml:"region"`
	} `json:"aws" yaml:"aws" toml:"aws"`
	Jobs struct {
		IngestSchedule    string `json:"ingestSchedule" yaml:"ingest_schedule" toml:"ingest_schedule"`
		IngestMonths      int    `json:"ingestMonths" yaml:"ingest_months" toml:"ingest_months"`
		FundCheckSchedule string `json:"fundCheckSchedule" yaml:"fund_check_schedule" toml:"fund_check_schedule"`
	} `json:"jobs" yaml:"jobs" toml:"jobs"`
	Billing struct {
		AWSShare           float64 `json:"awsShare" yaml:"aws_share" toml:"aws_share"`
		TrendMonths        int     `json:"trendMonths" yaml:"trend_months" toml:"trend_months"`
		FundWarningPercent float64 `json:"fundWarningPercent" yaml:"fund_warning_percent" toml:"fund_warning_percent"`
		DefaultRate        string  `json:"defaultExchangeRate" yaml:"default_exchange_rate" toml:"default_exchange_rate"`
	} `json:"billing" yaml:"billing" toml:"billing"`
	Cache struct {
		Size int    `json:"size" yaml:"size" toml:"size"`
		TTL  string `json:"ttl" yaml:"ttl" toml:"ttl"`
	} `json:"cache" yaml:"cache" toml:"cache"`
	AMQP struct {
		Exchange string `json:"exchange" yaml:"exchange" toml:"exchange"`
	} `json:"amqp" yaml:"amqp" toml:"amqp"`
	Notification struct {
		EmailSMTPHost   string   `json:"emailSmtpHost" yaml:"email_smtp_host" toml:"email_smtp_host"`
		EmailSMTPPort   int      `json:"emailSmtpPort" yaml:"email_smtp_port" toml:"email_smtp_port"`
		EmailFrom       string   `json:"emailFrom" yaml:"email_from" toml:"email_from"`
		EmailRecipients []string `json:"emailRecipients" yaml:"email_recipients" toml:"email_recipients"`
	} `json:"notification" yaml:"notification" toml:"notification"`
	Export struct {
		S3Bucket string `json:"s3Bucket" yaml:"s3_bucket" toml:"s3_bucket"`
		S3Prefix string `json:"s3Prefix" yaml:"s3_prefix" toml:"s3_prefix"`
		Region   string `json:"region" yaml:"region" toml:"region"`
	} `json:"export" yaml:"export" toml:"export"`
	Logging struct {
		Level  string `json:"level" yaml:"level" toml:"level"`
		Format string `json:"format" yaml:"format" toml:"format"`
	} `json:"logging" yaml:"logging" toml:"logging"`
}

// loadFile parses a TOML, YAML or JSON file chosen by extension.
func loadFile(path string) (*fileConfig, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error accessing config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, not a file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("error parsing TOML file: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("error parsing YAML file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("error parsing JSON file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}
	return &cfg, nil
}
