package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Server:  ServerConfig{Port: 8080},
		Backend: BackendMemory,
		Auth:    AuthConfig{JWTSecret: "secret"},
		Billing: BillingConfig{AWSShare: 0.82, FundWarningPercent: 80, TrendMonths: 12},
		Cache:   CacheConfig{Size: 10, TTL: time.Minute},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid memory backend", func(*Config) {}, ""},
		{"postgres needs password", func(c *Config) { c.Backend = BackendPostgres }, "DB_PASSWORD is required"},
		{"postgres with password", func(c *Config) { c.Backend = BackendPostgres; c.Database.Password = "pw" }, ""},
		{"remote needs url", func(c *Config) { c.Backend = BackendRemote }, "UPSTREAM_URL is required"},
		{"unknown backend", func(c *Config) { c.Backend = "sqlite" }, `invalid data backend "sqlite"`},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "invalid port 70000"},
		{"missing jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, "JWT_SECRET is required"},
		{"auth disabled", func(c *Config) { c.Auth = AuthConfig{Disabled: true} }, ""},
		{"aws share one", func(c *Config) { c.Billing.AWSShare = 1 }, "invalid AWS share"},
		{"aws share zero", func(c *Config) { c.Billing.AWSShare = 0 }, "invalid AWS share"},
		{"warning percent", func(c *Config) { c.Billing.FundWarningPercent = 120 }, "invalid fund warning percent"},
		{"trend months", func(c *Config) { c.Billing.TrendMonths = 0 }, "invalid trend months"},
		{"amqp without exchange", func(c *Config) { c.AMQP.URL = "amqp://localhost" }, "AMQP_EXCHANGE is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateReportsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Backend = BackendRemote
	cfg.Billing.AWSShare = 2
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"UPSTREAM_URL", "AWS share"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DATA_BACKEND", "memory")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("SERVER_PORT", "")
	t.Setenv("BILLING_AWS_SHARE", "")
	t.Setenv("REPORT_CACHE_TTL", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Billing.AWSShare != 0.82 || cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Export.Region != cfg.AWS.Region {
		t.Errorf("export region should default to the AWS region")
	}
}

func TestLoadFileOverlayAndEnvPrecedence(t *testing.T) {
	files := map[string]string{
		"config.yaml": `
backend: memory
server:
  port: 9090
  allowed_origins: ["https://billing.example"]
billing:
  aws_share: 0.75
cache:
  ttl: 2m
`,
		"config.toml": `
backend = "memory"
[server]
port = 9090
allowed_origins = ["https://billing.example"]
[billing]
aws_share = 0.75
[cache]
ttl = "2m"
`,
		"config.json": `{"backend":"memory","server":{"port":9090,"allowedOrigins":["https://billing.example"]},
"billing":{"awsShare":0.75},"cache":{"ttl":"2m"}}`,
	}
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			setBaseEnv(t)
			path := filepath.Join(t.TempDir(), name)
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				t.Fatal(err)
			}
			t.Setenv("CONFIG_FILE", path)
			t.Setenv("BILLING_AWS_SHARE", "0.9")

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Server.Port != 9090 {
				t.Errorf("port = %d, want file value 9090", cfg.Server.Port)
			}
			if cfg.Billing.AWSShare != 0.9 {
				t.Errorf("aws share = %v, env should win", cfg.Billing.AWSShare)
			}
			if cfg.Cache.TTL != 2*time.Minute {
				t.Errorf("cache ttl = %v", cfg.Cache.TTL)
			}
			if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://billing.example" {
				t.Errorf("origins = %v", cfg.Server.AllowedOrigins)
			}
		})
	}
}

func TestLoadRejectsUnknownFileFormat(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), "config.ini")
	if err := os.WriteFile(path, []byte("x=1"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "unsupported config file format") {
		t.Fatalf("expected format error, got %v", err)
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", " a, ,b ,c")
	got := getEnvList("TEST_LIST", nil)
	if strings.Join(got, "|") != "a|b|c" {
		t.Errorf("getEnvList = %v", got)
	}
}
