package core

import (
	"strings"
	"testing"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Database.DSN = "postgres://localhost:5432/depositd"
	return cfg
}

func TestConfigValidate_DefaultsWithDSNPass(t *testing.T) {
	if err := validTestConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestConfigValidate_RejectsMissingRequiredFields(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{
			name:    "missing service name",
			mutate:  func(c *Config) { c.ServiceName = "  " },
			message: "service_name",
		},
		{
			name:    "missing dsn",
			mutate:  func(c *Config) { c.Database.DSN = "" },
			message: "database.dsn",
		},
		{
			name:    "non-positive max requests",
			mutate:  func(c *Config) { c.RateLimit.MaxRequests = 0 },
			message: "max_requests",
		},
	}
	for _, tc := range cases {
		cfg := validTestConfig()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.message) {
			t.Fatalf("%s: expected %q in error, got %v", tc.name, tc.message, err)
		}
	}
}

func TestConfigValidate_ProductionRequiresSecrets(t *testing.T) {
	cfg := validTestConfig()
	cfg.Environment = EnvironmentProduction

	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "webhook.secret") {
		t.Fatalf("expected webhook secret requirement, got %v", err)
	}

	cfg.Webhook.Secret = "shared-secret"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "identity_key") {
		t.Fatalf("expected identity key requirement, got %v", err)
	}

	cfg.RateLimit.IdentityKey = "identity-key"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected production config valid once secrets set, got %v", err)
	}

	// Case-insensitive environment match still enforces the gate.
	cfg.Webhook.Secret = ""
	cfg.Environment = "Production"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected secret gate for mixed-case environment")
	}
}

func TestConfigValidate_DistributedRateLimitRequiresRedis(t *testing.T) {
	cfg := validTestConfig()
	cfg.Features.DistributedRateLimit = true

	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "redis_addr") {
		t.Fatalf("expected redis address requirement, got %v", err)
	}

	cfg.RateLimit.RedisAddr = "localhost:6379"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected distributed config valid with redis addr, got %v", err)
	}
}

func TestDefaultConfig_DurationsAndConfirmations(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RateLimit.Window().Minutes() != 1 {
		t.Fatalf("expected one minute window, got %s", cfg.RateLimit.Window())
	}
	if cfg.DeadLetter.RetryDelayBase().Seconds() != 5 {
		t.Fatalf("expected 5s retry base, got %s", cfg.DeadLetter.RetryDelayBase())
	}
	if cfg.DeadLetter.MaxAge().Hours() != 168 {
		t.Fatalf("expected 168h max age, got %s", cfg.DeadLetter.MaxAge())
	}
	if cfg.Confirmations["ethereum"] != 12 || cfg.Confirmations["bitcoin"] != 3 {
		t.Fatalf("unexpected confirmation defaults: %v", cfg.Confirmations)
	}

	// Zero-value durations still resolve to usable defaults.
	var zero DeadLetterConfig
	if zero.MaxRetryDelay().Minutes() != 15 {
		t.Fatalf("expected 15m fallback, got %s", zero.MaxRetryDelay())
	}
}
