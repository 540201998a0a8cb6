package core

import (
	"fmt"
	"strings"
	"time"
)

const EnvironmentProduction = "production"

type ServerConfig struct {
	Host string `koanf:"host" mapstructure:"host"`
	Port string `koanf:"port" mapstructure:"port"`
}

// DatabaseConfig satisfies the persistence client's config contract; see the
// Get* methods below.
type DatabaseConfig struct {
	Driver        string `koanf:"driver" mapstructure:"driver"`
	DSN           string `koanf:"dsn" mapstructure:"dsn"`
	Debug         bool   `koanf:"debug" mapstructure:"debug"`
	PingTimeoutMs int    `koanf:"ping_timeout_ms" mapstructure:"ping_timeout_ms"`
}

func (c DatabaseConfig) GetDebug() bool    { return c.Debug }
func (c DatabaseConfig) GetDriver() string { return c.Driver }
func (c DatabaseConfig) GetServer() string { return c.DSN }

func (c DatabaseConfig) GetPingTimeout() time.Duration {
	if c.PingTimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.PingTimeoutMs) * time.Millisecond
}

func (c DatabaseConfig) GetOtelIdentifier() string { return "depositd" }

type WebhookConfig struct {
	// Secret signs inbound payloads with HMAC-SHA512. Mandatory in
	// production; requests are rejected when verification fails.
	Secret string `koanf:"secret" mapstructure:"secret"`
}

type RateLimitConfig struct {
	WindowMs    int `koanf:"window_ms" mapstructure:"window_ms"`
	MaxRequests int `koanf:"max_requests" mapstructure:"max_requests"`
	// IdentityKey keys the HMAC that hashes client identities before they
	// are used as lookup keys. Must be stable across instances.
	IdentityKey string `koanf:"identity_key" mapstructure:"identity_key"`
	Distributed bool   `koanf:"distributed" mapstructure:"distributed"`
	RedisAddr   string `koanf:"redis_addr" mapstructure:"redis_addr"`
	RedisDB     int    `koanf:"redis_db" mapstructure:"redis_db"`
}

func (c RateLimitConfig) Window() time.Duration {
	if c.WindowMs <= 0 {
		return time.Minute
	}
	return time.Duration(c.WindowMs) * time.Millisecond
}

type DeadLetterConfig struct {
	MaxRetries       int    `koanf:"max_retries" mapstructure:"max_retries"`
	RetryDelayBaseMs int    `koanf:"retry_delay_base_ms" mapstructure:"retry_delay_base_ms"`
	MaxRetryDelayMs  int    `koanf:"max_retry_delay_ms" mapstructure:"max_retry_delay_ms"`
	MaxAgeHours      int    `koanf:"max_age_hours" mapstructure:"max_age_hours"`
	BatchSize        int    `koanf:"batch_size" mapstructure:"batch_size"`
	Workers          int    `koanf:"workers" mapstructure:"workers"`
	RetrySchedule    string `koanf:"retry_schedule" mapstructure:"retry_schedule"`
	SweepSchedule    string `koanf:"sweep_schedule" mapstructure:"sweep_schedule"`
}

func (c DeadLetterConfig) RetryDelayBase() time.Duration {
	if c.RetryDelayBaseMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.RetryDelayBaseMs) * time.Millisecond
}

func (c DeadLetterConfig) MaxRetryDelay() time.Duration {
	if c.MaxRetryDelayMs <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.MaxRetryDelayMs) * time.Millisecond
}

func (c DeadLetterConfig) MaxAge() time.Duration {
	if c.MaxAgeHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.MaxAgeHours) * time.Hour
}

type FeaturesConfig struct {
	AuditLog             bool `koanf:"audit_log" mapstructure:"audit_log"`
	Metrics              bool `koanf:"metrics" mapstructure:"metrics"`
	DistributedRateLimit bool `koanf:"distributed_rate_limit" mapstructure:"distributed_rate_limit"`
}

type Config struct {
	ServiceName   string           `koanf:"service_name" mapstructure:"service_name"`
	Environment   string           `koanf:"environment" mapstructure:"environment"`
	Server        ServerConfig     `koanf:"server" mapstructure:"server"`
	Database      DatabaseConfig   `koanf:"database" mapstructure:"database"`
	Webhook       WebhookConfig    `koanf:"webhook" mapstructure:"webhook"`
	RateLimit     RateLimitConfig  `koanf:"rate_limit" mapstructure:"rate_limit"`
	DeadLetter    DeadLetterConfig `koanf:"dead_letter" mapstructure:"dead_letter"`
	Confirmations map[string]int   `koanf:"confirmations" mapstructure:"confirmations"`
	Features      FeaturesConfig   `koanf:"features" mapstructure:"features"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "depositd",
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
		},
		Database: DatabaseConfig{
			Driver:        "postgres",
			PingTimeoutMs: 5000,
		},
		RateLimit: RateLimitConfig{
			WindowMs:    60_000,
			MaxRequests: 100,
		},
		DeadLetter: DeadLetterConfig{
			MaxRetries:       5,
			RetryDelayBaseMs: 5_000,
			MaxRetryDelayMs:  900_000,
			MaxAgeHours:      168,
			BatchSize:        50,
			Workers:          3,
			RetrySchedule:    "@every 30s",
			SweepSchedule:    "@every 1h",
		},
		Confirmations: DefaultRequiredConfirmations(),
	}
}

// DefaultRequiredConfirmations is the static chain -> required confirmation
// table used when the config file does not override it.
func DefaultRequiredConfirmations() map[string]int {
	return map[string]int{
		"bitcoin":  3,
		"ethereum": 12,
		"xrp":      1,
		"tron":     19,
		"solana":   32,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("core: database.dsn is required")
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("core: rate_limit.max_requests must be positive")
	}
	if strings.EqualFold(strings.TrimSpace(c.Environment), EnvironmentProduction) {
		if strings.TrimSpace(c.Webhook.Secret) == "" {
			return fmt.Errorf("core: webhook.secret is required in production")
		}
		if strings.TrimSpace(c.RateLimit.IdentityKey) == "" {
			return fmt.Errorf("core: rate_limit.identity_key is required in production")
		}
	}
	if c.Features.DistributedRateLimit && strings.TrimSpace(c.RateLimit.RedisAddr) == "" {
		return fmt.Errorf("core: rate_limit.redis_addr is required for distributed rate limiting")
	}
	return nil
}
