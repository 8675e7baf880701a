// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Sweep intervals
	BehaviorSweepInterval   time.Duration
	ConfidenceApplyInterval time.Duration
	RiskEvalInterval        time.Duration

	// Behavior retention
	BehaviorRetentionMonths int

	// Security
	WebhookSecret string // Default HMAC secret for notification webhooks
	RateLimitRPS  int
	AdminSecret   string // Admin API secret

	// Tracing
	OTLPEndpoint string

	// CORS
	AllowedOrigins []string
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultRateLimit       = 100
	DefaultRetentionMonths = 24
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                    getEnv("PORT", DefaultPort),
		Env:                     getEnv("ENV", DefaultEnv),
		LogLevel:                getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:             os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		BehaviorSweepInterval:   getEnvDuration("BEHAVIOR_SWEEP_INTERVAL", time.Hour),
		ConfidenceApplyInterval: getEnvDuration("CONFIDENCE_APPLY_INTERVAL", 15*time.Minute),
		RiskEvalInterval:        getEnvDuration("RISK_EVAL_INTERVAL", time.Hour),
		BehaviorRetentionMonths: int(getEnvInt64("BEHAVIOR_RETENTION_MONTHS", DefaultRetentionMonths)),
		WebhookSecret:           os.Getenv("WEBHOOK_SECRET"),
		RateLimitRPS:            int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		AdminSecret:             os.Getenv("ADMIN_SECRET"),
		OTLPEndpoint:            os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitAndTrim(origins)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.BehaviorRetentionMonths <= 0 {
		return fmt.Errorf("BEHAVIOR_RETENTION_MONTHS must be positive")
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive")
	}
	if c.BehaviorSweepInterval < time.Minute {
		return fmt.Errorf("BEHAVIOR_SWEEP_INTERVAL must be at least one minute")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
