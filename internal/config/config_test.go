package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "BEHAVIOR_SWEEP_INTERVAL", "30m")
	setEnv(t, "ALLOWED_ORIGINS", "https://mod.example.com, https://ops.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.BehaviorSweepInterval)
	assert.Equal(t, 15*time.Minute, cfg.ConfidenceApplyInterval)
	assert.Equal(t, DefaultRetentionMonths, cfg.BehaviorRetentionMonths)
	assert.Equal(t, []string{"https://mod.example.com", "https://ops.example.com"}, cfg.AllowedOrigins)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, time.Hour, cfg.BehaviorSweepInterval)
	assert.Equal(t, time.Hour, cfg.RiskEvalInterval)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitRPS)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid config",
			config: Config{
				BehaviorRetentionMonths: 24,
				RateLimitRPS:            100,
				BehaviorSweepInterval:   time.Hour,
			},
			wantErr: "",
		},
		{
			name: "zero retention",
			config: Config{
				BehaviorRetentionMonths: 0,
				RateLimitRPS:            100,
				BehaviorSweepInterval:   time.Hour,
			},
			wantErr: "BEHAVIOR_RETENTION_MONTHS",
		},
		{
			name: "zero rate limit",
			config: Config{
				BehaviorRetentionMonths: 24,
				RateLimitRPS:            0,
				BehaviorSweepInterval:   time.Hour,
			},
			wantErr: "RATE_LIMIT_RPS",
		},
		{
			name: "sweep interval too short",
			config: Config{
				BehaviorRetentionMonths: 24,
				RateLimitRPS:            100,
				BehaviorSweepInterval:   time.Second,
			},
			wantErr: "BEHAVIOR_SWEEP_INTERVAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DUR", "90s")
	setEnv(t, "TEST_BAD_DUR", "soon")

	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DUR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("NONEXISTENT_VAR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_BAD_DUR", time.Minute)) // Falls back on parse error
}
