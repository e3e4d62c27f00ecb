package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Providers.Timeout)
	assert.Equal(t, 0.9, cfg.Generation.DefaultTemperature)
	assert.Equal(t, 20, cfg.Generation.HistoryLimit)
	assert.Equal(t, 25, cfg.Quota.FreeDailyMessages)
	assert.Equal(t, "0 0 * * *", cfg.Scheduler.ResetCron)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "gemini", cfg.Providers.Primary.Name)
	assert.Equal(t, "openai", cfg.Providers.Fallback.Name)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PRIMARY_API_KEY", "primary-key")
	t.Setenv("FALLBACK_BASE_URL", "https://gateway.example.com/v1")
	t.Setenv("FALLBACK_AUTH_HEADER", "X-Api-Key")
	t.Setenv("PROVIDER_TIMEOUT", "30s")
	t.Setenv("QUOTA_FREE_DAILY_MESSAGES", "10")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "primary-key", cfg.Providers.Primary.APIKey)
	assert.Equal(t, "https://gateway.example.com/v1", cfg.Providers.Fallback.BaseURL)
	assert.Equal(t, "X-Api-Key", cfg.Providers.Fallback.AuthHeader)
	assert.Equal(t, 30*time.Second, cfg.Providers.Timeout)
	assert.Equal(t, 10, cfg.Quota.FreeDailyMessages)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("PROVIDER_TIMEOUT", "soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestDBConfig_DSN(t *testing.T) {
	c := DBConfig{User: "u", Password: "p", Host: "h", Port: 5432, Name: "n", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/n?sslmode=disable", c.DSN())
}
