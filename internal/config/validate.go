package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}

	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// Providers
	if c.Providers.Primary.APIKey == "" {
		errs = append(errs, "PRIMARY_API_KEY is required")
	}
	if c.Providers.Fallback.APIKey == "" {
		errs = append(errs, "FALLBACK_API_KEY is required")
	}
	if c.Providers.Primary.Name == c.Providers.Fallback.Name {
		errs = append(errs, "PRIMARY_NAME and FALLBACK_NAME must differ")
	}
	if c.Providers.Timeout <= 0 {
		errs = append(errs, "PROVIDER_TIMEOUT must be positive")
	}

	// Generation
	if c.Generation.DefaultTemperature < 0 || c.Generation.DefaultTemperature > 1 {
		errs = append(errs, fmt.Sprintf("GENERATION_DEFAULT_TEMPERATURE must be 0–1, got %g", c.Generation.DefaultTemperature))
	}
	if c.Generation.HistoryLimit < 1 {
		errs = append(errs, "GENERATION_HISTORY_LIMIT must be positive")
	}
	if c.Quota.FreeDailyMessages < 1 {
		errs = append(errs, "QUOTA_FREE_DAILY_MESSAGES must be positive")
	}
	if c.Quota.BurstPerMinute < 0 {
		errs = append(errs, "QUOTA_BURST_PER_MINUTE must not be negative")
	}

	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.ResetCron); err != nil {
			errs = append(errs, fmt.Sprintf("SCHEDULER_RESET_CRON is invalid: %v", err))
		}
	}

	// NATS is optional: warn only
	if c.NATS.URL == "" {
		slog.Warn("NATS_URL is empty, generation events will not be published")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
