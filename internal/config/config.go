package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server     ServerConfig
	DB         DBConfig
	Redis      RedisConfig
	NATS       NATSConfig
	JWT        JWTConfig
	Log        LogConfig
	Providers  ProvidersConfig
	Generation GenerationConfig
	Quota      QuotaConfig
	Scheduler  SchedulerConfig
	RateLimit  RateLimitConfig
	CORS       CORSConfig
	Telemetry  TelemetryConfig
}

type ServerConfig struct {
	Host string
	Port int
	// WriteTimeout bounds buffered responses. Streaming responses clear it per request.
	WriteTimeout time.Duration
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig is optional: an empty URL disables event publishing.
type NATSConfig struct {
	URL string
}

type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// ProviderConfig describes one upstream text-generation endpoint.
type ProviderConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
	// AuthHeader overrides the default credential header of the adapter.
	AuthHeader string
}

type ProvidersConfig struct {
	Primary  ProviderConfig
	Fallback ProviderConfig
	Timeout  time.Duration
}

type GenerationConfig struct {
	DefaultTemperature float64
	HistoryLimit       int
}

type QuotaConfig struct {
	FreeDailyMessages int
	// BurstPerMinute caps generations per user per minute. Zero disables the guard.
	BurstPerMinute int
}

type SchedulerConfig struct {
	Enabled   bool
	ResetCron string
}

type RateLimitConfig struct {
	RequestsPerWindow int
	WindowSec         int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	return fromKoanf(k)
}

func fromKoanf(k *koanf.Koanf) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		JWT: JWTConfig{
			AccessSecret: k.String("jwt.access.secret"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
		Providers: ProvidersConfig{
			Primary: ProviderConfig{
				Name:       k.String("primary.name"),
				BaseURL:    k.String("primary.base.url"),
				APIKey:     k.String("primary.api.key"),
				Model:      k.String("primary.model"),
				AuthHeader: k.String("primary.auth.header"),
			},
			Fallback: ProviderConfig{
				Name:       k.String("fallback.name"),
				BaseURL:    k.String("fallback.base.url"),
				APIKey:     k.String("fallback.api.key"),
				Model:      k.String("fallback.model"),
				AuthHeader: k.String("fallback.auth.header"),
			},
		},
		Generation: GenerationConfig{
			DefaultTemperature: k.Float64("generation.default.temperature"),
			HistoryLimit:       k.Int("generation.history.limit"),
		},
		Quota: QuotaConfig{
			FreeDailyMessages: k.Int("quota.free.daily.messages"),
			BurstPerMinute:    k.Int("quota.burst.per.minute"),
		},
		Scheduler: SchedulerConfig{
			Enabled:   k.String("scheduler.enabled") != "false",
			ResetCron: k.String("scheduler.reset.cron"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: k.Int("ratelimit.requests"),
			WindowSec:         k.Int("ratelimit.window.sec"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      k.Bool("telemetry.enabled"),
			OTLPEndpoint: k.String("telemetry.otlp.endpoint"),
			ServiceName:  k.String("telemetry.service.name"),
		},
	}

	if origins := k.String("cors.allowed.origins"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, o)
			}
		}
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "personachat"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "personachat"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Providers.Primary.Name == "" {
		cfg.Providers.Primary.Name = "gemini"
	}
	if cfg.Providers.Primary.BaseURL == "" {
		cfg.Providers.Primary.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Providers.Primary.Model == "" {
		cfg.Providers.Primary.Model = "gemini-1.5-flash"
	}
	if cfg.Providers.Fallback.Name == "" {
		cfg.Providers.Fallback.Name = "openai"
	}
	if cfg.Providers.Fallback.BaseURL == "" {
		cfg.Providers.Fallback.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Providers.Fallback.Model == "" {
		cfg.Providers.Fallback.Model = "gpt-4o-mini"
	}
	if cfg.Generation.DefaultTemperature == 0 {
		cfg.Generation.DefaultTemperature = 0.9
	}
	if cfg.Generation.HistoryLimit == 0 {
		cfg.Generation.HistoryLimit = 20
	}
	if cfg.Quota.FreeDailyMessages == 0 {
		cfg.Quota.FreeDailyMessages = 25
	}
	if cfg.Scheduler.ResetCron == "" {
		cfg.Scheduler.ResetCron = "0 0 * * *"
	}
	if cfg.RateLimit.RequestsPerWindow == 0 {
		cfg.RateLimit.RequestsPerWindow = 60
	}
	if cfg.RateLimit.WindowSec == 0 {
		cfg.RateLimit.WindowSec = 60
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "personachat"
	}

	// Parse durations
	var err error
	cfg.JWT.AccessExpiry, err = parseDuration(k, "jwt.access.expiry", "15m")
	if err != nil {
		return nil, fmt.Errorf("parsing jwt access expiry: %w", err)
	}
	cfg.Providers.Timeout, err = parseDuration(k, "provider.timeout", "60s")
	if err != nil {
		return nil, fmt.Errorf("parsing provider timeout: %w", err)
	}
	cfg.Server.WriteTimeout, err = parseDuration(k, "server.write.timeout", "15s")
	if err != nil {
		return nil, fmt.Errorf("parsing server write timeout: %w", err)
	}

	return cfg, nil
}

func parseDuration(k *koanf.Koanf, key, def string) (time.Duration, error) {
	s := k.String(key)
	if s == "" {
		s = def
	}
	return time.ParseDuration(s)
}
