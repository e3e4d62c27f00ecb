package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aiox-platform/personachat/internal/api"
	"github.com/aiox-platform/personachat/internal/auth"
	"github.com/aiox-platform/personachat/internal/config"
	"github.com/aiox-platform/personachat/internal/database"
	"github.com/aiox-platform/personachat/internal/generation"
	"github.com/aiox-platform/personachat/internal/llm"
	"github.com/aiox-platform/personachat/internal/llm/providers"
	"github.com/aiox-platform/personachat/internal/middleware"
	inats "github.com/aiox-platform/personachat/internal/nats"
	"github.com/aiox-platform/personachat/internal/personas"
	iredis "github.com/aiox-platform/personachat/internal/redis"
	"github.com/aiox-platform/personachat/internal/scheduler"
	"github.com/aiox-platform/personachat/internal/server"
	"github.com/aiox-platform/personachat/internal/telemetry"
	"github.com/aiox-platform/personachat/internal/usage"
	"github.com/aiox-platform/personachat/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// Tracing
	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("flushing traces", "error", err)
		}
	}()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	readiness := []api.HealthCheck{
		{Name: "database", Check: func(ctx context.Context) error { return database.HealthCheck(ctx, pool) }},
		{Name: "redis", Check: func(ctx context.Context) error { return iredis.HealthCheck(ctx, redisClient) }},
	}

	// NATS (optional)
	var publisher *inats.Publisher
	if cfg.NATS.URL != "" {
		natsClient, err := inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			return err
		}
		defer natsClient.Close()
		publisher = inats.NewPublisher(natsClient.JetStream())
		readiness = append(readiness, api.HealthCheck{
			Name:     "nats",
			Optional: true,
			Check: func(context.Context) error {
				if !natsClient.Healthy() {
					return errors.New("not connected")
				}
				return nil
			},
		})
	}

	// Quota
	userSvc := users.NewService(users.NewRepository(pool))
	var gateOpts []usage.Option
	if cfg.Quota.BurstPerMinute > 0 {
		gateOpts = append(gateOpts, usage.WithBurstLimiter(usage.NewBurstLimiter(redisClient, cfg.Quota.BurstPerMinute)))
	}
	gate := usage.NewGate(usage.NewRepository(pool), userSvc, cfg.Quota, gateOpts...)

	// Generation
	personaSvc := personas.NewService(personas.NewRepository(pool))
	fallback := llm.NewFallback(
		providers.NewGemini(cfg.Providers.Primary, cfg.Providers.Timeout),
		providers.NewOpenAI(cfg.Providers.Fallback, cfg.Providers.Timeout),
	)
	var genOpts []generation.Option
	if publisher != nil {
		genOpts = append(genOpts, generation.WithPublisher(publisher))
	}
	genSvc := generation.NewService(gate, personaSvc, fallback, cfg.Generation, genOpts...)
	genHandler := generation.NewHandler(genSvc)
	usageHandler := usage.NewHandler(gate)

	// Auth
	jwtManager := auth.NewJWTManager(cfg.JWT.AccessSecret, cfg.JWT.AccessExpiry)

	// Router
	// /ai routes sit behind auth, so the bucket is the user, not the shared address.
	aiLimiter := middleware.NewRateLimiter(redisClient, "ratelimit:ai:",
		cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowSec,
		middleware.WithKeyFunc(aiRateLimitKey))
	router := api.NewRouter(api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		AIRateLimiter:      aiLimiter.Middleware,
		ReadinessChecks:    readiness,
	}, api.HandlerSet{
		Generate:       genHandler.Generate,
		Stream:         genHandler.Stream,
		Sentiment:      genHandler.Sentiment,
		GetUsage:       usageHandler.GetUsage,
		AuthMiddleware: auth.Middleware(jwtManager),
	})

	g, gctx := errgroup.WithContext(ctx)

	srv := server.New(cfg.Server, router)
	g.Go(func() error { return srv.Start(gctx) })

	if cfg.Scheduler.Enabled {
		var resetPublisher scheduler.ResetPublisher
		if publisher != nil {
			resetPublisher = publisher
		}
		sched, err := scheduler.New(cfg.Scheduler, gate, resetPublisher)
		if err != nil {
			return err
		}
		g.Go(func() error { return sched.Run(gctx) })
	}

	return g.Wait()
}

func aiRateLimitKey(r *http.Request) string {
	if id, ok := auth.UserID(r.Context()); ok {
		return "user:" + id.String()
	}
	return "ip:" + middleware.ClientIP(r)
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
