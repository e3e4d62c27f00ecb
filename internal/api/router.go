package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/aiox-platform/personachat/internal/middleware"
)

// readinessTimeout bounds all dependency checks of one readiness probe.
const readinessTimeout = 3 * time.Second

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// AI handlers
	Generate  http.HandlerFunc
	Stream    http.HandlerFunc
	Sentiment http.HandlerFunc

	// Usage handlers
	GetUsage http.HandlerFunc

	// Auth middleware
	AuthMiddleware func(http.Handler) http.Handler
}

// HealthCheck is one dependency probed by the readiness endpoint.
// A failing optional check degrades the status without failing the probe.
type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Optional bool
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	AIRateLimiter      func(http.Handler) http.Handler
	ReadinessChecks    []HealthCheck
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe: always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		health := map[string]string{"status": "healthy"}
		status := http.StatusOK

		for _, c := range cfg.ReadinessChecks {
			if c.Check == nil {
				health[c.Name] = "not configured"
				continue
			}
			if err := c.Check(ctx); err != nil {
				health[c.Name] = "unhealthy"
				health["status"] = "degraded"
				if !c.Optional {
					status = http.StatusServiceUnavailable
				}
				continue
			}
			health[c.Name] = "healthy"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Route("/ai", func(r chi.Router) {
				if cfg.AIRateLimiter != nil {
					r.Use(cfg.AIRateLimiter)
				}
				r.Post("/generate", h.Generate)
				r.Post("/stream", h.Stream)
				r.Post("/sentiment", h.Sentiment)
			})

			r.Get("/usage", h.GetUsage)
		})
	})

	return r
}
