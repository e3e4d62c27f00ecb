package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personachat_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "personachat_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	GenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personachat_generations_total",
			Help: "Total number of generation requests by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "personachat_provider_request_duration_seconds",
			Help:    "Upstream provider call duration in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"provider", "mode", "outcome"},
	)

	ProviderFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personachat_provider_fallbacks_total",
			Help: "Total number of switches from the primary to the fallback provider.",
		},
		[]string{"mode"},
	)

	QuotaDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personachat_quota_denials_total",
			Help: "Total number of generations refused by the quota gate.",
		},
		[]string{"reason"},
	)

	TokensUsedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personachat_tokens_used_total",
			Help: "Total tokens consumed, reported or estimated, per provider.",
		},
		[]string{"provider"},
	)

	ActiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "personachat_active_streams",
			Help: "Number of generation streams currently in flight.",
		},
	)

	DailyResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "personachat_daily_reset_rows_total",
			Help: "Total usage rows zeroed by the scheduled daily reset.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		GenerationsTotal,
		ProviderRequestDuration,
		ProviderFallbacksTotal,
		QuotaDenialsTotal,
		TokensUsedTotal,
		ActiveStreams,
		DailyResetsTotal,
	)
}
