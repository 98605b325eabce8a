// Package metrics exports Prometheus collectors for HTTP, AI, build, and
// WebSocket activity.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	AIRequestsTotal   *prometheus.CounterVec
	AIRequestDuration *prometheus.HistogramVec
	AITokensUsed      *prometheus.CounterVec
	AICostTotal       *prometheus.CounterVec
	AIProviderHealth  *prometheus.GaugeVec

	BuildsTotal         *prometheus.CounterVec
	BuildStepDuration   *prometheus.HistogramVec
	BuildsInFlight      prometheus.Gauge
	FilesGeneratedTotal prometheus.Counter

	WebSocketConnections prometheus.Gauge
	WebSocketMessages    *prometheus.CounterVec

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	GuideSessionsTotal prometheus.Counter
	GuideMessagesTotal *prometheus.CounterVec
}

// Get returns the singleton Metrics instance, registering collectors on
// first use.
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "appforge_http_requests_total",
				Help: "HTTP requests by method, endpoint, and status.",
			}, []string{"method", "endpoint", "status"}),
			HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "appforge_http_request_duration_seconds",
				Help:    "HTTP request latency.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			}, []string{"method", "endpoint"}),
			HTTPRequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "appforge_http_requests_in_flight",
				Help: "HTTP requests currently being served.",
			}),

			AIRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "appforge_ai_requests_total",
				Help: "AI generations by provider, capability, and outcome.",
			}, []string{"provider", "capability", "status"}),
			AIRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "appforge_ai_request_duration_seconds",
				Help:    "AI generation latency.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			}, []string{"provider", "capability"}),
			AITokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "appforge_ai_tokens_total",
				Help: "Tokens consumed by provider and direction.",
			}, []string{"provider", "direction"}),
			AICostTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "appforge_ai_cost_dollars_total",
				Help: "Estimated AI spend in dollars by provider.",
			}, []string{"provider"}),
			AIProviderHealth: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "appforge_ai_provider_healthy",
				Help: "1 when the provider's last health check passed.",
			}, []string{"provider"}),

			BuildsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "appforge_builds_total",
				Help: "Builds by terminal status.",
			}, []string{"status"}),
			BuildStepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "appforge_build_step_duration_seconds",
				Help:    "Pipeline step duration.",
				Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
			}, []string{"step"}),
			BuildsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "appforge_builds_in_flight",
				Help: "Builds currently running.",
			}),
			FilesGeneratedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "appforge_files_generated_total",
				Help: "Files produced by build pipelines.",
			}),

			WebSocketConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "appforge_websocket_connections",
				Help: "Open WebSocket connections.",
			}),
			WebSocketMessages: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "appforge_websocket_messages_total",
				Help: "WebSocket messages by direction.",
			}, []string{"direction"}),

			CacheHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "appforge_cache_hits_total",
				Help: "Cache lookups served from a tier.",
			}),
			CacheMissesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "appforge_cache_misses_total",
				Help: "Cache lookups that fell through.",
			}),

			GuideSessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "appforge_guide_sessions_total",
				Help: "Guide sessions started.",
			}),
			GuideMessagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "appforge_guide_messages_total",
				Help: "Guide messages by classified intent.",
			}, []string{"intent"}),
		}
	})
	return instance
}

// RecordAIRequest records one AI generation.
func (m *Metrics) RecordAIRequest(provider, capability, status string, duration time.Duration, inputTokens, outputTokens int, cost float64) {
	m.AIRequestsTotal.WithLabelValues(provider, capability, status).Inc()
	m.AIRequestDuration.WithLabelValues(provider, capability).Observe(duration.Seconds())
	m.AITokensUsed.WithLabelValues(provider, "input").Add(float64(inputTokens))
	m.AITokensUsed.WithLabelValues(provider, "output").Add(float64(outputTokens))
	if cost > 0 {
		m.AICostTotal.WithLabelValues(provider).Add(cost)
	}
}

// RecordBuild records a build reaching a terminal status.
func (m *Metrics) RecordBuild(status string) {
	m.BuildsTotal.WithLabelValues(status).Inc()
}

// normalizeEndpoint collapses unparameterized paths so the label set stays
// bounded.
func normalizeEndpoint(path string) string {
	if path == "" {
		return "unknown"
	}
	// gin's FullPath already carries :param placeholders; anything else is
	// an unmatched route.
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "unknown"
}
