// Package metrics provides Prometheus instrumentation for the vigil engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts control-surface requests by method, route and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status class.",
		},
		[]string{"method", "path", "status"},
	)

	// TicksTotal counts completed analysis ticks by resulting level.
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "ticks_total",
			Help:      "Completed analysis ticks by risk level.",
		},
		[]string{"level"},
	)

	// LevelTransitionsTotal counts level changes between consecutive ticks.
	LevelTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "level_transitions_total",
			Help:      "Risk level transitions by previous and new level.",
		},
		[]string{"from", "to"},
	)

	ModelLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vigil",
		Name:      "model_latency_seconds",
		Help:      "Generative model call latency in seconds, including retries.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
	})

	// FallbacksTotal counts fallback advisories by reason.
	FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "advisory_fallbacks_total",
			Help:      "Fallback advisories emitted by reason.",
		},
		[]string{"reason"}, // "malformed_output", "model_unavailable"
	)

	// PromptCacheTotal counts prompt cache outcomes.
	PromptCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "prompt_cache_total",
			Help:      "Prompt cache outcomes per model call.",
		},
		[]string{"result"}, // "hit", "miss", "recreate", "disabled"
	)

	// TokensTotal counts billed tokens by kind.
	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "tokens_total",
			Help:      "Model tokens by kind.",
		},
		[]string{"kind"}, // "input", "output", "cache_write", "cache_read"
	)

	CostUSDTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "cost_usd_total",
		Help:      "Estimated model spend in USD.",
	})

	RetrievalLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vigil",
		Name:      "retrieval_latency_seconds",
		Help:      "Knowledge retrieval latency in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	RetrievalFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "retrieval_failures_total",
		Help:      "Retrievals that failed after retrying; the tick proceeded ungrounded.",
	})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vigil",
		Name:      "active_sessions",
		Help:      "Sessions currently being monitored.",
	})

	SinkErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "sink_errors_total",
			Help:      "Advisory sink failures by sink.",
		},
		[]string{"sink"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		TicksTotal,
		LevelTransitionsTotal,
		ModelLatency,
		FallbacksTotal,
		PromptCacheTotal,
		TokensTotal,
		CostUSDTotal,
		RetrievalLatency,
		RetrievalFailuresTotal,
		ActiveSessions,
		SinkErrorsTotal,
	)
}

// Since observes the seconds elapsed from start on h.
func Since(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Middleware records request counts by route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, statusBucket(ww.Status())).Inc()
	})
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusBucket(code int) string {
	switch {
	case code == 0:
		return "2xx"
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
