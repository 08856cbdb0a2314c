package ratelimit

import "github.com/prometheus/client_golang/prometheus"

var (
	retryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rivgen",
			Subsystem: "ratelimit",
			Name:      "retries_total",
			Help:      "retries scheduled after a failed upstream call, by delay source",
		}, []string{"upstream", "source"})
	fallbackCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rivgen",
			Subsystem: "ratelimit",
			Name:      "fallbacks_total",
			Help:      "calls that exhausted their attempts and used the local fallback",
		}, []string{"upstream"})
)

// InitMetrics registers all metrics in this package.
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(retryCounter)
	registry.MustRegister(fallbackCounter)
}
