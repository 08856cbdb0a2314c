package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	jobCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rivgen",
			Subsystem: "engine",
			Name:      "jobs_total",
			Help:      "orchestrated jobs by outcome",
		}, []string{"outcome"})
	pollTickCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rivgen",
			Subsystem: "engine",
			Name:      "poll_ticks_total",
			Help:      "history queries sent while waiting for jobs",
		})
	fetchRedirectCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rivgen",
			Subsystem: "engine",
			Name:      "fetch_redirects_total",
			Help:      "artifact fetches answered with a redirect",
		})
)

// InitMetrics registers all metrics in this package.
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(jobCounter)
	registry.MustRegister(pollTickCounter)
	registry.MustRegister(fetchRedirectCounter)
}
