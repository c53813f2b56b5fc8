// Package metrics exposes the room's registry gauges and lifecycle
// counters for Prometheus scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Sessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stagehand_sessions",
		Help: "Connected peer sessions.",
	})
	Transports = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stagehand_transports",
		Help: "Open engine transports.",
	})
	Producers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stagehand_producers",
		Help: "Active producers.",
	})
	Consumers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stagehand_consumers",
		Help: "Active consumers.",
	})
	ReapedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stagehand_reaped_sessions_total",
		Help: "Sessions removed by the stale reaper.",
	})
	LifecycleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagehand_lifecycle_errors_total",
		Help: "Lifecycle procedure errors by code.",
	}, []string{"code"})
)

// SetRegistrySizes mirrors the room registry sizes into the gauges.
func SetRegistrySizes(sessions, transports, producers, consumers int) {
	Sessions.Set(float64(sessions))
	Transports.Set(float64(transports))
	Producers.Set(float64(producers))
	Consumers.Set(float64(consumers))
}
