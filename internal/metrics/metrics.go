// Package metrics registers the Prometheus collectors for the realtime
// core. Label cardinality is kept to the three message roles.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveConnections gauges live registered connections across both
	// registry indexes.
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_connections",
			Help: "Current number of registered live connections.",
		},
	)

	// MessagesRouted counts messages persisted and handed to fanout.
	MessagesRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_routed_total",
			Help: "Total messages persisted and routed, by role.",
		},
		[]string{"role"},
	)

	// DeliveryFailures counts individual send attempts that failed.
	DeliveryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_delivery_failures_total",
			Help: "Total failed send attempts to live connections.",
		},
	)

	// Evictions counts connections removed after exhausting send
	// retries or being observed closed during fanout.
	Evictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_connection_evictions_total",
			Help: "Total connections evicted from the registry by the router.",
		},
	)
)

func init() {
	prometheus.MustRegister(ActiveConnections, MessagesRouted, DeliveryFailures, Evictions)
}

// Handler serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
