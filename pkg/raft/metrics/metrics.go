// Package metrics exposes the reactor's internal table and timer
// occupancy as Prometheus instruments, so a deployed node can be observed
// the way the rest of the example corpus observes its own servers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the gauges and counters the reactor updates as it
// mutates its connection table and timer registry. The zero value is not
// usable; construct one with New, which registers its instruments with the
// Prometheus registerer it is given (prometheus.DefaultRegisterer for the
// package-global one).
type Collector struct {
	Connections    prometheus.Gauge
	ReplicaTimers  prometheus.Gauge
	ReconnectTimers prometheus.Gauge
	Resets         *prometheus.CounterVec
}

// New constructs a Collector and registers its instruments with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "raft",
			Subsystem: "reactor",
			Name:      "connections",
			Help:      "Number of connections currently held in the connection table.",
		}),
		ReplicaTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "raft",
			Subsystem: "reactor",
			Name:      "replica_timers_armed",
			Help:      "Number of Replica timeouts currently armed.",
		}),
		ReconnectTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "raft",
			Subsystem: "reactor",
			Name:      "reconnect_timers_armed",
			Help:      "Number of Reconnect timeouts currently armed.",
		}),
		Resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raft",
			Subsystem: "reactor",
			Name:      "connection_resets_total",
			Help:      "Connection resets by classification at the time of reset.",
		}, []string{"kind"}),
	}
	reg.MustRegister(c.Connections, c.ReplicaTimers, c.ReconnectTimers, c.Resets)
	return c
}

// Handler exposes the metrics of Prometheus's default registry over HTTP
// for a scraper. A Collector registered with any other registry is not
// served by it; use promhttp.HandlerFor with that registry instead.
func Handler() http.Handler {
	return promhttp.Handler()
}
