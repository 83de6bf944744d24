// Package metrics exposes burrow's Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics are the tunnel counters.
type Metrics struct {
	Incoming     *prometheus.CounterVec // labels: protocol, result=ok|error
	DialFailures *prometheus.CounterVec // labels: protocol
	ActiveRelays prometheus.Gauge
	RelayedBytes *prometheus.CounterVec // labels: direction=upstream|downstream
}

// New registers the tunnel metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Incoming: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "burrow_incoming_total",
			Help: "Accepted client connections by protocol and handshake result.",
		}, []string{"protocol", "result"}),
		DialFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "burrow_dial_failures_total",
			Help: "Failed outbound dials by client protocol.",
		}, []string{"protocol"}),
		ActiveRelays: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "burrow_active_relays",
			Help: "Connections currently being relayed.",
		}),
		RelayedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "burrow_relayed_bytes_total",
			Help: "Bytes relayed, by direction.",
		}, []string{"direction"}),
	}
	reg.MustRegister(m.Incoming, m.DialFailures, m.ActiveRelays, m.RelayedBytes)
	return m
}
