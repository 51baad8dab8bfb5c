package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	connectionsAccepted *prometheus.CounterVec
	activeConnections   prometheus.Gauge
	acceptErrors        prometheus.Counter
	handlerErrors       prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		connectionsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anvil",
			Name:      "connections_accepted_total",
			Help:      "Client connections accepted, by endpoint kind.",
		}, []string{"kind"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "anvil",
			Name:      "active_connections",
			Help:      "Client connections currently being served.",
		}),
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anvil",
			Name:      "accept_errors_total",
			Help:      "Accept failures other than deliberate shutdown.",
		}),
		handlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anvil",
			Name:      "handler_errors_total",
			Help:      "Errors reported through the error callback.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connectionsAccepted, m.activeConnections, m.acceptErrors, m.handlerErrors)
	}
	return m
}
