package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "splitproxy_connections_total",
			Help: "Total number of accepted client connections",
		},
	)

	connectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "splitproxy_connections_active",
			Help: "Client connections currently owned by workers",
		},
	)

	routesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitproxy_routes_total",
			Help: "Routing decisions by path",
		},
		[]string{"path"},
	)

	connectionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitproxy_connection_errors_total",
			Help: "Connections torn down by error, by reason",
		},
		[]string{"reason"},
	)
)
