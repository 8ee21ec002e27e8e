package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lookupsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "splitproxy_resolver_lookups_total",
		Help: "Resolver cache lookups by result",
	},
	[]string{"result"},
)
