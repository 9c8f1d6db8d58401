package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goguide",
		Subsystem: "resolver",
		Name:      "resolved_total",
		Help:      "Targets resolved, by the tier that found them.",
	}, []string{"tier"})
	metricNotFound = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goguide",
		Subsystem: "resolver",
		Name:      "not_found_total",
		Help:      "Resolutions that exhausted every tier.",
	})
)
