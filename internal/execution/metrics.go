package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricReports = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "goguide",
	Subsystem: "execution",
	Name:      "reports_total",
	Help:      "Reports sent to or dropped by the remote, by kind.",
}, []string{"kind", "outcome"})
