package overlay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAttached = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goguide",
		Subsystem: "overlay",
		Name:      "attached_total",
		Help:      "Overlays attached to a target.",
	})
	metricForcedReveals = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goguide",
		Subsystem: "overlay",
		Name:      "forced_reveals_total",
		Help:      "Overlays revealed because the target never became stable.",
	})
	metricDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goguide",
		Subsystem: "overlay",
		Name:      "degraded_anchors_total",
		Help:      "Overlays anchored to an ancestor because the target had no size.",
	})
	metricReanchored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goguide",
		Subsystem: "overlay",
		Name:      "reanchored_total",
		Help:      "Overlays moved to a re-resolved target after the original was detached.",
	})
)
