package sequencer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goguide",
		Subsystem: "sequencer",
		Name:      "steps_total",
		Help:      "Steps finished, by status.",
	}, []string{"status"})
	metricSkipBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goguide",
		Subsystem: "sequencer",
		Name:      "skip_blocked_total",
		Help:      "Navigations to a later step that were refused.",
	})
	metricMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goguide",
		Subsystem: "sequencer",
		Name:      "validation_mismatches_total",
		Help:      "Interactions that did not match the recorded value.",
	})
)
