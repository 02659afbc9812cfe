// Package metrics exposes lifecycle counters for prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	SweepTransitions *prometheus.CounterVec
	SweepErrors      prometheus.Counter
	SweepDuration    prometheus.Histogram
	ReapPurged       prometheus.Counter
	ReapErrors       prometheus.Counter
	JoinResults      *prometheus.CounterVec
}

// New registers the lifecycle collectors on reg. Passing nil leaves them
// unregistered, which tests use to avoid global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SweepTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ephemera",
			Name:      "sweep_transitions_total",
			Help:      "Group status transitions applied by the sweep.",
		}, []string{"to", "reason"}),
		SweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ephemera",
			Name:      "sweep_errors_total",
			Help:      "Per-group sweep failures, including lost races.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ephemera",
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of one sweep pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		ReapPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ephemera",
			Name:      "reap_purged_total",
			Help:      "Archived groups purged after retention.",
		}),
		ReapErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ephemera",
			Name:      "reap_errors_total",
			Help:      "Per-group reap failures.",
		}),
		JoinResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ephemera",
			Name:      "join_results_total",
			Help:      "Join attempts by outcome.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.SweepTransitions, m.SweepErrors, m.SweepDuration, m.ReapPurged, m.ReapErrors, m.JoinResults)
	}
	return m
}
