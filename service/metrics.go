package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Flow names used as metric labels.
const (
	FlowTally = "tally"
	FlowVote  = "vote"
)

// Flow outcomes used as metric labels.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeRejected    = "rejected"
	OutcomeUnconfirmed = "unconfirmed"
)

// Metrics records how long each flow takes and how it ends. A nil *Metrics
// records nothing.
type Metrics struct {
	duration *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
}

// NewMetrics registers the flow metrics with reg. A nil registerer leaves
// them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ballot",
			Subsystem: "flow",
			Name:      "duration_seconds",
			Help:      "Time taken by a client flow from start to its final state",
			Buckets:   prometheus.DefBuckets,
		}, []string{"flow"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ballot",
			Subsystem: "flow",
			Name:      "outcomes_total",
			Help:      "Number of finished client flows by outcome",
		}, []string{"flow", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.duration, m.outcomes)
	}
	return m
}

func (m *Metrics) record(flow, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(flow).Observe(time.Since(start).Seconds())
	m.outcomes.WithLabelValues(flow, outcome).Inc()
}
