package ledger

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests *prometheus.CounterVec
	retries  *prometheus.CounterVec
}

// newMetrics registers the ledger client collectors on reg. A nil registerer
// keeps the collectors unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ballot",
				Subsystem: "ledger",
				Name:      "requests_total",
				Help:      "Ledger requests by endpoint and status class",
			},
			[]string{"endpoint", "status"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ballot",
				Subsystem: "ledger",
				Name:      "retries_total",
				Help:      "Ledger read retries by endpoint",
			},
			[]string{"endpoint"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.retries)
	}
	return m
}

func (m *metrics) observe(endpoint string, status int) {
	class := "error"
	if status > 0 {
		class = strconv.Itoa(status/100) + "xx"
	}
	m.requests.WithLabelValues(endpoint, class).Inc()
}

func (m *metrics) retry(endpoint string) {
	m.retries.WithLabelValues(endpoint).Inc()
}
