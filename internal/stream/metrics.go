package stream

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts stream activity per collection. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	active         *prometheus.GaugeVec
	snapshots      *prometheus.CounterVec
	decodeFailures *prometheus.CounterVec
}

// NewMetrics registers stream collectors on reg, reusing collectors that are
// already registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "teamup",
			Subsystem: "stream",
			Name:      "active",
			Help:      "Number of open live streams",
		}, []string{"collection"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamup",
			Subsystem: "stream",
			Name:      "snapshots_total",
			Help:      "Snapshots built from remote changes",
		}, []string{"collection"}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamup",
			Subsystem: "stream",
			Name:      "decode_failures_total",
			Help:      "Records skipped because they could not be decoded",
		}, []string{"collection"}),
	}
	if reg == nil {
		return m
	}
	for _, collector := range []prometheus.Collector{m.active, m.snapshots, m.decodeFailures} {
		if err := reg.Register(collector); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch v := are.ExistingCollector.(type) {
				case *prometheus.GaugeVec:
					m.active = v
				case *prometheus.CounterVec:
					if collector == m.snapshots {
						m.snapshots = v
					} else if collector == m.decodeFailures {
						m.decodeFailures = v
					}
				}
			}
		}
	}
	return m
}

func (m *Metrics) opened(collection string) {
	if m == nil {
		return
	}
	m.active.WithLabelValues(collection).Inc()
}

func (m *Metrics) closed(collection string) {
	if m == nil {
		return
	}
	m.active.WithLabelValues(collection).Dec()
}

func (m *Metrics) snapshot(collection string) {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues(collection).Inc()
}

func (m *Metrics) decodeFailure(collection string) {
	if m == nil {
		return
	}
	m.decodeFailures.WithLabelValues(collection).Inc()
}
