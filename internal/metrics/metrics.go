// Package metrics registers the connection runtime's Prometheus
// instruments, activated only when a Runtime has EnableMetrics set.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set bundles the instruments one Connection reports through. Registered
// once per Connection against the Runtime's Registerer; unregistered on
// teardown so repeated connect/disconnect cycles against the same Runtime
// don't panic on duplicate registration.
type Set struct {
	OperationsInFlight prometheus.Gauge
	Retries            prometheus.Counter
	KeepAliveMisses    prometheus.Counter
	BytesSent          prometheus.Counter
	BytesReceived      prometheus.Counter

	reg prometheus.Registerer
}

// New creates and registers a Set against reg, labeled by clientID so
// multiple concurrent connections on one Registerer stay distinguishable.
func New(reg prometheus.Registerer, clientID string) *Set {
	labels := prometheus.Labels{"client_id": clientID}
	s := &Set{
		reg: reg,
		OperationsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "mqttrt",
			Name:        "operations_in_flight",
			Help:        "Number of operations awaiting completion.",
			ConstLabels: labels,
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mqttrt",
			Name:        "publish_retries_total",
			Help:        "Number of QoS 1 PUBLISH retransmissions.",
			ConstLabels: labels,
		}),
		KeepAliveMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mqttrt",
			Name:        "keepalive_misses_total",
			Help:        "Number of keep-alive intervals that did not observe a PINGRESP in time.",
			ConstLabels: labels,
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mqttrt",
			Name:        "bytes_sent_total",
			Help:        "Bytes written to the transport.",
			ConstLabels: labels,
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mqttrt",
			Name:        "bytes_received_total",
			Help:        "Bytes decoded from the transport.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(s.OperationsInFlight, s.Retries, s.KeepAliveMisses, s.BytesSent, s.BytesReceived)
	return s
}

// Close unregisters every instrument in the set.
func (s *Set) Close() {
	if s == nil {
		return
	}
	s.reg.Unregister(s.OperationsInFlight)
	s.reg.Unregister(s.Retries)
	s.reg.Unregister(s.KeepAliveMisses)
	s.reg.Unregister(s.BytesSent)
	s.reg.Unregister(s.BytesReceived)
}
