// Package metrics exposes the harvester's own supportability counters to
// Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "harvester"

// Delivery outcomes.
const (
	OutcomeSent   = "sent"
	OutcomeRetry  = "retry"
	OutcomeFailed = "failed"
)

// Metrics holds the Prometheus collectors. It satisfies bus.Observer.
type Metrics struct {
	mu sync.Mutex

	deliveriesTotal  *prometheus.CounterVec
	payloadBytes     *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	handlerFaults    *prometheus.CounterVec
	droppedEmits     *prometheus.CounterVec
	factsTotal       *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// New creates the collectors. A nil registerer means the default one.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer:      registerer,
		deliveriesTotal: newCounterVec("harvest", "deliveries_total", "Collector submissions by endpoint, method and outcome", []string{"endpoint", "method", "outcome"}),
		payloadBytes:    newCounterVec("harvest", "payload_bytes_total", "Bytes submitted to the collector", []string{"endpoint"}),
		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "harvest",
				Name:      "delivery_duration_seconds",
				Help:      "Time from submission to collector response",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"endpoint"},
		),
		handlerFaults: newCounterVec("bus", "handler_faults_total", "Handler errors and panics converted to internal-error events", []string{"type"}),
		droppedEmits:  newCounterVec("bus", "dropped_emits_total", "Emissions dropped after the event tree was aborted", []string{"type"}),
		factsTotal:    newCounterVec("input", "facts_total", "Facts accepted from producers", []string{"type"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.deliveriesTotal,
		m.payloadBytes,
		m.deliveryDuration,
		m.handlerFaults,
		m.droppedEmits,
		m.factsTotal,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordDelivery counts one collector submission.
func (m *Metrics) RecordDelivery(endpoint, method, outcome string, bytes int, duration time.Duration) {
	m.deliveriesTotal.WithLabelValues(endpoint, method, outcome).Inc()
	if bytes > 0 {
		m.payloadBytes.WithLabelValues(endpoint).Add(float64(bytes))
	}
	if outcome != OutcomeFailed {
		m.deliveryDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
	}
}

// RecordFact counts one fact accepted from a producer.
func (m *Metrics) RecordFact(typ string) {
	m.factsTotal.WithLabelValues(typ).Inc()
}

func (m *Metrics) HandlerFault(typ string, _ error) {
	m.handlerFaults.WithLabelValues(typ).Inc()
}

func (m *Metrics) Dropped(typ string) {
	m.droppedEmits.WithLabelValues(typ).Inc()
}
