// ABOUTME: Prometheus collectors for inbound, delivery, completion, and transcription activity
// ABOUTME: Every method tolerates a nil receiver so components can run without metrics

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coven_relay"

// Worker states reported on the state gauge.
var workerStates = []string{"idle", "draining", "sending", "cooldown", "stopped"}

// Metrics holds the relay's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	inbound       *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	completions   *prometheus.CounterVec
	transcription *prometheus.CounterVec
	queuePending  prometheus.Gauge
	workerState   *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Inbound channel events by outcome.",
		}, []string{"result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Outbound delivery attempts by kind and outcome.",
		}, []string{"kind", "result"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Draft completion requests by outcome.",
		}, []string{"result"}),
		transcription: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_attempts_total",
			Help:      "Individual transcription attempts by outcome.",
		}, []string{"result"}),
		queuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending",
			Help:      "Items seen in the outbound queue at the last poll.",
		}),
		workerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_state",
			Help:      "1 for the delivery worker's current state, 0 otherwise.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(
		m.inbound,
		m.deliveries,
		m.completions,
		m.transcription,
		m.queuePending,
		m.workerState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) InboundEvent(result string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(result).Inc()
}

func (m *Metrics) Delivery(kind, result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Completion(result string) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(result).Inc()
}

func (m *Metrics) TranscriptionAttempt(result string) {
	if m == nil {
		return
	}
	m.transcription.WithLabelValues(result).Inc()
}

func (m *Metrics) QueuePending(n int) {
	if m == nil {
		return
	}
	m.queuePending.Set(float64(n))
}

// WorkerState sets the gauge for state to 1 and every other state to 0.
func (m *Metrics) WorkerState(state string) {
	if m == nil {
		return
	}
	for _, s := range workerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.workerState.WithLabelValues(s).Set(v)
	}
}
