// Package metrics exposes Prometheus collectors for the processor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the processor's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	Appends        *prometheus.CounterVec
	Processed      *prometheus.CounterVec
	Redeliveries   prometheus.Counter
	DeadLetters    *prometheus.CounterVec
	ClaimsInFlight prometheus.Gauge
	BreakerState   *prometheus.GaugeVec
	AgentCalls     *prometheus.CounterVec
	SnapshotWrites *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardroom",
			Name:      "appends_total",
			Help:      "Append calls by result.",
		}, []string{"result"}),
		Processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardroom",
			Name:      "events_processed_total",
			Help:      "Events handled by the state machine, by outcome.",
		}, []string{"outcome"}),
		Redeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boardroom",
			Name:      "batch_redeliveries_total",
			Help:      "Batches scheduled for redelivery after a failure.",
		}),
		DeadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardroom",
			Name:      "dead_letters_total",
			Help:      "Events moved to the dead-letter table, by cause.",
		}, []string{"cause"}),
		ClaimsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "boardroom",
			Name:      "claims_in_flight",
			Help:      "Rooms currently claimed by a worker.",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "boardroom",
			Name:      "agent_breaker_state",
			Help:      "Circuit breaker state per agent domain (0 closed, 1 half-open, 2 open).",
		}, []string{"domain"}),
		AgentCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardroom",
			Name:      "agent_calls_total",
			Help:      "Agent invocations by domain and result.",
		}, []string{"domain", "result"}),
		SnapshotWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardroom",
			Name:      "snapshot_commits_total",
			Help:      "Snapshot commits by result.",
		}, []string{"result"}),
	}
	m.Registry.MustRegister(
		m.Appends, m.Processed, m.Redeliveries, m.DeadLetters,
		m.ClaimsInFlight, m.BreakerState, m.AgentCalls, m.SnapshotWrites,
	)
	return m
}

func (m *Metrics) IncAppend(result string) {
	if m != nil {
		m.Appends.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncProcessed(outcome string) {
	if m != nil {
		m.Processed.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncRedelivery() {
	if m != nil {
		m.Redeliveries.Inc()
	}
}

func (m *Metrics) AddDeadLetters(cause string, n int) {
	if m != nil {
		m.DeadLetters.WithLabelValues(cause).Add(float64(n))
	}
}

func (m *Metrics) SetClaimsInFlight(n int) {
	if m != nil {
		m.ClaimsInFlight.Set(float64(n))
	}
}

func (m *Metrics) SetBreakerState(domain string, state int) {
	if m != nil {
		m.BreakerState.WithLabelValues(domain).Set(float64(state))
	}
}

func (m *Metrics) IncAgentCall(domain, result string) {
	if m != nil {
		m.AgentCalls.WithLabelValues(domain, result).Inc()
	}
}

func (m *Metrics) IncSnapshot(result string) {
	if m != nil {
		m.SnapshotWrites.WithLabelValues(result).Inc()
	}
}
