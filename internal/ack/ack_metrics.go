package ack

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for acknowledgment tracking.
type Metrics struct {
	TransitionsTotal *prometheus.CounterVec
	TimeToAck        prometheus.Histogram
	EscalationsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns ack metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "muster_ack_transitions_total",
			Help: "Acknowledgment status transitions by from/to status.",
		}, []string{"from", "to"}),
		TimeToAck: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "muster_time_to_ack_seconds",
			Help:    "Time from dispatch to first acknowledgment in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~68min
		}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "muster_auto_escalations_total",
			Help: "Escalation timer outcomes: fired, suppressed by a prior acknowledgment, or exhausted.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.TransitionsTotal, m.TimeToAck, m.EscalationsTotal)
	return m
}

// Hooks decouples the tracker from the metrics registry; any field may
// be nil.
type Hooks struct {
	OnTransition func(from, to string)
	OnTimeToAck  func(seconds float64)
	OnEscalation func(fired bool)
	OnExhausted  func()
}

func (h Hooks) onTransition(from, to string) {
	if h.OnTransition != nil {
		h.OnTransition(from, to)
	}
}

func (h Hooks) onTimeToAck(seconds float64) {
	if h.OnTimeToAck != nil {
		h.OnTimeToAck(seconds)
	}
}

func (h Hooks) onEscalation(fired bool) {
	if h.OnEscalation != nil {
		h.OnEscalation(fired)
	}
}

func (h Hooks) onExhausted() {
	if h.OnExhausted != nil {
		h.OnExhausted()
	}
}

// Hooks returns tracker hooks that increment the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnTransition: func(from, to string) {
			m.TransitionsTotal.WithLabelValues(from, to).Inc()
		},
		OnTimeToAck: m.TimeToAck.Observe,
		OnEscalation: func(fired bool) {
			outcome := "fired"
			if !fired {
				outcome = "suppressed"
			}
			m.EscalationsTotal.WithLabelValues(outcome).Inc()
		},
		OnExhausted: func() {
			m.EscalationsTotal.WithLabelValues("exhausted").Inc()
		},
	}
}
