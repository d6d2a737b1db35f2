package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the dispatch subsystem.
type Metrics struct {
	DispatchesTotal   *prometheus.CounterVec
	DispatchDuration  prometheus.Histogram
	ChannelSendsTotal *prometheus.CounterVec
	Recipients        prometheus.Histogram
	NarrowedTotal     *prometheus.CounterVec
	EscalationsTotal  *prometheus.CounterVec
}

// NewMetrics registers and returns dispatch metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "muster_dispatches_total",
			Help: "Total alert dispatches by scenario and outcome.",
		}, []string{"scenario", "outcome"}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "muster_dispatch_duration_seconds",
			Help:    "Duration of alert fan-out in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms .. ~5s
		}),
		ChannelSendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "muster_channel_sends_total",
			Help: "Total channel send attempts by channel and status.",
		}, []string{"channel", "status"}),
		Recipients: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "muster_dispatch_recipients",
			Help:    "Recipients addressed per dispatch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 .. 128
		}),
		NarrowedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "muster_recipient_narrowing_total",
			Help: "Location-scoped dispatches by whether the static fallback was used.",
		}, []string{"fallback"}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "muster_escalations_total",
			Help: "Escalation timer outcomes.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.DispatchesTotal,
		m.DispatchDuration,
		m.ChannelSendsTotal,
		m.Recipients,
		m.NarrowedTotal,
		m.EscalationsTotal,
	)
	return m
}

// Hooks decouples the dispatcher from the metrics registry; any field may
// be nil.
type Hooks struct {
	OnDispatch    func(scenario string, delivered bool, duration float64, recipients int)
	OnChannelSend func(channel string, ok bool)
	OnNarrowed    func(fallback bool)
}

func (h Hooks) onDispatch(scenario string, delivered bool, duration float64, recipients int) {
	if h.OnDispatch != nil {
		h.OnDispatch(scenario, delivered, duration, recipients)
	}
}

func (h Hooks) onChannelSend(channel string, ok bool) {
	if h.OnChannelSend != nil {
		h.OnChannelSend(channel, ok)
	}
}

func (h Hooks) onNarrowed(fallback bool) {
	if h.OnNarrowed != nil {
		h.OnNarrowed(fallback)
	}
}

// Hooks returns dispatcher hooks that increment the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnDispatch: func(scenario string, delivered bool, duration float64, recipients int) {
			outcome := "delivered"
			if !delivered {
				outcome = "undelivered"
			}
			m.DispatchesTotal.WithLabelValues(scenario, outcome).Inc()
			m.DispatchDuration.Observe(duration)
			m.Recipients.Observe(float64(recipients))
		},
		OnChannelSend: func(channel string, ok bool) {
			status := "success"
			if !ok {
				status = "error"
			}
			m.ChannelSendsTotal.WithLabelValues(channel, status).Inc()
		},
		OnNarrowed: func(fallback bool) {
			m.NarrowedTotal.WithLabelValues(boolLabel(fallback)).Inc()
		},
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
