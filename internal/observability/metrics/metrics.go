package metrics

import "github.com/prometheus/client_golang/prometheus"

// CorrelationMetrics exposes counters for the reply correlation pipeline.
type CorrelationMetrics struct {
	resolvedTotal *prometheus.CounterVec
	missTotal     *prometheus.CounterVec
}

func NewCorrelationMetrics(reg prometheus.Registerer) *CorrelationMetrics {
	m := &CorrelationMetrics{
		resolvedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anonzap",
			Subsystem: "correlation",
			Name:      "resolved_total",
			Help:      "Replies correlated to an outbound message, by resolver stage",
		}, []string{"stage", "channel"}),
		missTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anonzap",
			Subsystem: "correlation",
			Name:      "miss_total",
			Help:      "Inbound replies no resolver stage could correlate",
		}, []string{"channel"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.resolvedTotal, m.missTotal)
	return m
}

func (m *CorrelationMetrics) ObserveResolved(stage, channel string) {
	if m == nil {
		return
	}
	m.resolvedTotal.WithLabelValues(stage, channel).Inc()
}

func (m *CorrelationMetrics) ObserveMiss(channel string) {
	if m == nil {
		return
	}
	m.missTotal.WithLabelValues(channel).Inc()
}

// SessionMetrics tracks channel session lifecycle events.
type SessionMetrics struct {
	transitions    *prometheus.CounterVec
	reconnects     prometheus.Counter
	healthFailures prometheus.Counter
}

func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anonzap",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Channel session state transitions",
		}, []string{"from", "to"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anonzap",
			Subsystem: "session",
			Name:      "reconnect_schedules_total",
			Help:      "Automatic reconnects scheduled",
		}),
		healthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anonzap",
			Subsystem: "session",
			Name:      "health_probe_failures_total",
			Help:      "Failed or timed-out health probes",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.reconnects, m.healthFailures)
	return m
}

func (m *SessionMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *SessionMetrics) ObserveReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *SessionMetrics) ObserveHealthFailure() {
	if m == nil {
		return
	}
	m.healthFailures.Inc()
}

// DispatchMetrics counts outbound sends.
type DispatchMetrics struct {
	sendTotal *prometheus.CounterVec
}

func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		sendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anonzap",
			Subsystem: "dispatch",
			Name:      "send_total",
			Help:      "Outbound message send attempts",
		}, []string{"channel", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sendTotal)
	return m
}

func (m *DispatchMetrics) ObserveSend(channel, status string) {
	if m == nil {
		return
	}
	m.sendTotal.WithLabelValues(channel, status).Inc()
}
