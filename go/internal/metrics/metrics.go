// Package metrics collects counters for the realtime engine and the relay.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector defines the interface for collecting sync engine metrics
type Collector interface {
	RecordEnvelopeSent(envelopeType string)
	RecordEnvelopeDropped(envelopeType string)
	RecordEnvelopeReceived(envelopeType string)
	RecordReconnectAttempt(attempt int, delay time.Duration)
	RecordAppend(activityType string, success bool)
	RecordReconciliation(activityType, decision string)
	RecordRelayConnection(delta int)
	RecordRelayFanout(recipients int)
}

// NoOpCollector is a no-op implementation for when metrics aren't needed
type NoOpCollector struct{}

func (NoOpCollector) RecordEnvelopeSent(string)                 {}
func (NoOpCollector) RecordEnvelopeDropped(string)              {}
func (NoOpCollector) RecordEnvelopeReceived(string)             {}
func (NoOpCollector) RecordReconnectAttempt(int, time.Duration) {}
func (NoOpCollector) RecordAppend(string, bool)                 {}
func (NoOpCollector) RecordReconciliation(string, string)       {}
func (NoOpCollector) RecordRelayConnection(int)                 {}
func (NoOpCollector) RecordRelayFanout(int)                     {}

// PrometheusCollector implements Collector on a caller-supplied registry.
type PrometheusCollector struct {
	envelopes         *prometheus.CounterVec
	reconnectAttempts *prometheus.CounterVec
	reconnectDelay    prometheus.Histogram
	appends           *prometheus.CounterVec
	reconciliations   *prometheus.CounterVec
	relayConnections  prometheus.Gauge
	relayFanout       prometheus.Histogram
}

// NewPrometheusCollector builds the collectors and registers them with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	m := &PrometheusCollector{
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "focusroom",
			Subsystem: "realtime",
			Name:      "envelopes_total",
			Help:      "Realtime envelopes by type and outcome (sent, dropped, received).",
		}, []string{"type", "outcome"}),
		reconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "focusroom",
			Subsystem: "realtime",
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnect attempts by attempt number.",
		}, []string{"attempt"}),
		reconnectDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "focusroom",
			Subsystem: "realtime",
			Name:      "reconnect_delay_seconds",
			Help:      "Backoff delay before each reconnect attempt.",
			Buckets:   []float64{1, 2, 4, 8, 10, 16},
		}),
		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "focusroom",
			Subsystem: "activity",
			Name:      "appends_total",
			Help:      "Activity appends by type and write-through status.",
		}, []string{"type", "status"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "focusroom",
			Subsystem: "timer",
			Name:      "reconciliations_total",
			Help:      "Reconciliation decisions by activity type.",
		}, []string{"type", "decision"}),
		relayConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "focusroom",
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Current number of relay websocket connections.",
		}),
		relayFanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "focusroom",
			Subsystem: "relay",
			Name:      "fanout_recipients",
			Help:      "Recipients per relayed envelope.",
			Buckets:   prometheus.LinearBuckets(0, 2, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.envelopes, m.reconnectAttempts, m.reconnectDelay, m.appends,
			m.reconciliations, m.relayConnections, m.relayFanout)
	}
	return m
}

func (m *PrometheusCollector) RecordEnvelopeSent(envelopeType string) {
	m.envelopes.WithLabelValues(envelopeType, "sent").Inc()
}

func (m *PrometheusCollector) RecordEnvelopeDropped(envelopeType string) {
	m.envelopes.WithLabelValues(envelopeType, "dropped").Inc()
}

func (m *PrometheusCollector) RecordEnvelopeReceived(envelopeType string) {
	m.envelopes.WithLabelValues(envelopeType, "received").Inc()
}

func (m *PrometheusCollector) RecordReconnectAttempt(attempt int, delay time.Duration) {
	m.reconnectAttempts.WithLabelValues(strconv.Itoa(attempt)).Inc()
	m.reconnectDelay.Observe(delay.Seconds())
}

func (m *PrometheusCollector) RecordAppend(activityType string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.appends.WithLabelValues(activityType, status).Inc()
}

func (m *PrometheusCollector) RecordReconciliation(activityType, decision string) {
	m.reconciliations.WithLabelValues(activityType, decision).Inc()
}

func (m *PrometheusCollector) RecordRelayConnection(delta int) {
	m.relayConnections.Add(float64(delta))
}

func (m *PrometheusCollector) RecordRelayFanout(recipients int) {
	m.relayFanout.Observe(float64(recipients))
}
