// Package metrics exposes Prometheus instrumentation for the webhook
// surface and the message queue. All methods are nil-safe so callers can
// run without a registry in tests.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds counters/histograms for webhook ingestion and queue
// delivery outcomes.
type Metrics struct {
	webhookTotal    *prometheus.CounterVec
	webhookLatency  *prometheus.HistogramVec
	queueOutcomes   *prometheus.CounterVec
	deadLetterTotal *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voiceline",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Total inbound webhook events",
		}, []string{"event_type", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "voiceline",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of webhook acknowledgment",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		queueOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voiceline",
			Subsystem: "queue",
			Name:      "outcomes_total",
			Help:      "Queue delivery outcomes by channel",
		}, []string{"channel", "outcome"}),
		deadLetterTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voiceline",
			Subsystem: "queue",
			Name:      "dead_letters_total",
			Help:      "Messages moved to the dead letter state",
		}, []string{"tenant_id"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "voiceline",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Queued messages by lifecycle status",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookTotal, m.webhookLatency, m.queueOutcomes, m.deadLetterTotal, m.queueDepth)
	return m
}

func (m *Metrics) RecordWebhookEvent(eventType, status string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) ObserveWebhookLatency(eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}

func (m *Metrics) RecordQueueOutcome(channel, outcome string) {
	if m == nil {
		return
	}
	m.queueOutcomes.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) RecordDeadLetter(tenantID string) {
	if m == nil {
		return
	}
	m.deadLetterTotal.WithLabelValues(tenantID).Inc()
}

func (m *Metrics) SetQueueDepth(status string, n float64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(status).Set(n)
}
