// Package alerting delivers operator alerts for events that need a human:
// dead-lettered messages, webhook handler panics, provider outages. Alerts
// are best-effort and throttled so a flapping dependency cannot flood the
// on-call phone.
package alerting

import "context"

// Severity ranks an alert for operator triage.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alerter notifies operators about an event. Implementations never return
// an error; a failed alert is logged, not propagated, so alerting can
// never break the flow that raised it.
type Alerter interface {
	Notify(ctx context.Context, severity Severity, title, message string, fields map[string]string)
}

// Noop discards all alerts.
type Noop struct{}

func (Noop) Notify(ctx context.Context, severity Severity, title, message string, fields map[string]string) {
}

var _ Alerter = Noop{}
