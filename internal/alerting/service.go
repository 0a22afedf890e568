package alerting

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/voicelineai/voiceline-platform/internal/delivery"
	"github.com/voicelineai/voiceline-platform/pkg/logging"
)

// Service fans alerts out to operators over SMS and email. Either channel
// may be nil. Repeat alerts with the same title are throttled; the first
// alert after a quiet period carries a suppressed-count digest.
type Service struct {
	sms             delivery.Sender
	email           delivery.Sender
	smsRecipients   []string
	emailRecipients []string
	throttle        *Throttle
	logger          *logging.Logger
	sendTimeout     time.Duration
}

// Config holds operator contact points for the alerting service.
type Config struct {
	SMSRecipients   []string
	EmailRecipients []string
	ThrottleWindow  time.Duration
}

// NewService creates the operator alerting service.
func NewService(sms, email delivery.Sender, cfg Config, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		sms:             sms,
		email:           email,
		smsRecipients:   cfg.SMSRecipients,
		emailRecipients: cfg.EmailRecipients,
		throttle:        NewThrottle(cfg.ThrottleWindow),
		logger:          logger,
		sendTimeout:     10 * time.Second,
	}
}

var _ Alerter = (*Service)(nil)

// ResetThrottle clears the suppression state, e.g. after an operator
// acknowledges an incident.
func (s *Service) ResetThrottle() {
	s.throttle.Reset()
}

// Notify sends the alert to every configured operator channel. Failures
// are logged and swallowed.
func (s *Service) Notify(ctx context.Context, severity Severity, title, message string, fields map[string]string) {
	allowed, suppressed := s.throttle.Allow(title)
	if !allowed {
		s.logger.Debug("alert throttled", "title", title, "severity", string(severity))
		return
	}
	if suppressed > 0 {
		message = fmt.Sprintf("%s (%d similar alerts suppressed in the last window)", message, suppressed)
	}

	s.logger.Warn("operator alert",
		"severity", string(severity),
		"title", title,
		"message", message,
	)

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sendTimeout)
	defer cancel()

	if s.sms != nil {
		body := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(severity)), title, message)
		for _, to := range s.smsRecipients {
			if _, err := s.sms.Send(sendCtx, delivery.Message{To: to, Body: body}); err != nil {
				s.logger.Error("alert SMS failed", "to", to, "error", err)
			}
		}
	}

	if s.email != nil {
		subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(severity)), title)
		body := message
		if len(fields) > 0 {
			body = message + "\n\n" + formatFields(fields)
		}
		for _, to := range s.emailRecipients {
			if _, err := s.email.Send(sendCtx, delivery.Message{To: to, Subject: subject, Body: body}); err != nil {
				s.logger.Error("alert email failed", "to", to, "error", err)
			}
		}
	}
}

func formatFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, fields[k]))
	}
	return strings.Join(lines, "\n")
}
