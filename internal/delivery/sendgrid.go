package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/voicelineai/voiceline-platform/pkg/logging"
)

// SendGridSender sends emails via the SendGrid API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender creates a SendGrid email sender. Returns nil when no API
// key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Voiceline AI"
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

var _ Sender = (*SendGridSender)(nil)

// Name identifies this provider in failover audits.
func (s *SendGridSender) Name() string { return "sendgrid" }

// Send sends an email via SendGrid.
func (s *SendGridSender) Send(ctx context.Context, msg Message) (Outcome, error) {
	if s.client == nil {
		return Outcome{}, errors.New("delivery: sendgrid client not configured")
	}
	if msg.To == "" {
		return Outcome{}, errors.New("delivery: to required")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail("", msg.To)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, msg.Body)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return Outcome{}, fmt.Errorf("delivery: sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "to", msg.To)
		return Outcome{}, fmt.Errorf("delivery: sendgrid returned status %d", response.StatusCode)
	}

	outcome := Outcome{Provider: s.Name(), ProviderStatus: "accepted"}
	if ids := response.Headers["X-Message-Id"]; len(ids) > 0 {
		outcome.ProviderMessageID = ids[0]
	}
	s.logger.Info("email sent via sendgrid", "to", msg.To, "subject", msg.Subject, "status", response.StatusCode)
	return outcome, nil
}
