package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/voicelineai/voiceline-platform/pkg/logging"
)

// SESSender sends emails via AWS SES. It serves as the fallback email
// provider behind SendGrid.
type SESSender struct {
	client    *sesv2.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SESConfig holds configuration for AWS SES.
type SESConfig struct {
	FromEmail string
	FromName  string
}

// NewSESSender creates an AWS SES email sender. Returns nil when no client
// is supplied.
func NewSESSender(client *sesv2.Client, cfg SESConfig, logger *logging.Logger) *SESSender {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Voiceline AI"
	}
	return &SESSender{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

var _ Sender = (*SESSender)(nil)

// Name identifies this provider in failover audits.
func (s *SESSender) Name() string { return "ses" }

// Send sends an email via AWS SES.
func (s *SESSender) Send(ctx context.Context, msg Message) (Outcome, error) {
	if s.client == nil {
		return Outcome{}, errors.New("delivery: SES client not configured")
	}
	if msg.To == "" {
		return Outcome{}, errors.New("delivery: to required")
	}

	fromAddress := fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(msg.Body),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	output, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return Outcome{}, fmt.Errorf("delivery: SES send failed: %w", err)
	}

	outcome := Outcome{
		Provider:          s.Name(),
		ProviderMessageID: aws.ToString(output.MessageId),
		ProviderStatus:    "accepted",
	}
	s.logger.Info("email sent via SES", "to", msg.To, "subject", msg.Subject, "message_id", outcome.ProviderMessageID)
	return outcome, nil
}
