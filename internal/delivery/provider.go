package delivery

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/voicelineai/voiceline-platform/pkg/logging"
)

const (
	// SMSProviderAuto tries Telnyx first, then Twilio.
	SMSProviderAuto = "auto"
	// SMSProviderTelnyx forces the Telnyx sender when credentials exist.
	SMSProviderTelnyx = "telnyx"
	// SMSProviderTwilio forces the Twilio sender when credentials exist.
	SMSProviderTwilio = "twilio"
)

// SMSConfig captures the credentials required to build outbound SMS senders.
type SMSConfig struct {
	Preference       string
	TelnyxAPIKey     string
	TelnyxProfileID  string
	TelnyxFromNumber string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
}

// BuildSMSSender instantiates an SMS sender based on the preferred provider.
// It returns the sender, the provider that was selected, and a reason when
// no provider could be initialized.
func BuildSMSSender(cfg SMSConfig, logger *logging.Logger) (Sender, string, string) {
	if logger == nil {
		logger = logging.Default()
	}
	preference := strings.ToLower(strings.TrimSpace(cfg.Preference))
	if preference == "" {
		preference = SMSProviderAuto
	}

	missing := map[string]string{}
	var telnyx Sender
	var twilio Sender

	if cfg.TelnyxAPIKey != "" {
		telnyx = NewTelnyxSender(cfg.TelnyxAPIKey, cfg.TelnyxProfileID, cfg.TelnyxFromNumber, logger)
	} else {
		missing[SMSProviderTelnyx] = "TELNYX_API_KEY missing"
	}

	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		twilio = NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger)
	} else {
		var reasons []string
		if cfg.TwilioAccountSID == "" {
			reasons = append(reasons, "TWILIO_ACCOUNT_SID missing")
		}
		if cfg.TwilioAuthToken == "" {
			reasons = append(reasons, "TWILIO_AUTH_TOKEN missing")
		}
		missing[SMSProviderTwilio] = strings.Join(reasons, ", ")
	}

	if preference != SMSProviderAuto {
		if preference == SMSProviderTelnyx && telnyx != nil {
			return telnyx, SMSProviderTelnyx, ""
		}
		if preference == SMSProviderTwilio && twilio != nil {
			return twilio, SMSProviderTwilio, ""
		}
		reason := missing[preference]
		if reason == "" {
			reason = fmt.Sprintf("%s sender not configured", preference)
		}
		return nil, "", reason
	}

	if telnyx != nil && twilio != nil {
		return NewChain(logger, telnyx, twilio), SMSProviderTelnyx + "+" + SMSProviderTwilio, ""
	}
	if telnyx != nil {
		return telnyx, SMSProviderTelnyx, ""
	}
	if twilio != nil {
		return twilio, SMSProviderTwilio, ""
	}

	var reasons []string
	for _, provider := range []string{SMSProviderTelnyx, SMSProviderTwilio} {
		if msg := missing[provider]; msg != "" {
			reasons = append(reasons, fmt.Sprintf("%s: %s", provider, msg))
		}
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "no SMS providers configured")
	}
	return nil, "", strings.Join(reasons, "; ")
}

// EmailConfig captures the credentials required to build email senders.
type EmailConfig struct {
	SendGrid  SendGridConfig
	SESClient *sesv2.Client
	SES       SESConfig
}

// BuildEmailSender returns a SendGrid-first email sender with SES failover,
// or nil with a reason when neither is configured.
func BuildEmailSender(cfg EmailConfig, logger *logging.Logger) (Sender, string, string) {
	if logger == nil {
		logger = logging.Default()
	}
	sg := NewSendGridSender(cfg.SendGrid, logger)
	ses := NewSESSender(cfg.SESClient, cfg.SES, logger)

	switch {
	case sg != nil && ses != nil:
		return NewChain(logger, sg, ses), "sendgrid+ses", ""
	case sg != nil:
		return sg, "sendgrid", ""
	case ses != nil:
		return ses, "ses", ""
	default:
		return nil, "", "no email providers configured"
	}
}
