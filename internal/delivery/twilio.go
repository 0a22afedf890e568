package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voicelineai/voiceline-platform/pkg/logging"
)

// TwilioSender posts SMS messages using Twilio's Messages API. It serves as
// the fallback SMS provider behind Telnyx.
type TwilioSender struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewTwilioSender builds a sender for Twilio's REST API.
func NewTwilioSender(accountSID, authToken, fromNumber string, logger *logging.Logger) *TwilioSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		baseURL:    "https://api.twilio.com",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

var _ Sender = (*TwilioSender)(nil)

// Name identifies this provider in failover audits.
func (s *TwilioSender) Name() string { return "twilio" }

// Send dispatches a single SMS via Twilio.
func (s *TwilioSender) Send(ctx context.Context, msg Message) (Outcome, error) {
	if s.accountSID == "" || s.authToken == "" {
		return Outcome{}, errors.New("delivery: twilio credentials missing")
	}
	if msg.To == "" {
		return Outcome{}, errors.New("delivery: to required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return Outcome{}, errors.New("delivery: body required")
	}
	from := msg.From
	if from == "" {
		from = s.fromNumber
	}
	if from == "" {
		return Outcome{}, errors.New("delivery: from required")
	}

	form := url.Values{}
	form.Set("From", from)
	form.Set("To", msg.To)
	form.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Outcome{}, fmt.Errorf("delivery: build twilio request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("delivery: twilio request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{}, fmt.Errorf("delivery: twilio send failed: status %d", resp.StatusCode)
	}

	outcome := Outcome{Provider: s.Name(), ProviderStatus: "queued"}
	var parsed struct {
		Sid    string `json:"sid"`
		Status string `json:"status"`
	}
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil {
		outcome.ProviderMessageID = parsed.Sid
		if parsed.Status != "" {
			outcome.ProviderStatus = parsed.Status
		}
	}
	s.logger.Info("twilio sms sent", "tenant_id", msg.TenantID, "to", msg.To, "from", from)
	return outcome, nil
}
