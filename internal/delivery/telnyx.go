package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voicelineai/voiceline-platform/pkg/logging"
)

const telnyxMessagesURL = "https://api.telnyx.com/v2/messages"

// TelnyxSender posts SMS messages using Telnyx's V2 API.
type TelnyxSender struct {
	apiKey             string
	messagingProfileID string
	fromNumber         string
	baseURL            string
	httpClient         *http.Client
	logger             *logging.Logger
}

// NewTelnyxSender builds a sender for Telnyx V2 API.
func NewTelnyxSender(apiKey, messagingProfileID, fromNumber string, logger *logging.Logger) *TelnyxSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TelnyxSender{
		apiKey:             apiKey,
		messagingProfileID: messagingProfileID,
		fromNumber:         fromNumber,
		baseURL:            telnyxMessagesURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

var _ Sender = (*TelnyxSender)(nil)

// Name identifies this provider in failover audits.
func (s *TelnyxSender) Name() string { return "telnyx" }

// Send dispatches a single SMS via Telnyx V2 API.
func (s *TelnyxSender) Send(ctx context.Context, msg Message) (Outcome, error) {
	if s.apiKey == "" {
		return Outcome{}, errors.New("delivery: telnyx api key missing")
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

	payload := map[string]interface{}{
		"from": from,
		"to":   msg.To,
		"text": msg.Body,
	}
	if s.messagingProfileID != "" {
		payload["messaging_profile_id"] = s.messagingProfileID
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return Outcome{}, fmt.Errorf("delivery: marshal telnyx payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return Outcome{}, fmt.Errorf("delivery: build telnyx request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("delivery: telnyx request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errorBody map[string]interface{}
		if len(body) > 0 && json.Unmarshal(body, &errorBody) == nil {
			return Outcome{}, fmt.Errorf("delivery: telnyx send failed: status %d, body: %v", resp.StatusCode, errorBody)
		}
		return Outcome{}, fmt.Errorf("delivery: telnyx send failed: status %d", resp.StatusCode)
	}

	outcome := Outcome{Provider: s.Name(), ProviderStatus: "queued"}
	var parsed struct {
		Data struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil {
		if parsed.Data.ID != "" {
			outcome.ProviderMessageID = parsed.Data.ID
		}
		if parsed.Data.Status != "" {
			outcome.ProviderStatus = parsed.Data.Status
		}
	}
	s.logger.Info("telnyx sms sent", "tenant_id", msg.TenantID, "to", msg.To, "from", from)
	return outcome, nil
}
