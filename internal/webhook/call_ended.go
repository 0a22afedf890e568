package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voicelineai/voiceline-platform/internal/classify"
	"github.com/voicelineai/voiceline-platform/internal/customers"
	"github.com/voicelineai/voiceline-platform/internal/scheduling"
	"github.com/voicelineai/voiceline-platform/pkg/logging"
)

// EventTypeCallEnded is the voice provider's end-of-call callback.
const EventTypeCallEnded = "call.ended"

type customerStore interface {
	GetOrCreateByPhone(ctx context.Context, tenantID, phone, name, email string) (*customers.Customer, error)
	RecordConversation(ctx context.Context, conv customers.Conversation) (uuid.UUID, error)
}

type followupScheduler interface {
	ScheduleConfirmation(ctx context.Context, appt scheduling.Appointment) error
	ScheduleReminders(ctx context.Context, appt scheduling.Appointment) error
	ScheduleNurture(ctx context.Context, input scheduling.NurtureInput) error
}

type callEndedPayload struct {
	CallID        string    `json:"call_id"`
	From          string    `json:"from"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email"`
	Transcript    string    `json:"transcript"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	Appointment   *struct {
		ID       string    `json:"id"`
		Service  string    `json:"service"`
		StartsAt time.Time `json:"starts_at"`
	} `json:"appointment"`
}

// CallEndedHandler turns a finished voice call into stored state and
// queued follow-ups: the customer record, the conversation with its
// classified intent, and either the confirmation/reminder set for a
// booking or the nurture sequence for an interested caller.
type CallEndedHandler struct {
	customers  customerStore
	classifier classify.Classifier
	scheduler  followupScheduler
	logger     *logging.Logger
}

func NewCallEndedHandler(store customerStore, classifier classify.Classifier, scheduler followupScheduler, logger *logging.Logger) *CallEndedHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CallEndedHandler{
		customers:  store,
		classifier: classifier,
		scheduler:  scheduler,
		logger:     logger,
	}
}

var _ Handler = (*CallEndedHandler)(nil)

func (h *CallEndedHandler) HandleEvent(ctx context.Context, evt Event) error {
	var payload callEndedPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("webhook: parse call.ended payload: %w", err)
	}
	if payload.CallID == "" {
		return &ValidationError{Field: "call_id", Reason: "required"}
	}
	if payload.From == "" {
		return &ValidationError{Field: "from", Reason: "required"}
	}

	customer, err := h.customers.GetOrCreateByPhone(ctx, evt.TenantID, payload.From, payload.CustomerName, payload.CustomerEmail)
	if err != nil {
		return fmt.Errorf("webhook: upsert customer: %w", err)
	}

	verdict, err := h.classifier.Classify(ctx, payload.Transcript)
	if err != nil {
		// Classification is advisory; a failed verdict must not lose the
		// conversation record.
		h.logger.Warn("webhook: transcript classification failed",
			"tenant_id", evt.TenantID, "call_id", payload.CallID, "error", err)
		verdict = classify.Classification{Intent: classify.IntentUnknown}
	}

	if _, err := h.customers.RecordConversation(ctx, customers.Conversation{
		TenantID:   evt.TenantID,
		CustomerID: customer.ID,
		CallID:     payload.CallID,
		Transcript: payload.Transcript,
		Summary:    verdict.Summary,
		Intent:     string(verdict.Intent),
		StartedAt:  payload.StartedAt,
		EndedAt:    payload.EndedAt,
	}); err != nil {
		return fmt.Errorf("webhook: record conversation: %w", err)
	}

	h.logger.Info("webhook: call recorded",
		"tenant_id", evt.TenantID,
		"call_id", payload.CallID,
		"customer_id", customer.ID,
		"intent", string(verdict.Intent),
	)

	if payload.Appointment != nil && payload.Appointment.ID != "" {
		appt := scheduling.Appointment{
			TenantID:      evt.TenantID,
			AppointmentID: payload.Appointment.ID,
			CustomerID:    &customer.ID,
			CustomerName:  customer.Name,
			Phone:         customer.Phone,
			Email:         customer.Email,
			Service:       payload.Appointment.Service,
			StartsAt:      payload.Appointment.StartsAt,
		}
		if err := h.scheduler.ScheduleConfirmation(ctx, appt); err != nil {
			return err
		}
		if err := h.scheduler.ScheduleReminders(ctx, appt); err != nil {
			return err
		}
		return nil
	}

	if verdict.Intent == classify.IntentInterested {
		return h.scheduler.ScheduleNurture(ctx, scheduling.NurtureInput{
			TenantID:     evt.TenantID,
			CustomerID:   &customer.ID,
			CustomerName: customer.Name,
			Phone:        customer.Phone,
			Email:        customer.Email,
		})
	}
	return nil
}
