package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/voicelineai/voiceline-platform/pkg/logging"
)

// EventTypeAppointmentCancelled is sent when an appointment is called off,
// by the customer or the business.
const EventTypeAppointmentCancelled = "appointment.cancelled"

type appointmentCanceller interface {
	CancelAppointment(ctx context.Context, tenantID, appointmentID string) (int64, error)
}

type appointmentCancelledPayload struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

// AppointmentCancelledHandler withdraws every still-pending reminder or
// confirmation for the cancelled appointment. Messages already sent stay
// in the audit trail.
type AppointmentCancelledHandler struct {
	scheduler appointmentCanceller
	logger    *logging.Logger
}

func NewAppointmentCancelledHandler(scheduler appointmentCanceller, logger *logging.Logger) *AppointmentCancelledHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentCancelledHandler{scheduler: scheduler, logger: logger}
}

var _ Handler = (*AppointmentCancelledHandler)(nil)

func (h *AppointmentCancelledHandler) HandleEvent(ctx context.Context, evt Event) error {
	var payload appointmentCancelledPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("webhook: parse appointment.cancelled payload: %w", err)
	}
	if payload.AppointmentID == "" {
		return &ValidationError{Field: "appointment_id", Reason: "required"}
	}

	count, err := h.scheduler.CancelAppointment(ctx, evt.TenantID, payload.AppointmentID)
	if err != nil {
		return fmt.Errorf("webhook: cancel appointment messages: %w", err)
	}
	h.logger.Info("webhook: appointment cancelled",
		"tenant_id", evt.TenantID,
		"appointment_id", payload.AppointmentID,
		"messages_cancelled", count,
		"reason", payload.Reason,
	)
	return nil
}
