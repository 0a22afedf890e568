// Package scheduling turns call outcomes and appointments into queued
// follow-up messages: confirmations, appointment reminders, and the
// nurture sequence for callers who did not book.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voicelineai/voiceline-platform/internal/hours"
	"github.com/voicelineai/voiceline-platform/internal/queue"
	"github.com/voicelineai/voiceline-platform/internal/tenant"
	"github.com/voicelineai/voiceline-platform/pkg/logging"
)

const (
	reminderLongLead  = 24 * time.Hour
	reminderShortLead = time.Hour
	nurtureFirstDelay = 24 * time.Hour
	nurtureFinalDelay = 96 * time.Hour
)

type messageQueue interface {
	Enqueue(ctx context.Context, q queue.Querier, msg queue.Message) (uuid.UUID, error)
	CancelByAppointment(ctx context.Context, tenantID, appointmentID string) (int64, error)
}

type tenantConfigs interface {
	Get(ctx context.Context, tenantID string) (*tenant.Config, error)
}

// Service plans follow-up messages around tenant business hours.
type Service struct {
	queue   messageQueue
	tenants tenantConfigs
	logger  *logging.Logger
	now     func() time.Time
}

func NewService(q messageQueue, tenants tenantConfigs, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		queue:   q,
		tenants: tenants,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Appointment describes a booked appointment to confirm and remind about.
type Appointment struct {
	TenantID      string
	AppointmentID string
	CustomerID    *uuid.UUID
	CustomerName  string
	Phone         string
	Email         string
	Service       string
	StartsAt      time.Time
}

func (a Appointment) validate() error {
	if a.TenantID == "" {
		return errors.New("scheduling: tenant id required")
	}
	if a.AppointmentID == "" {
		return errors.New("scheduling: appointment id required")
	}
	if a.Phone == "" {
		return errors.New("scheduling: phone required")
	}
	if a.StartsAt.IsZero() {
		return errors.New("scheduling: appointment start required")
	}
	return nil
}

// ScheduleConfirmation queues an immediate confirmation for a booked
// appointment: SMS always, email too when an address is known.
// Confirmations are transactional and ignore business hours.
func (s *Service) ScheduleConfirmation(ctx context.Context, appt Appointment) error {
	if err := appt.validate(); err != nil {
		return err
	}
	cfg, loc, err := s.tenantContext(ctx, appt.TenantID)
	if err != nil {
		return err
	}

	body := confirmationBody(cfg.Name, appt.CustomerName, appt.Service, appt.StartsAt, loc)
	if _, err := s.queue.Enqueue(ctx, nil, queue.Message{
		TenantID:      appt.TenantID,
		Channel:       queue.ChannelSMS,
		Recipient:     appt.Phone,
		Body:          body,
		MessageType:   queue.TypeConfirmation,
		CustomerID:    appt.CustomerID,
		AppointmentID: appt.AppointmentID,
	}); err != nil {
		return fmt.Errorf("scheduling: enqueue confirmation sms: %w", err)
	}

	if appt.Email != "" {
		if _, err := s.queue.Enqueue(ctx, nil, queue.Message{
			TenantID:      appt.TenantID,
			Channel:       queue.ChannelEmail,
			Recipient:     appt.Email,
			Subject:       fmt.Sprintf("Your appointment with %s is confirmed", cfg.Name),
			Body:          body,
			MessageType:   queue.TypeConfirmation,
			CustomerID:    appt.CustomerID,
			AppointmentID: appt.AppointmentID,
		}); err != nil {
			return fmt.Errorf("scheduling: enqueue confirmation email: %w", err)
		}
	}

	s.logger.Info("scheduling: confirmation queued",
		"tenant_id", appt.TenantID, "appointment_id", appt.AppointmentID)
	return nil
}

// ScheduleReminders queues the 24-hour and 1-hour reminders for an
// appointment: SMS always, email too when an address is known. A reminder
// whose slot is already past is skipped, and a reminder falling outside
// business hours is pulled to the next open instant, or dropped when that
// would land after the appointment itself.
func (s *Service) ScheduleReminders(ctx context.Context, appt Appointment) error {
	if err := appt.validate(); err != nil {
		return err
	}
	cfg, loc, err := s.tenantContext(ctx, appt.TenantID)
	if err != nil {
		return err
	}

	reminders := []struct {
		lead time.Duration
		kind string
		body string
	}{
		{reminderLongLead, queue.TypeReminder24h, reminder24hBody(cfg.Name, appt.CustomerName, appt.StartsAt, loc)},
		{reminderShortLead, queue.TypeReminder1h, reminder1hBody(cfg.Name, appt.CustomerName, appt.StartsAt, loc)},
	}

	now := s.now()
	for _, r := range reminders {
		sendAt := appt.StartsAt.Add(-r.lead)
		if !sendAt.After(now) {
			s.logger.Info("scheduling: reminder slot already past, skipping",
				"tenant_id", appt.TenantID, "appointment_id", appt.AppointmentID, "type", r.kind)
			continue
		}
		sendAt, ok := s.fitToBusinessHours(sendAt, appt.StartsAt, cfg)
		if !ok {
			s.logger.Info("scheduling: no open slot before appointment, dropping reminder",
				"tenant_id", appt.TenantID, "appointment_id", appt.AppointmentID, "type", r.kind)
			continue
		}
		if _, err := s.queue.Enqueue(ctx, nil, queue.Message{
			TenantID:      appt.TenantID,
			Channel:       queue.ChannelSMS,
			Recipient:     appt.Phone,
			Body:          r.body,
			MessageType:   r.kind,
			ScheduledFor:  sendAt,
			CustomerID:    appt.CustomerID,
			AppointmentID: appt.AppointmentID,
		}); err != nil {
			return fmt.Errorf("scheduling: enqueue %s: %w", r.kind, err)
		}
		if appt.Email == "" {
			continue
		}
		if _, err := s.queue.Enqueue(ctx, nil, queue.Message{
			TenantID:      appt.TenantID,
			Channel:       queue.ChannelEmail,
			Recipient:     appt.Email,
			Subject:       fmt.Sprintf("Appointment reminder from %s", cfg.Name),
			Body:          r.body,
			MessageType:   r.kind,
			ScheduledFor:  sendAt,
			CustomerID:    appt.CustomerID,
			AppointmentID: appt.AppointmentID,
		}); err != nil {
			return fmt.Errorf("scheduling: enqueue %s email: %w", r.kind, err)
		}
	}
	return nil
}

// NurtureInput describes a caller who engaged but did not book.
type NurtureInput struct {
	TenantID     string
	CustomerID   *uuid.UUID
	CustomerName string
	Phone        string
	Email        string
}

// ScheduleNurture queues the two-touch nurture sequence at one and four
// days out, each pulled into business hours. Each touch goes out over SMS,
// and over email too when an address is known.
func (s *Service) ScheduleNurture(ctx context.Context, input NurtureInput) error {
	if input.TenantID == "" {
		return errors.New("scheduling: tenant id required")
	}
	if input.Phone == "" {
		return errors.New("scheduling: phone required")
	}
	cfg, _, err := s.tenantContext(ctx, input.TenantID)
	if err != nil {
		return err
	}

	touches := []struct {
		delay time.Duration
		kind  string
		body  string
	}{
		{nurtureFirstDelay, queue.TypeNurtureDay1, nurtureDay1Body(cfg.Name, input.CustomerName)},
		{nurtureFinalDelay, queue.TypeNurtureDay4, nurtureDay4Body(cfg.Name, input.CustomerName)},
	}

	now := s.now()
	for _, touch := range touches {
		sendAt := now.Add(touch.delay)
		if adjusted, err := hours.NextOpen(sendAt, &cfg.BusinessHours, cfg.Timezone); err == nil {
			sendAt = adjusted
		} else if !errors.Is(err, hours.ErrNoOpenHours) {
			s.logger.Warn("scheduling: business hours adjustment failed",
				"tenant_id", input.TenantID, "type", touch.kind, "error", err)
		}
		if _, err := s.queue.Enqueue(ctx, nil, queue.Message{
			TenantID:     input.TenantID,
			Channel:      queue.ChannelSMS,
			Recipient:    input.Phone,
			Body:         touch.body,
			MessageType:  touch.kind,
			ScheduledFor: sendAt,
			CustomerID:   input.CustomerID,
		}); err != nil {
			return fmt.Errorf("scheduling: enqueue %s: %w", touch.kind, err)
		}
		if input.Email == "" {
			continue
		}
		if _, err := s.queue.Enqueue(ctx, nil, queue.Message{
			TenantID:     input.TenantID,
			Channel:      queue.ChannelEmail,
			Recipient:    input.Email,
			Subject:      fmt.Sprintf("A note from %s", cfg.Name),
			Body:         touch.body,
			MessageType:  touch.kind,
			ScheduledFor: sendAt,
			CustomerID:   input.CustomerID,
		}); err != nil {
			return fmt.Errorf("scheduling: enqueue %s email: %w", touch.kind, err)
		}
	}
	s.logger.Info("scheduling: nurture sequence queued", "tenant_id", input.TenantID)
	return nil
}

// CancelAppointment cancels every still-pending message tied to the
// appointment. Returns the number of messages cancelled.
func (s *Service) CancelAppointment(ctx context.Context, tenantID, appointmentID string) (int64, error) {
	count, err := s.queue.CancelByAppointment(ctx, tenantID, appointmentID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("scheduling: appointment messages cancelled",
		"tenant_id", tenantID, "appointment_id", appointmentID, "count", count)
	return count, nil
}

func (s *Service) tenantContext(ctx context.Context, tenantID string) (*tenant.Config, *time.Location, error) {
	cfg, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("scheduling: tenant config: %w", err)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return cfg, loc, nil
}

// fitToBusinessHours pulls an instant forward to the tenant's next open
// time. Returns false when the adjusted instant would miss the
// appointment entirely.
func (s *Service) fitToBusinessHours(at, deadline time.Time, cfg *tenant.Config) (time.Time, bool) {
	adjusted, err := hours.NextOpen(at, &cfg.BusinessHours, cfg.Timezone)
	if err != nil {
		if errors.Is(err, hours.ErrNoOpenHours) {
			// A tenant with no open hours still gets reminders.
			return at, true
		}
		return at, true
	}
	if !adjusted.Before(deadline) {
		return time.Time{}, false
	}
	return adjusted, true
}
