package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicelineai/voiceline-platform/internal/hours"
	"github.com/voicelineai/voiceline-platform/internal/queue"
	"github.com/voicelineai/voiceline-platform/internal/tenant"
)

type fakeQueue struct {
	enqueued  []queue.Message
	cancelled []string
}

func (f *fakeQueue) Enqueue(ctx context.Context, q queue.Querier, msg queue.Message) (uuid.UUID, error) {
	f.enqueued = append(f.enqueued, msg)
	return uuid.New(), nil
}

func (f *fakeQueue) CancelByAppointment(ctx context.Context, tenantID, appointmentID string) (int64, error) {
	f.cancelled = append(f.cancelled, appointmentID)
	return 2, nil
}

type staticTenants struct {
	cfg *tenant.Config
}

func (s *staticTenants) Get(ctx context.Context, tenantID string) (*tenant.Config, error) {
	return s.cfg, nil
}

func weekdayTenants() *staticTenants {
	day := &hours.DayHours{Open: "09:00", Close: "17:00"}
	return &staticTenants{cfg: &tenant.Config{
		TenantID: "tenant-a",
		Name:     "Glow Clinic",
		Timezone: "UTC",
		BusinessHours: hours.Schedule{
			Monday:    day,
			Tuesday:   day,
			Wednesday: day,
			Thursday:  day,
			Friday:    day,
		},
	}}
}

func newTestService(q *fakeQueue, now time.Time) *Service {
	svc := NewService(q, weekdayTenants(), nil)
	svc.now = func() time.Time { return now }
	return svc
}

func byType(msgs []queue.Message, messageType string) *queue.Message {
	for i := range msgs {
		if msgs[i].MessageType == messageType {
			return &msgs[i]
		}
	}
	return nil
}

func TestScheduleConfirmationQueuesBothChannels(t *testing.T) {
	q := &fakeQueue{}
	svc := newTestService(q, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	customerID := uuid.New()
	err := svc.ScheduleConfirmation(context.Background(), Appointment{
		TenantID:      "tenant-a",
		AppointmentID: "apt-1",
		CustomerID:    &customerID,
		CustomerName:  "Dana Reyes",
		Phone:         "+15551234567",
		Email:         "dana@example.com",
		Service:       "consultation",
		StartsAt:      time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, q.enqueued, 2)

	sms := q.enqueued[0]
	assert.Equal(t, queue.ChannelSMS, sms.Channel)
	assert.Equal(t, queue.TypeConfirmation, sms.MessageType)
	assert.Equal(t, "apt-1", sms.AppointmentID)
	assert.True(t, sms.ScheduledFor.IsZero(), "confirmation sends immediately")
	assert.Contains(t, sms.Body, "Dana")
	assert.Contains(t, sms.Body, "Glow Clinic")

	email := q.enqueued[1]
	assert.Equal(t, queue.ChannelEmail, email.Channel)
	assert.Equal(t, "dana@example.com", email.Recipient)
	assert.NotEmpty(t, email.Subject)
}

func TestScheduleConfirmationSMSOnlyWithoutEmail(t *testing.T) {
	q := &fakeQueue{}
	svc := newTestService(q, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	err := svc.ScheduleConfirmation(context.Background(), Appointment{
		TenantID:      "tenant-a",
		AppointmentID: "apt-1",
		Phone:         "+15551234567",
		StartsAt:      time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, queue.ChannelSMS, q.enqueued[0].Channel)
}

func TestScheduleRemindersAtBothLeads(t *testing.T) {
	q := &fakeQueue{}
	// Monday morning; appointment Wednesday 15:00.
	svc := newTestService(q, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	startsAt := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	err := svc.ScheduleReminders(context.Background(), Appointment{
		TenantID:      "tenant-a",
		AppointmentID: "apt-1",
		CustomerName:  "Dana",
		Phone:         "+15551234567",
		StartsAt:      startsAt,
	})
	require.NoError(t, err)
	require.Len(t, q.enqueued, 2)

	long := byType(q.enqueued, queue.TypeReminder24h)
	require.NotNil(t, long)
	assert.True(t, long.ScheduledFor.Equal(startsAt.Add(-24*time.Hour)), "got %s", long.ScheduledFor)

	short := byType(q.enqueued, queue.TypeReminder1h)
	require.NotNil(t, short)
	assert.True(t, short.ScheduledFor.Equal(startsAt.Add(-time.Hour)), "got %s", short.ScheduledFor)
}

func TestScheduleRemindersBothChannelsWhenEmailKnown(t *testing.T) {
	q := &fakeQueue{}
	svc := newTestService(q, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	startsAt := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	err := svc.ScheduleReminders(context.Background(), Appointment{
		TenantID:      "tenant-a",
		AppointmentID: "apt-1",
		CustomerName:  "Dana",
		Phone:         "+15551234567",
		Email:         "dana@example.com",
		StartsAt:      startsAt,
	})
	require.NoError(t, err)
	require.Len(t, q.enqueued, 4)

	var sms, email int
	for _, msg := range q.enqueued {
		switch msg.Channel {
		case queue.ChannelSMS:
			sms++
		case queue.ChannelEmail:
			email++
			assert.Equal(t, "dana@example.com", msg.Recipient)
			assert.NotEmpty(t, msg.Subject)
		}
	}
	assert.Equal(t, 2, sms)
	assert.Equal(t, 2, email)

	// Each email reminder shares its slot with the paired SMS.
	for i := 0; i < len(q.enqueued); i += 2 {
		assert.Equal(t, q.enqueued[i].MessageType, q.enqueued[i+1].MessageType)
		assert.True(t, q.enqueued[i].ScheduledFor.Equal(q.enqueued[i+1].ScheduledFor))
	}
}

func TestScheduleRemindersSkipsPastSlots(t *testing.T) {
	q := &fakeQueue{}
	now := time.Date(2026, 3, 4, 13, 0, 0, 0, time.UTC)
	svc := newTestService(q, now)

	// Appointment two hours out: the 24h slot is long gone.
	err := svc.ScheduleReminders(context.Background(), Appointment{
		TenantID:      "tenant-a",
		AppointmentID: "apt-1",
		Phone:         "+15551234567",
		StartsAt:      now.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, queue.TypeReminder1h, q.enqueued[0].MessageType)
}

func TestScheduleRemindersPullsIntoBusinessHours(t *testing.T) {
	q := &fakeQueue{}
	svc := newTestService(q, time.Date(2026, 2, 27, 10, 0, 0, 0, time.UTC))

	// Appointment Monday 10:00; the 24h slot lands on closed Sunday and
	// moves to Monday 09:00.
	startsAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	err := svc.ScheduleReminders(context.Background(), Appointment{
		TenantID:      "tenant-a",
		AppointmentID: "apt-1",
		Phone:         "+15551234567",
		StartsAt:      startsAt,
	})
	require.NoError(t, err)

	long := byType(q.enqueued, queue.TypeReminder24h)
	require.NotNil(t, long)
	wantOpen := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	assert.True(t, long.ScheduledFor.Equal(wantOpen), "got %s", long.ScheduledFor)

	short := byType(q.enqueued, queue.TypeReminder1h)
	require.NotNil(t, short)
	assert.True(t, short.ScheduledFor.Equal(wantOpen), "got %s", short.ScheduledFor)
}

func TestScheduleRemindersDropsWhenNoSlotBeforeAppointment(t *testing.T) {
	q := &fakeQueue{}
	svc := newTestService(q, time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC))

	// Saturday appointment for a weekday-only tenant: both adjusted slots
	// land Monday, after the appointment.
	err := svc.ScheduleReminders(context.Background(), Appointment{
		TenantID:      "tenant-a",
		AppointmentID: "apt-1",
		Phone:         "+15551234567",
		StartsAt:      time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	// The 24h slot (Friday 12:00) is in hours; the 1h slot (Saturday
	// 11:00) has no open time before the appointment.
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, queue.TypeReminder24h, q.enqueued[0].MessageType)
}

func TestScheduleNurtureTwoTouches(t *testing.T) {
	q := &fakeQueue{}
	// Monday 10:00: both touches land on open weekdays.
	svc := newTestService(q, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	err := svc.ScheduleNurture(context.Background(), NurtureInput{
		TenantID:     "tenant-a",
		CustomerName: "Dana",
		Phone:        "+15551234567",
	})
	require.NoError(t, err)
	require.Len(t, q.enqueued, 2)

	day1 := byType(q.enqueued, queue.TypeNurtureDay1)
	require.NotNil(t, day1)
	assert.True(t, day1.ScheduledFor.Equal(time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)), "got %s", day1.ScheduledFor)

	day4 := byType(q.enqueued, queue.TypeNurtureDay4)
	require.NotNil(t, day4)
	assert.True(t, day4.ScheduledFor.Equal(time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)), "got %s", day4.ScheduledFor)
}

func TestScheduleNurtureBothChannelsWhenEmailKnown(t *testing.T) {
	q := &fakeQueue{}
	svc := newTestService(q, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	err := svc.ScheduleNurture(context.Background(), NurtureInput{
		TenantID:     "tenant-a",
		CustomerName: "Dana",
		Phone:        "+15551234567",
		Email:        "dana@example.com",
	})
	require.NoError(t, err)
	require.Len(t, q.enqueued, 4)

	var email int
	for _, msg := range q.enqueued {
		if msg.Channel == queue.ChannelEmail {
			email++
			assert.Equal(t, "dana@example.com", msg.Recipient)
			assert.NotEmpty(t, msg.Subject)
		}
	}
	assert.Equal(t, 2, email)
}

func TestScheduleNurtureAdjustsClosedDays(t *testing.T) {
	q := &fakeQueue{}
	// Friday 16:00: the day-1 touch lands Saturday and moves to Monday 09:00.
	svc := newTestService(q, time.Date(2026, 3, 6, 16, 0, 0, 0, time.UTC))

	err := svc.ScheduleNurture(context.Background(), NurtureInput{
		TenantID: "tenant-a",
		Phone:    "+15551234567",
	})
	require.NoError(t, err)

	day1 := byType(q.enqueued, queue.TypeNurtureDay1)
	require.NotNil(t, day1)
	assert.True(t, day1.ScheduledFor.Equal(time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)), "got %s", day1.ScheduledFor)
}

func TestCancelAppointment(t *testing.T) {
	q := &fakeQueue{}
	svc := newTestService(q, time.Now())

	count, err := svc.CancelAppointment(context.Background(), "tenant-a", "apt-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, []string{"apt-1"}, q.cancelled)
}

func TestScheduleValidation(t *testing.T) {
	q := &fakeQueue{}
	svc := newTestService(q, time.Now())

	err := svc.ScheduleConfirmation(context.Background(), Appointment{TenantID: "tenant-a"})
	require.Error(t, err)

	err = svc.ScheduleNurture(context.Background(), NurtureInput{TenantID: "tenant-a"})
	require.Error(t, err)
	assert.Empty(t, q.enqueued)
}
