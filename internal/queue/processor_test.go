package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/voicelineai/voiceline-platform/internal/alerting"
	"github.com/voicelineai/voiceline-platform/internal/delivery"
	"github.com/voicelineai/voiceline-platform/internal/hours"
	"github.com/voicelineai/voiceline-platform/internal/tenant"
)

type fakeStore struct {
	mu   sync.Mutex
	msgs map[uuid.UUID]*Message
}

func newFakeStore(msgs ...*Message) *fakeStore {
	s := &fakeStore{msgs: make(map[uuid.UUID]*Message)}
	for _, m := range msgs {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		if m.MaxAttempts == 0 {
			m.MaxAttempts = DefaultMaxAttempts
		}
		if m.Status == "" {
			m.Status = StatusPending
		}
		s.msgs[m.ID] = m
	}
	return s
}

func (s *fakeStore) DueBatch(ctx context.Context, now time.Time, batchSize int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Message
	for _, m := range s.msgs {
		if m.Status == StatusPending && !m.ScheduledFor.After(now) && m.Attempts < m.MaxAttempts {
			due = append(due, *m)
		}
	}
	return due, nil
}

func (s *fakeStore) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok || m.Status != StatusPending {
		return false, nil
	}
	m.Status = StatusProcessing
	return true, nil
}

func (s *fakeStore) MarkSent(ctx context.Context, id uuid.UUID, provider, providerMessageID, providerStatus string, costUSD float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.msgs[id]
	m.Status = StatusSent
	m.Attempts++
	m.Provider = provider
	m.ProviderMessageID = providerMessageID
	m.ProviderStatus = providerStatus
	m.CostUSD = costUSD
	return nil
}

func (s *fakeStore) ScheduleRetry(ctx context.Context, id uuid.UUID, lastError string, retryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.msgs[id]
	m.Status = StatusPending
	m.Attempts++
	m.LastError = lastError
	m.ScheduledFor = retryAt
	return nil
}

func (s *fakeStore) Reschedule(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.msgs[id]
	m.Status = StatusPending
	m.ScheduledFor = at
	return nil
}

func (s *fakeStore) MarkDeadLetter(ctx context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.msgs[id]
	m.Status = StatusDeadLetter
	m.Attempts++
	m.DeadLetterReason = reason
	m.LastError = reason
	return nil
}

func (s *fakeStore) get(id uuid.UUID) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.msgs[id]
}

type flakySender struct {
	mu       sync.Mutex
	failures int
	calls    int
	last     delivery.Message
}

func (f *flakySender) Name() string { return "flaky" }

func (f *flakySender) Send(ctx context.Context, msg delivery.Message) (delivery.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = msg
	if f.calls <= f.failures {
		return delivery.Outcome{}, errors.New("provider unavailable")
	}
	return delivery.Outcome{Provider: "flaky", ProviderMessageID: "msg_ok", ProviderStatus: "queued"}, nil
}

func (f *flakySender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (f *fakeAlerter) Notify(ctx context.Context, severity alerting.Severity, title, message string, fields map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
}

func (f *fakeAlerter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.titles)
}

type fakeTenants struct {
	cfg *tenant.Config
}

func (f *fakeTenants) Get(ctx context.Context, tenantID string) (*tenant.Config, error) {
	return f.cfg, nil
}

func TestProcessorSendsDueMessage(t *testing.T) {
	msg := &Message{TenantID: "tenant-a", Channel: ChannelSMS, Recipient: "+15551234567", Body: "hi", MessageType: TypeConfirmation}
	store := newFakeStore(msg)
	sender := &flakySender{}
	p := NewProcessor(store, map[Channel]delivery.Sender{ChannelSMS: sender}, nil)

	result, err := p.ProcessDueBatch(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Sent != 1 || result.Processed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	got := store.get(msg.ID)
	if got.Status != StatusSent || got.Provider != "flaky" || got.ProviderMessageID != "msg_ok" {
		t.Fatalf("unexpected message state: %+v", got)
	}
	if got.CostUSD != 0.0079 {
		t.Fatalf("expected single-segment SMS cost, got %v", got.CostUSD)
	}
}

func TestProcessorRetriesThenSucceeds(t *testing.T) {
	msg := &Message{TenantID: "tenant-a", Channel: ChannelSMS, Recipient: "+15551234567", Body: "hi", MessageType: TypeConfirmation}
	store := newFakeStore(msg)
	sender := &flakySender{failures: 2}
	alerts := &fakeAlerter{}
	p := NewProcessor(store, map[Channel]delivery.Sender{ChannelSMS: sender}, nil).WithAlerter(alerts)

	clock := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return clock }

	for pass := 0; pass < 3; pass++ {
		if _, err := p.ProcessDueBatch(context.Background()); err != nil {
			t.Fatalf("pass %d: %v", pass, err)
		}
		clock = clock.Add(2 * time.Minute)
	}

	got := store.get(msg.ID)
	if got.Status != StatusSent {
		t.Fatalf("expected sent after retries, got %s (attempts=%d)", got.Status, got.Attempts)
	}
	if got.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", got.Attempts)
	}
	if alerts.count() != 0 {
		t.Fatalf("no alert expected for a recovered message, got %d", alerts.count())
	}
}

func TestProcessorDeadLettersAfterMaxAttempts(t *testing.T) {
	msg := &Message{TenantID: "tenant-a", Channel: ChannelSMS, Recipient: "+15551234567", Body: "hi", MessageType: TypeConfirmation}
	store := newFakeStore(msg)
	sender := &flakySender{failures: 100}
	alerts := &fakeAlerter{}
	p := NewProcessor(store, map[Channel]delivery.Sender{ChannelSMS: sender}, nil).WithAlerter(alerts)

	clock := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return clock }

	for pass := 0; pass < 5; pass++ {
		if _, err := p.ProcessDueBatch(context.Background()); err != nil {
			t.Fatalf("pass %d: %v", pass, err)
		}
		clock = clock.Add(2 * time.Minute)
	}

	got := store.get(msg.ID)
	if got.Status != StatusDeadLetter {
		t.Fatalf("expected dead_letter, got %s", got.Status)
	}
	if got.Attempts != DefaultMaxAttempts {
		t.Fatalf("attempts must stop at the bound, got %d", got.Attempts)
	}
	if sender.callCount() != DefaultMaxAttempts {
		t.Fatalf("sender must not be called past the bound, got %d calls", sender.callCount())
	}
	if alerts.count() != 1 {
		t.Fatalf("expected exactly one dead-letter alert, got %d", alerts.count())
	}
}

func TestProcessorRetryWaitsForDelay(t *testing.T) {
	msg := &Message{TenantID: "tenant-a", Channel: ChannelSMS, Recipient: "+15551234567", Body: "hi", MessageType: TypeConfirmation}
	store := newFakeStore(msg)
	sender := &flakySender{failures: 100}
	p := NewProcessor(store, map[Channel]delivery.Sender{ChannelSMS: sender}, nil)

	clock := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return clock }

	if _, err := p.ProcessDueBatch(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if sender.callCount() != 1 {
		t.Fatalf("expected one attempt, got %d", sender.callCount())
	}

	// Thirty seconds later the retry is not yet eligible.
	clock = clock.Add(30 * time.Second)
	result, err := p.ProcessDueBatch(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Processed != 0 || sender.callCount() != 1 {
		t.Fatalf("retry fired before its delay: result=%+v calls=%d", result, sender.callCount())
	}

	clock = clock.Add(31 * time.Second)
	if _, err := p.ProcessDueBatch(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if sender.callCount() != 2 {
		t.Fatalf("expected second attempt after delay, got %d", sender.callCount())
	}
}

func TestProcessorDefersRestrictedOutsideHours(t *testing.T) {
	msg := &Message{TenantID: "tenant-a", Channel: ChannelSMS, Recipient: "+15551234567", Body: "hi", MessageType: TypeReminder24h}
	store := newFakeStore(msg)
	sender := &flakySender{}
	tenants := &fakeTenants{cfg: &tenant.Config{
		TenantID: "tenant-a",
		Timezone: "UTC",
		BusinessHours: hours.Schedule{
			Monday: &hours.DayHours{Open: "09:00", Close: "17:00"},
		},
		SMSFromNumber: "+15559990000",
	}}
	p := NewProcessor(store, map[Channel]delivery.Sender{ChannelSMS: sender}, nil).WithTenantConfigs(tenants)

	// Sunday noon; only Monday is open.
	sunday := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return sunday }

	result, err := p.ProcessDueBatch(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Deferred != 1 || sender.callCount() != 0 {
		t.Fatalf("expected deferral without send: result=%+v calls=%d", result, sender.callCount())
	}
	got := store.get(msg.ID)
	wantOpen := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if got.Status != StatusPending || !got.ScheduledFor.Equal(wantOpen) {
		t.Fatalf("expected reschedule to %s, got %s at %s", wantOpen, got.Status, got.ScheduledFor)
	}
	if got.Attempts != 0 {
		t.Fatalf("deferral must not consume an attempt, got %d", got.Attempts)
	}
}

func TestProcessorTransactionalSendsAnytime(t *testing.T) {
	msg := &Message{TenantID: "tenant-a", Channel: ChannelSMS, Recipient: "+15551234567", Body: "hi", MessageType: TypeConfirmation}
	store := newFakeStore(msg)
	sender := &flakySender{}
	tenants := &fakeTenants{cfg: &tenant.Config{
		TenantID: "tenant-a",
		Timezone: "UTC",
		BusinessHours: hours.Schedule{
			Monday: &hours.DayHours{Open: "09:00", Close: "17:00"},
		},
		SMSFromNumber: "+15559990000",
	}}
	p := NewProcessor(store, map[Channel]delivery.Sender{ChannelSMS: sender}, nil).WithTenantConfigs(tenants)

	sunday := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return sunday }

	result, err := p.ProcessDueBatch(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Sent != 1 {
		t.Fatalf("confirmation should send outside hours: %+v", result)
	}
	sender.mu.Lock()
	from := sender.last.From
	sender.mu.Unlock()
	if from != "+15559990000" {
		t.Fatalf("expected tenant from number, got %q", from)
	}
}

func TestProcessorMissingSenderFailsMessage(t *testing.T) {
	msg := &Message{TenantID: "tenant-a", Channel: ChannelEmail, Recipient: "a@b.c", Body: "hi", MessageType: TypeConfirmation, MaxAttempts: 1}
	store := newFakeStore(msg)
	alerts := &fakeAlerter{}
	p := NewProcessor(store, map[Channel]delivery.Sender{}, nil).WithAlerter(alerts)

	result, err := p.ProcessDueBatch(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.DeadLettered != 1 {
		t.Fatalf("expected dead letter for missing sender: %+v", result)
	}
	if alerts.count() != 1 {
		t.Fatalf("expected alert, got %d", alerts.count())
	}
}

func TestProcessorTriggerCoalesces(t *testing.T) {
	p := NewProcessor(newFakeStore(), nil, nil)
	// Repeated triggers never block even when nothing consumes them.
	for i := 0; i < 10; i++ {
		p.Trigger()
	}
}

func TestProcessorRunStops(t *testing.T) {
	store := newFakeStore()
	p := NewProcessor(store, nil, nil).WithInterval(5 * time.Millisecond).WithBatchSize(5)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	p.Trigger()
	time.Sleep(15 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
