package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voicelineai/voiceline-platform/internal/alerting"
	"github.com/voicelineai/voiceline-platform/internal/delivery"
	"github.com/voicelineai/voiceline-platform/internal/hours"
	"github.com/voicelineai/voiceline-platform/internal/observability/metrics"
	"github.com/voicelineai/voiceline-platform/internal/tenant"
	"github.com/voicelineai/voiceline-platform/pkg/logging"
)

type processorStore interface {
	DueBatch(ctx context.Context, now time.Time, batchSize int) ([]Message, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	MarkSent(ctx context.Context, id uuid.UUID, provider, providerMessageID, providerStatus string, costUSD float64) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, lastError string, retryAt time.Time) error
	Reschedule(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkDeadLetter(ctx context.Context, id uuid.UUID, reason string) error
}

type tenantConfigs interface {
	Get(ctx context.Context, tenantID string) (*tenant.Config, error)
}

// Result summarizes one processing pass.
type Result struct {
	Processed    int
	Sent         int
	Retried      int
	DeadLettered int
	Deferred     int
}

// Processor polls the queue for due messages and drives each through
// claim, send, and outcome recording. One processor instance is expected
// per deployment; the claim step keeps concurrent instances safe.
type Processor struct {
	store   processorStore
	senders map[Channel]delivery.Sender
	tenants tenantConfigs
	alerts  alerting.Alerter
	metrics *metrics.Metrics
	logger  *logging.Logger

	interval    time.Duration
	batchSize   int
	maxInFlight int
	retryDelay  time.Duration
	sendTimeout time.Duration

	now      func() time.Time
	inFlight atomic.Bool
	trigger  chan struct{}
}

// NewProcessor creates a queue processor. Senders map delivery channels to
// providers; a channel without a sender fails its messages toward the
// dead letter.
func NewProcessor(store processorStore, senders map[Channel]delivery.Sender, logger *logging.Logger) *Processor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{
		store:       store,
		senders:     senders,
		logger:      logger,
		interval:    5 * time.Second,
		batchSize:   50,
		maxInFlight: 10,
		retryDelay:  time.Minute,
		sendTimeout: 10 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
		trigger:     make(chan struct{}, 1),
	}
}

func (p *Processor) WithInterval(d time.Duration) *Processor {
	if d > 0 {
		p.interval = d
	}
	return p
}

func (p *Processor) WithBatchSize(n int) *Processor {
	if n > 0 {
		p.batchSize = n
	}
	return p
}

func (p *Processor) WithMaxInFlight(n int) *Processor {
	if n > 0 {
		p.maxInFlight = n
	}
	return p
}

func (p *Processor) WithRetryDelay(d time.Duration) *Processor {
	if d > 0 {
		p.retryDelay = d
	}
	return p
}

func (p *Processor) WithSendTimeout(d time.Duration) *Processor {
	if d > 0 {
		p.sendTimeout = d
	}
	return p
}

// WithTenantConfigs enables the business-hours gate for restricted message
// types. Without it, all due messages send immediately.
func (p *Processor) WithTenantConfigs(tenants tenantConfigs) *Processor {
	p.tenants = tenants
	return p
}

func (p *Processor) WithAlerter(alerts alerting.Alerter) *Processor {
	p.alerts = alerts
	return p
}

func (p *Processor) WithMetrics(m *metrics.Metrics) *Processor {
	p.metrics = m
	return p
}

// Trigger requests an immediate processing pass outside the poll cadence,
// typically after a manual retry. Non-blocking; coalesces with a pass that
// is already queued.
func (p *Processor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run polls until the context is cancelled. Overlapping passes are
// skipped rather than queued.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.trigger:
			p.drain(ctx)
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *Processor) drain(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.logger.Warn("queue processor: previous pass still running, skipping tick")
		return
	}
	defer p.inFlight.Store(false)

	result, err := p.ProcessDueBatch(ctx)
	if err != nil {
		p.logger.Error("queue processor: pass failed", "error", err)
		return
	}
	if result.Processed > 0 {
		p.logger.Info("queue processor: pass complete",
			"processed", result.Processed,
			"sent", result.Sent,
			"retried", result.Retried,
			"dead_lettered", result.DeadLettered,
			"deferred", result.Deferred,
		)
	}
}

// ProcessDueBatch runs a single pass: fetch due messages and process them
// with bounded parallelism.
func (p *Processor) ProcessDueBatch(ctx context.Context) (Result, error) {
	now := p.now()
	due, err := p.store.DueBatch(ctx, now, p.batchSize)
	if err != nil {
		return Result{}, fmt.Errorf("queue: fetch due batch: %w", err)
	}
	if len(due) == 0 {
		return Result{}, nil
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		sem    = make(chan struct{}, p.maxInFlight)
		result Result
	)
	for i := range due {
		msg := due[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			outcome := p.processOne(ctx, msg)
			mu.Lock()
			result.Processed++
			switch outcome {
			case outcomeSent:
				result.Sent++
			case outcomeRetried:
				result.Retried++
			case outcomeDeadLettered:
				result.DeadLettered++
			case outcomeDeferred:
				result.Deferred++
			case outcomeSkipped:
				result.Processed--
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return result, nil
}

type messageOutcome int

const (
	outcomeSkipped messageOutcome = iota
	outcomeSent
	outcomeRetried
	outcomeDeadLettered
	outcomeDeferred
)

func (p *Processor) processOne(ctx context.Context, msg Message) messageOutcome {
	claimed, err := p.store.MarkProcessing(ctx, msg.ID)
	if err != nil {
		p.logger.Error("queue processor: claim failed", "id", msg.ID, "error", err)
		return outcomeSkipped
	}
	if !claimed {
		// Another pass or instance got there first, or the message was
		// cancelled between fetch and claim.
		return outcomeSkipped
	}

	cfg := p.tenantConfig(ctx, msg.TenantID)

	if RestrictedToBusinessHours(msg.MessageType) && cfg != nil {
		if deferred := p.deferOutsideHours(ctx, msg, cfg); deferred {
			return outcomeDeferred
		}
	}

	sender := p.senders[msg.Channel]
	if sender == nil {
		return p.recordFailure(ctx, msg, fmt.Sprintf("no sender configured for channel %q", msg.Channel))
	}

	out := delivery.Message{
		TenantID: msg.TenantID,
		To:       msg.Recipient,
		Subject:  msg.Subject,
		Body:     msg.Body,
	}
	if cfg != nil && msg.Channel == ChannelSMS {
		out.From = cfg.SMSFromNumber
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()
	outcome, err := sender.Send(sendCtx, out)
	if err != nil {
		return p.recordFailure(ctx, msg, err.Error())
	}

	cost := EstimateCost(msg.Channel, msg.Body)
	if err := p.store.MarkSent(ctx, msg.ID, outcome.Provider, outcome.ProviderMessageID, outcome.ProviderStatus, cost); err != nil {
		p.logger.Error("queue processor: mark sent failed", "id", msg.ID, "error", err)
	}
	p.metrics.RecordQueueOutcome(string(msg.Channel), "sent")
	p.logger.Info("queue processor: message sent",
		"id", msg.ID,
		"tenant_id", msg.TenantID,
		"channel", msg.Channel,
		"type", msg.MessageType,
		"provider", outcome.Provider,
	)
	return outcomeSent
}

func (p *Processor) tenantConfig(ctx context.Context, tenantID string) *tenant.Config {
	if p.tenants == nil {
		return nil
	}
	cfg, err := p.tenants.Get(ctx, tenantID)
	if err != nil {
		p.logger.Warn("queue processor: tenant config lookup failed", "tenant_id", tenantID, "error", err)
		return nil
	}
	return cfg
}

// deferOutsideHours pushes a business-hours restricted message to the
// tenant's next open instant. Returns false when the message may send now.
func (p *Processor) deferOutsideHours(ctx context.Context, msg Message, cfg *tenant.Config) bool {
	now := p.now()
	if hours.IsOpen(now, &cfg.BusinessHours, cfg.Timezone) {
		return false
	}
	nextOpen, err := hours.NextOpen(now, &cfg.BusinessHours, cfg.Timezone)
	if err != nil {
		p.logger.Warn("queue processor: no upcoming open hours, sending anyway",
			"id", msg.ID, "tenant_id", msg.TenantID, "error", err)
		return false
	}
	if err := p.store.Reschedule(ctx, msg.ID, nextOpen); err != nil {
		p.logger.Error("queue processor: reschedule failed", "id", msg.ID, "error", err)
		return false
	}
	p.logger.Info("queue processor: deferred to business hours",
		"id", msg.ID,
		"tenant_id", msg.TenantID,
		"type", msg.MessageType,
		"next_open", nextOpen.Format(time.RFC3339),
	)
	return true
}

func (p *Processor) recordFailure(ctx context.Context, msg Message, reason string) messageOutcome {
	attempted := msg.Attempts + 1
	if attempted >= msg.MaxAttempts {
		if err := p.store.MarkDeadLetter(ctx, msg.ID, reason); err != nil {
			p.logger.Error("queue processor: mark dead letter failed", "id", msg.ID, "error", err)
			return outcomeSkipped
		}
		p.metrics.RecordQueueOutcome(string(msg.Channel), "dead_letter")
		p.metrics.RecordDeadLetter(msg.TenantID)
		p.logger.Error("queue processor: message dead-lettered",
			"id", msg.ID,
			"tenant_id", msg.TenantID,
			"channel", msg.Channel,
			"type", msg.MessageType,
			"attempts", attempted,
			"error", reason,
		)
		if p.alerts != nil {
			p.alerts.Notify(ctx, alerting.SeverityCritical, "Message dead-lettered",
				fmt.Sprintf("Delivery to %s failed after %d attempts: %s", msg.Recipient, attempted, reason),
				map[string]string{
					"message_id": msg.ID.String(),
					"tenant_id":  msg.TenantID,
					"channel":    string(msg.Channel),
					"type":       msg.MessageType,
				})
		}
		return outcomeDeadLettered
	}

	retryAt := p.now().Add(p.retryDelay)
	if err := p.store.ScheduleRetry(ctx, msg.ID, reason, retryAt); err != nil {
		p.logger.Error("queue processor: schedule retry failed", "id", msg.ID, "error", err)
		return outcomeSkipped
	}
	p.metrics.RecordQueueOutcome(string(msg.Channel), "retried")
	p.logger.Warn("queue processor: delivery failed, retry scheduled",
		"id", msg.ID,
		"tenant_id", msg.TenantID,
		"attempt", attempted,
		"max_attempts", msg.MaxAttempts,
		"retry_at", retryAt.Format(time.RFC3339),
		"error", reason,
	)
	return outcomeRetried
}
