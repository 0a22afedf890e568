package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voicelineai/voiceline-platform/internal/alerting"
	"github.com/voicelineai/voiceline-platform/internal/observability/metrics"
	"github.com/voicelineai/voiceline-platform/internal/tenancy"
	"github.com/voicelineai/voiceline-platform/pkg/logging"
)

// Event is a normalized inbound webhook event.
type Event struct {
	TenantID   string          `json:"tenant_id"`
	Provider   string          `json:"provider"`
	EventID    string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"data"`
}

// ValidationError reports a malformed event envelope.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("webhook: invalid event: %s %s", e.Field, e.Reason)
}

// Validate checks the envelope fields required before an event may be
// claimed.
func (e Event) Validate() error {
	if e.TenantID == "" {
		return &ValidationError{Field: "tenant_id", Reason: "required"}
	}
	if e.Provider == "" {
		return &ValidationError{Field: "provider", Reason: "required"}
	}
	if e.EventID == "" {
		return &ValidationError{Field: "id", Reason: "required"}
	}
	if e.Type == "" {
		return &ValidationError{Field: "type", Reason: "required"}
	}
	return nil
}

// Handler processes one event type.
type Handler interface {
	HandleEvent(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Disposition is the router's decision for an inbound event.
type Disposition string

const (
	DispositionAccepted  Disposition = "accepted"
	DispositionDuplicate Disposition = "duplicate"
	DispositionIgnored   Disposition = "ignored"
	DispositionRejected  Disposition = "rejected"
)

type ledgerStore interface {
	Seen(ctx context.Context, tenantID, provider, eventID, eventType string) (bool, error)
	Claim(ctx context.Context, tenantID, provider, eventID, eventType string, payload []byte) error
	MarkProcessed(ctx context.Context, tenantID, provider, eventID, eventType string) error
}

// Router validates, deduplicates, and dispatches webhook events. Handlers
// run in the background after the delivery is acknowledged, so a slow
// handler never forces the provider to redeliver.
type Router struct {
	ledger   ledgerStore
	handlers map[string]Handler
	logger   *logging.Logger
	metrics  *metrics.Metrics
	alerts   alerting.Alerter

	wg sync.WaitGroup
}

func NewRouter(ledger ledgerStore, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{
		ledger:   ledger,
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

func (rt *Router) WithMetrics(m *metrics.Metrics) *Router {
	rt.metrics = m
	return rt
}

func (rt *Router) WithAlerter(a alerting.Alerter) *Router {
	rt.alerts = a
	return rt
}

// Register binds a handler to an event type. Later registrations for the
// same type replace earlier ones.
func (rt *Router) Register(eventType string, h Handler) {
	rt.handlers[eventType] = h
}

// Wait blocks until all in-flight background handlers finish.
func (rt *Router) Wait() {
	rt.wg.Wait()
}

// Dispatch runs an event through validation and the idempotency ledger,
// then hands it to its handler in the background. A ledger outage fails
// open: the event processes with a risk of duplication rather than being
// dropped.
func (rt *Router) Dispatch(ctx context.Context, evt Event) (Disposition, error) {
	if err := evt.Validate(); err != nil {
		return DispositionRejected, err
	}

	// Cheap check first for the common redelivery case; the claim's unique
	// constraint still decides the race between concurrent deliveries. A
	// failed check is not a reason to drop the event.
	seen, err := rt.ledger.Seen(ctx, evt.TenantID, evt.Provider, evt.EventID, evt.Type)
	if err != nil {
		rt.logger.Warn("webhook: ledger check failed, attempting claim",
			"tenant_id", evt.TenantID, "event_id", evt.EventID, "error", err)
	} else if seen {
		rt.logger.Info("webhook: duplicate event skipped",
			"tenant_id", evt.TenantID, "provider", evt.Provider, "event_id", evt.EventID, "type", evt.Type)
		return DispositionDuplicate, nil
	}

	if err := rt.ledger.Claim(ctx, evt.TenantID, evt.Provider, evt.EventID, evt.Type, evt.Payload); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			rt.logger.Info("webhook: duplicate event skipped",
				"tenant_id", evt.TenantID, "provider", evt.Provider, "event_id", evt.EventID, "type", evt.Type)
			return DispositionDuplicate, nil
		}
		rt.logger.Warn("webhook: ledger claim failed, processing anyway",
			"tenant_id", evt.TenantID, "event_id", evt.EventID, "error", err)
	}

	handler := rt.handlers[evt.Type]
	if handler == nil {
		rt.logger.Info("webhook: no handler for event type, acknowledged",
			"tenant_id", evt.TenantID, "type", evt.Type)
		rt.markProcessed(ctx, evt)
		return DispositionIgnored, nil
	}

	rt.wg.Add(1)
	bgCtx := tenancy.WithTenantID(context.WithoutCancel(ctx), evt.TenantID)
	go func() {
		defer rt.wg.Done()
		rt.runHandler(bgCtx, handler, evt)
	}()
	return DispositionAccepted, nil
}

func (rt *Router) runHandler(ctx context.Context, handler Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			rt.logger.Error("webhook: handler panicked",
				"tenant_id", evt.TenantID, "type", evt.Type, "event_id", evt.EventID, "panic", r)
			if rt.alerts != nil {
				rt.alerts.Notify(ctx, alerting.SeverityCritical, "Webhook handler panic",
					fmt.Sprintf("Handler for %s panicked: %v", evt.Type, r),
					map[string]string{"tenant_id": evt.TenantID, "event_id": evt.EventID})
			}
		}
	}()

	if err := handler.HandleEvent(ctx, evt); err != nil {
		// The claim stays unprocessed; operators can find and replay it.
		rt.logger.Error("webhook: handler failed",
			"tenant_id", evt.TenantID, "type", evt.Type, "event_id", evt.EventID, "error", err)
		rt.metrics.RecordWebhookEvent(evt.Type, "failed")
		return
	}
	rt.markProcessed(ctx, evt)
	rt.metrics.RecordWebhookEvent(evt.Type, "processed")
}

func (rt *Router) markProcessed(ctx context.Context, evt Event) {
	if err := rt.ledger.MarkProcessed(ctx, evt.TenantID, evt.Provider, evt.EventID, evt.Type); err != nil {
		rt.logger.Error("webhook: mark processed failed",
			"tenant_id", evt.TenantID, "event_id", evt.EventID, "error", err)
	}
}

// ServeHTTP accepts provider callbacks at POST /webhooks/{provider}. The
// response acknowledges receipt; processing continues in the background.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var evt Event
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if provider := chi.URLParam(r, "provider"); provider != "" {
		evt.Provider = provider
	}

	disposition, err := rt.Dispatch(r.Context(), evt)
	rt.metrics.ObserveWebhookLatency(evt.Type, time.Since(start).Seconds())
	rt.metrics.RecordWebhookEvent(evt.Type, string(disposition))

	switch {
	case err != nil:
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			http.Error(w, vErr.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "processing error", http.StatusInternalServerError)
	case disposition == DispositionDuplicate, disposition == DispositionIgnored:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}
