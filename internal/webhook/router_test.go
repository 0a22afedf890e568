package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicelineai/voiceline-platform/internal/alerting"
	"github.com/voicelineai/voiceline-platform/internal/tenancy"
)

type fakeLedger struct {
	mu         sync.Mutex
	claimed    map[string][]byte
	processed  []string
	claimErr   error
	seenErr    error
	claimCalls int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{claimed: make(map[string][]byte)}
}

func ledgerKey(tenantID, provider, eventID, eventType string) string {
	return tenantID + "/" + provider + "/" + eventID + "/" + eventType
}

func (f *fakeLedger) Seen(ctx context.Context, tenantID, provider, eventID, eventType string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seenErr != nil {
		return false, f.seenErr
	}
	_, ok := f.claimed[ledgerKey(tenantID, provider, eventID, eventType)]
	return ok, nil
}

func (f *fakeLedger) Claim(ctx context.Context, tenantID, provider, eventID, eventType string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimCalls++
	if f.claimErr != nil {
		return f.claimErr
	}
	key := ledgerKey(tenantID, provider, eventID, eventType)
	if _, ok := f.claimed[key]; ok {
		return ErrDuplicateEvent
	}
	f.claimed[key] = payload
	return nil
}

func (f *fakeLedger) MarkProcessed(ctx context.Context, tenantID, provider, eventID, eventType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, eventID)
	return nil
}

func (f *fakeLedger) processedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.processed)
}

func validEvent() Event {
	return Event{
		TenantID: "tenant-a",
		Provider: "voice",
		EventID:  "evt_1",
		Type:     "call.ended",
		Payload:  []byte(`{}`),
	}
}

func TestDispatchRejectsInvalidEnvelope(t *testing.T) {
	rt := NewRouter(newFakeLedger(), nil)

	evt := validEvent()
	evt.TenantID = ""
	disposition, err := rt.Dispatch(context.Background(), evt)
	assert.Equal(t, DispositionRejected, disposition)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "tenant_id", vErr.Field)
}

func TestDispatchRunsHandlerOnce(t *testing.T) {
	ledger := newFakeLedger()
	rt := NewRouter(ledger, nil)

	var mu sync.Mutex
	var calls int
	var handlerTenant string
	rt.Register("call.ended", HandlerFunc(func(ctx context.Context, evt Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		handlerTenant, _ = tenancy.TenantIDFromContext(ctx)
		return nil
	}))

	// First delivery processes; redeliveries of the same event id skip.
	disposition, err := rt.Dispatch(context.Background(), validEvent())
	require.NoError(t, err)
	assert.Equal(t, DispositionAccepted, disposition)

	for i := 0; i < 3; i++ {
		disposition, err = rt.Dispatch(context.Background(), validEvent())
		require.NoError(t, err)
		assert.Equal(t, DispositionDuplicate, disposition)
	}
	rt.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Equal(t, "tenant-a", handlerTenant)
	assert.Equal(t, 1, ledger.processedCount())
}

func TestDispatchStoresPayloadWithClaim(t *testing.T) {
	ledger := newFakeLedger()
	rt := NewRouter(ledger, nil)

	evt := validEvent()
	evt.Payload = []byte(`{"call_id":"c1"}`)
	_, err := rt.Dispatch(context.Background(), evt)
	require.NoError(t, err)
	rt.Wait()

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	stored := ledger.claimed[ledgerKey("tenant-a", "voice", "evt_1", "call.ended")]
	assert.JSONEq(t, `{"call_id":"c1"}`, string(stored))
}

func TestDispatchRedeliveryDetectedWithoutClaim(t *testing.T) {
	ledger := newFakeLedger()
	rt := NewRouter(ledger, nil)
	rt.Register("call.ended", HandlerFunc(func(ctx context.Context, evt Event) error { return nil }))

	_, err := rt.Dispatch(context.Background(), validEvent())
	require.NoError(t, err)

	disposition, err := rt.Dispatch(context.Background(), validEvent())
	require.NoError(t, err)
	assert.Equal(t, DispositionDuplicate, disposition)
	rt.Wait()

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	assert.Equal(t, 1, ledger.claimCalls, "known duplicates are caught before an insert is attempted")
}

func TestDispatchCheckErrorFallsThroughToClaim(t *testing.T) {
	ledger := newFakeLedger()
	ledger.seenErr = errors.New("db down")
	rt := NewRouter(ledger, nil)

	var calls int
	var mu sync.Mutex
	rt.Register("call.ended", HandlerFunc(func(ctx context.Context, evt Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	}))

	disposition, err := rt.Dispatch(context.Background(), validEvent())
	require.NoError(t, err)
	assert.Equal(t, DispositionAccepted, disposition)
	rt.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	assert.Equal(t, 1, ledger.claimCalls)
}

func TestDispatchUnknownTypeAcknowledged(t *testing.T) {
	ledger := newFakeLedger()
	rt := NewRouter(ledger, nil)

	disposition, err := rt.Dispatch(context.Background(), validEvent())
	require.NoError(t, err)
	assert.Equal(t, DispositionIgnored, disposition)
	assert.Equal(t, 1, ledger.processedCount())
}

func TestDispatchFailsOpenOnLedgerOutage(t *testing.T) {
	ledger := newFakeLedger()
	ledger.claimErr = errors.New("db down")
	rt := NewRouter(ledger, nil)

	var calls int
	var mu sync.Mutex
	rt.Register("call.ended", HandlerFunc(func(ctx context.Context, evt Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	}))

	disposition, err := rt.Dispatch(context.Background(), validEvent())
	require.NoError(t, err)
	assert.Equal(t, DispositionAccepted, disposition)
	rt.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "ledger outage must not drop events")
}

func TestDispatchHandlerErrorLeavesClaimOpen(t *testing.T) {
	ledger := newFakeLedger()
	rt := NewRouter(ledger, nil)
	rt.Register("call.ended", HandlerFunc(func(ctx context.Context, evt Event) error {
		return errors.New("downstream unavailable")
	}))

	_, err := rt.Dispatch(context.Background(), validEvent())
	require.NoError(t, err)
	rt.Wait()
	assert.Zero(t, ledger.processedCount(), "failed events stay claimed but unprocessed")
}

type panicAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (p *panicAlerter) Notify(ctx context.Context, severity alerting.Severity, title, message string, fields map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.titles = append(p.titles, title)
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	ledger := newFakeLedger()
	alerts := &panicAlerter{}
	rt := NewRouter(ledger, nil).WithAlerter(alerts)
	rt.Register("call.ended", HandlerFunc(func(ctx context.Context, evt Event) error {
		panic("boom")
	}))

	_, err := rt.Dispatch(context.Background(), validEvent())
	require.NoError(t, err)
	rt.Wait()

	alerts.mu.Lock()
	defer alerts.mu.Unlock()
	require.Len(t, alerts.titles, 1)
	assert.Equal(t, "Webhook handler panic", alerts.titles[0])
}

func TestServeHTTPStatusCodes(t *testing.T) {
	ledger := newFakeLedger()
	rt := NewRouter(ledger, nil)
	rt.Register("call.ended", HandlerFunc(func(ctx context.Context, evt Event) error { return nil }))

	mux := chi.NewRouter()
	mux.Post("/webhooks/{provider}", rt.ServeHTTP)

	body := `{"tenant_id":"tenant-a","id":"evt_9","type":"call.ended","data":{}}`

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(body)))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// Same event id again: acknowledged as a duplicate.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Missing envelope fields.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(`{"id":"x"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed JSON.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rt.Wait()
}
