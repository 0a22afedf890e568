// Package webhook receives provider callbacks, deduplicates them through a
// persistent idempotency ledger, and routes them to registered handlers.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateEvent is returned when an event id was already claimed by an
// earlier delivery of the same webhook.
var ErrDuplicateEvent = errors.New("webhook: event already claimed")

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LedgerRecord is one row of the idempotency ledger. A claimed row with a
// nil ProcessedAt marks an event whose handler never finished; the stored
// payload lets operators replay it.
type LedgerRecord struct {
	TenantID    string
	Provider    string
	EventID     string
	EventType   string
	Payload     []byte
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

// Ledger is the Postgres-backed idempotency ledger. The unique key over
// (tenant_id, provider, event_id, event_type) makes Claim safe under
// concurrent redeliveries: exactly one wins. Event type is part of the key
// because some providers reuse one call id across the event types it emits.
type Ledger struct {
	pool rowQuerier
}

func NewLedger(pool rowQuerier) *Ledger {
	if pool == nil {
		panic("webhook: pgx pool required")
	}
	return &Ledger{pool: pool}
}

// Claim records the event, raw payload included, before processing starts.
// Returns ErrDuplicateEvent when another delivery already claimed it.
func (l *Ledger) Claim(ctx context.Context, tenantID, provider, eventID, eventType string, payload []byte) error {
	query := `
		INSERT INTO webhook_events (tenant_id, provider, event_id, event_type, payload)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := l.pool.Exec(ctx, query, tenantID, provider, eventID, eventType, payload); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("webhook: claim event: %w", err)
	}
	return nil
}

// MarkProcessed stamps a claimed event as fully handled. Idempotent.
func (l *Ledger) MarkProcessed(ctx context.Context, tenantID, provider, eventID, eventType string) error {
	query := `
		UPDATE webhook_events
		SET processed_at = now()
		WHERE tenant_id = $1 AND provider = $2 AND event_id = $3 AND event_type = $4
		  AND processed_at IS NULL
	`
	if _, err := l.pool.Exec(ctx, query, tenantID, provider, eventID, eventType); err != nil {
		return fmt.Errorf("webhook: mark processed: %w", err)
	}
	return nil
}

// Seen reports whether the event exists in the ledger, claimed or
// processed.
func (l *Ledger) Seen(ctx context.Context, tenantID, provider, eventID, eventType string) (bool, error) {
	query := `
		SELECT 1 FROM webhook_events
		WHERE tenant_id = $1 AND provider = $2 AND event_id = $3 AND event_type = $4
	`
	var exists int
	if err := l.pool.QueryRow(ctx, query, tenantID, provider, eventID, eventType).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("webhook: check seen: %w", err)
	}
	return true, nil
}
