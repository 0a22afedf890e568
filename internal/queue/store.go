package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a message id does not exist.
var ErrNotFound = errors.New("queue: message not found")

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists queued messages in Postgres. Messages are never physically
// deleted; terminal rows remain as the delivery audit trail.
type Store struct {
	pool PgxPool

	defaultMaxAttempts int
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool, defaultMaxAttempts: DefaultMaxAttempts}
}

// WithDefaultMaxAttempts sets the attempt bound applied to messages
// enqueued without one.
func (s *Store) WithDefaultMaxAttempts(n int) *Store {
	if n > 0 {
		s.defaultMaxAttempts = n
	}
	return s
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

const messageColumns = `id, tenant_id, channel, recipient, subject, body, message_type,
		scheduled_for, status, attempts, max_attempts, last_attempt_at, last_error,
		dead_letter_at, dead_letter_reason, provider_message_id, provider_status,
		provider, cost_usd, customer_id, conversation_id, appointment_id, created_at, updated_at`

// Enqueue inserts a new pending message and returns its id. A zero
// ScheduledFor means eligible immediately; a zero MaxAttempts gets the
// default bound.
func (s *Store) Enqueue(ctx context.Context, q Querier, msg Message) (uuid.UUID, error) {
	if q == nil {
		q = s.pool
	}
	if msg.TenantID == "" {
		return uuid.Nil, errors.New("queue: tenant id required")
	}
	if msg.Recipient == "" {
		return uuid.Nil, errors.New("queue: recipient required")
	}
	if msg.Channel != ChannelSMS && msg.Channel != ChannelEmail {
		return uuid.Nil, fmt.Errorf("queue: unsupported channel %q", msg.Channel)
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = s.defaultMaxAttempts
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = DefaultMaxAttempts
	}
	if msg.ScheduledFor.IsZero() {
		msg.ScheduledFor = time.Now().UTC()
	}
	if msg.MessageType == "" {
		msg.MessageType = TypeManual
	}
	query := `
		INSERT INTO queued_messages (
			tenant_id, channel, recipient, subject, body, message_type,
			scheduled_for, status, max_attempts, customer_id, conversation_id, appointment_id
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',$8,$9,$10,NULLIF($11,''))
		RETURNING id
	`
	var id uuid.UUID
	if err := q.QueryRow(ctx, query,
		msg.TenantID, string(msg.Channel), msg.Recipient, msg.Subject, msg.Body, msg.MessageType,
		msg.ScheduledFor, msg.MaxAttempts, msg.CustomerID, msg.ConversationID, msg.AppointmentID,
	).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("queue: enqueue: %w", err)
	}
	return id, nil
}

// Get loads a single message by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM queued_messages WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("queue: get message: %w", err)
	}
	return msg, nil
}

// DueBatch returns pending messages eligible for delivery at the given
// instant, oldest scheduled first, bounded by batchSize.
func (s *Store) DueBatch(ctx context.Context, now time.Time, batchSize int) ([]Message, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	query := `
		SELECT ` + messageColumns + `
		FROM queued_messages
		WHERE status = 'pending'
			AND scheduled_for <= $1
			AND attempts < max_attempts
		ORDER BY scheduled_for ASC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("queue: due batch: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// MarkProcessing claims a pending message for delivery. Returns false when
// the message was not claimable (already claimed, cancelled, or terminal).
func (s *Store) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE queued_messages
		SET status = 'processing', updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`
	ct, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("queue: mark processing: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// MarkSent records a successful delivery. Terminal.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, outcomeProvider, providerMessageID, providerStatus string, costUSD float64) error {
	query := `
		UPDATE queued_messages
		SET status = 'sent',
			provider = $2,
			provider_message_id = $3,
			provider_status = $4,
			cost_usd = $5,
			last_attempt_at = now(),
			attempts = attempts + 1,
			updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`
	if _, err := s.pool.Exec(ctx, query, id, outcomeProvider, providerMessageID, providerStatus, costUSD); err != nil {
		return fmt.Errorf("queue: mark sent: %w", err)
	}
	return nil
}

// ScheduleRetry records a transient failure: increments attempts, returns
// the message to pending, and pushes scheduled_for to the retry instant.
func (s *Store) ScheduleRetry(ctx context.Context, id uuid.UUID, lastError string, retryAt time.Time) error {
	query := `
		UPDATE queued_messages
		SET status = 'pending',
			attempts = attempts + 1,
			last_error = $2,
			last_attempt_at = now(),
			scheduled_for = $3,
			updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`
	if _, err := s.pool.Exec(ctx, query, id, lastError, retryAt); err != nil {
		return fmt.Errorf("queue: schedule retry: %w", err)
	}
	return nil
}

// Reschedule returns a claimed message to pending with a new eligibility
// instant without consuming an attempt. Used when a business-hours
// restricted message comes due outside the tenant's open hours.
func (s *Store) Reschedule(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE queued_messages
		SET status = 'pending',
			scheduled_for = $2,
			updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`
	if _, err := s.pool.Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("queue: reschedule: %w", err)
	}
	return nil
}

// MarkDeadLetter records a permanent failure after the retry budget is
// exhausted. Terminal until an explicit manual retry.
func (s *Store) MarkDeadLetter(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE queued_messages
		SET status = 'dead_letter',
			attempts = attempts + 1,
			last_error = $2,
			last_attempt_at = now(),
			dead_letter_at = now(),
			dead_letter_reason = $2,
			updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`
	if _, err := s.pool.Exec(ctx, query, id, reason); err != nil {
		return fmt.Errorf("queue: mark dead letter: %w", err)
	}
	return nil
}

// Cancel transitions a message to cancelled. Only pending and processing
// messages can be cancelled; sends already in flight may still reach the
// provider (accepted race).
func (s *Store) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE queued_messages
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`
	ct, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("queue: cancel: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// CancelByAppointment cancels all still-pending messages linked to an
// appointment. Sent and dead-lettered messages are untouched.
func (s *Store) CancelByAppointment(ctx context.Context, tenantID, appointmentID string) (int64, error) {
	if appointmentID == "" {
		return 0, errors.New("queue: appointment id required")
	}
	query := `
		UPDATE queued_messages
		SET status = 'cancelled', updated_at = now()
		WHERE tenant_id = $1 AND appointment_id = $2 AND status = 'pending'
	`
	ct, err := s.pool.Exec(ctx, query, tenantID, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("queue: cancel by appointment: %w", err)
	}
	return ct.RowsAffected(), nil
}

// Retry resets a failed or dead-lettered message for another delivery
// cycle: attempts back to zero, error and dead-letter fields cleared,
// eligible immediately.
func (s *Store) Retry(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE queued_messages
		SET status = 'pending',
			attempts = 0,
			last_error = '',
			dead_letter_at = NULL,
			dead_letter_reason = '',
			scheduled_for = now(),
			updated_at = now()
		WHERE id = $1 AND status IN ('failed', 'dead_letter')
	`
	ct, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("queue: retry: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// GetStats returns message counts grouped by status. An empty tenant id
// aggregates across all tenants.
func (s *Store) GetStats(ctx context.Context, tenantID string) (Stats, error) {
	query := `
		SELECT status, COUNT(*)
		FROM queued_messages
		WHERE ($1 = '' OR tenant_id = $1)
		GROUP BY status
	`
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return Stats{}, fmt.Errorf("queue: get stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("queue: scan stats: %w", err)
		}
		switch Status(status) {
		case StatusPending:
			stats.Pending = count
		case StatusProcessing:
			stats.Processing = count
		case StatusSent:
			stats.Sent = count
		case StatusFailed:
			stats.Failed = count
		case StatusDeadLetter:
			stats.DeadLetter = count
		case StatusCancelled:
			stats.Cancelled = count
		}
	}
	return stats, rows.Err()
}

// GetScheduled returns pending messages due within the forward window, for
// operator visibility. An empty tenant id spans all tenants.
func (s *Store) GetScheduled(ctx context.Context, hoursAhead int, tenantID string) ([]Message, error) {
	if hoursAhead <= 0 {
		hoursAhead = 24
	}
	query := `
		SELECT ` + messageColumns + `
		FROM queued_messages
		WHERE status = 'pending'
			AND scheduled_for <= now() + ($1 * interval '1 hour')
			AND ($2 = '' OR tenant_id = $2)
		ORDER BY scheduled_for ASC
	`
	rows, err := s.pool.Query(ctx, query, hoursAhead, tenantID)
	if err != nil {
		return nil, fmt.Errorf("queue: get scheduled: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("queue: scan message: %w", err)
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

func scanMessage(row pgx.Row) (*Message, error) {
	var msg Message
	var subject, lastError, deadLetterReason, providerMessageID, providerStatus, provider, appointmentID sql.NullString
	var lastAttemptAt, deadLetterAt sql.NullTime
	var costUSD sql.NullFloat64
	if err := row.Scan(
		&msg.ID, &msg.TenantID, &msg.Channel, &msg.Recipient, &subject, &msg.Body, &msg.MessageType,
		&msg.ScheduledFor, &msg.Status, &msg.Attempts, &msg.MaxAttempts, &lastAttemptAt, &lastError,
		&deadLetterAt, &deadLetterReason, &providerMessageID, &providerStatus,
		&provider, &costUSD, &msg.CustomerID, &msg.ConversationID, &appointmentID, &msg.CreatedAt, &msg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	msg.Subject = subject.String
	msg.LastError = lastError.String
	msg.DeadLetterReason = deadLetterReason.String
	msg.ProviderMessageID = providerMessageID.String
	msg.ProviderStatus = providerStatus.String
	msg.Provider = provider.String
	msg.AppointmentID = appointmentID.String
	msg.CostUSD = costUSD.Float64
	if lastAttemptAt.Valid {
		value := lastAttemptAt.Time
		msg.LastAttemptAt = &value
	}
	if deadLetterAt.Valid {
		value := deadLetterAt.Time
		msg.DeadLetterAt = &value
	}
	return &msg, nil
}
