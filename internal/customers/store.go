// Package customers stores the people the voice agent talks to and the
// conversations it has with them.
package customers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a customer or conversation does not exist.
var ErrNotFound = errors.New("customers: not found")

// Customer is a caller known to a tenant, keyed by phone number.
type Customer struct {
	ID        uuid.UUID
	TenantID  string
	Phone     string
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Conversation is one completed voice call with a customer.
type Conversation struct {
	ID         uuid.UUID
	TenantID   string
	CustomerID uuid.UUID
	CallID     string
	Transcript string
	Summary    string
	Intent     string
	StartedAt  time.Time
	EndedAt    time.Time
	CreatedAt  time.Time
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists customers and conversations in Postgres.
type Store struct {
	pool querier
}

func NewStore(pool querier) *Store {
	if pool == nil {
		panic("customers: pgx pool required")
	}
	return &Store{pool: pool}
}

// GetOrCreateByPhone upserts a customer by (tenant, phone). Name and email
// fill in only when the stored values are empty, so a later call with less
// information never erases what an earlier call learned.
func (s *Store) GetOrCreateByPhone(ctx context.Context, tenantID, phone, name, email string) (*Customer, error) {
	if tenantID == "" {
		return nil, errors.New("customers: tenant id required")
	}
	if phone == "" {
		return nil, errors.New("customers: phone required")
	}
	query := `
		INSERT INTO customers (tenant_id, phone, name, email)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, phone) DO UPDATE SET
			name = CASE WHEN customers.name = '' THEN EXCLUDED.name ELSE customers.name END,
			email = CASE WHEN customers.email = '' THEN EXCLUDED.email ELSE customers.email END,
			updated_at = now()
		RETURNING id, tenant_id, phone, name, email, created_at, updated_at
	`
	var c Customer
	if err := s.pool.QueryRow(ctx, query, tenantID, phone, name, email).Scan(
		&c.ID, &c.TenantID, &c.Phone, &c.Name, &c.Email, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("customers: upsert by phone: %w", err)
	}
	return &c, nil
}

// GetByID fetches a customer scoped to the tenant.
func (s *Store) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Customer, error) {
	query := `
		SELECT id, tenant_id, phone, name, email, created_at, updated_at
		FROM customers
		WHERE id = $1 AND tenant_id = $2
	`
	var c Customer
	if err := s.pool.QueryRow(ctx, query, id, tenantID).Scan(
		&c.ID, &c.TenantID, &c.Phone, &c.Name, &c.Email, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("customers: select by id: %w", err)
	}
	return &c, nil
}

// RecordConversation inserts a conversation row for a completed call.
// Replays of the same call id return the existing row's id.
func (s *Store) RecordConversation(ctx context.Context, conv Conversation) (uuid.UUID, error) {
	if conv.TenantID == "" || conv.CallID == "" {
		return uuid.Nil, errors.New("customers: tenant id and call id required")
	}
	query := `
		INSERT INTO conversations (tenant_id, customer_id, call_id, transcript, summary, intent, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, call_id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id
		RETURNING id
	`
	var id uuid.UUID
	if err := s.pool.QueryRow(ctx, query,
		conv.TenantID, conv.CustomerID, conv.CallID, conv.Transcript, conv.Summary, conv.Intent,
		conv.StartedAt, conv.EndedAt,
	).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("customers: insert conversation: %w", err)
	}
	return id, nil
}

// GetConversationByCallID fetches a conversation by its provider call id.
func (s *Store) GetConversationByCallID(ctx context.Context, tenantID, callID string) (*Conversation, error) {
	query := `
		SELECT id, tenant_id, customer_id, call_id, transcript, summary, intent, started_at, ended_at, created_at
		FROM conversations
		WHERE tenant_id = $1 AND call_id = $2
	`
	var conv Conversation
	if err := s.pool.QueryRow(ctx, query, tenantID, callID).Scan(
		&conv.ID, &conv.TenantID, &conv.CustomerID, &conv.CallID, &conv.Transcript,
		&conv.Summary, &conv.Intent, &conv.StartedAt, &conv.EndedAt, &conv.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("customers: select conversation: %w", err)
	}
	return &conv, nil
}
