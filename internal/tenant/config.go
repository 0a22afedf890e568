// Package tenant provides per-tenant configuration and its persistence.
package tenant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/voicelineai/voiceline-platform/internal/hours"
)

// NotificationPrefs holds operator notification preferences for a tenant.
type NotificationPrefs struct {
	EmailEnabled    bool     `json:"email_enabled"`
	EmailRecipients []string `json:"email_recipients,omitempty"`
	SMSEnabled      bool     `json:"sms_enabled"`
	SMSRecipients   []string `json:"sms_recipients,omitempty"`
}

// Config holds tenant-specific configuration.
type Config struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	// SMSFromNumber is the tenant's sending number for outbound SMS.
	SMSFromNumber string            `json:"sms_from_number,omitempty"`
	Timezone      string            `json:"timezone"` // e.g., "America/New_York"
	BusinessHours hours.Schedule    `json:"business_hours"`
	Notifications NotificationPrefs `json:"notifications"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig(tenantID string) *Config {
	weekday := &hours.DayHours{Open: "09:00", Close: "18:00"}
	return &Config{
		TenantID: tenantID,
		Name:     "Voiceline Client",
		Timezone: "America/New_York",
		BusinessHours: hours.Schedule{
			Monday:    weekday,
			Tuesday:   weekday,
			Wednesday: weekday,
			Thursday:  weekday,
			Friday:    &hours.DayHours{Open: "09:00", Close: "17:00"},
			Saturday:  nil, // Closed
			Sunday:    nil, // Closed
		},
	}
}

// Store persists tenant configurations in Redis.
type Store struct {
	redis *redis.Client
}

// NewStore creates a tenant config store.
func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

func (s *Store) key(tenantID string) string {
	return fmt.Sprintf("tenant:config:%s", tenantID)
}

// Get retrieves tenant config, returning the default if not found.
func (s *Store) Get(ctx context.Context, tenantID string) (*Config, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID)).Bytes()
	if err == redis.Nil {
		return DefaultConfig(tenantID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("tenant: get config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("tenant: unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Set saves tenant config.
func (s *Store) Set(ctx context.Context, cfg *Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("tenant: marshal config: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(cfg.TenantID), data, 0).Err(); err != nil {
		return fmt.Errorf("tenant: set config: %w", err)
	}
	return nil
}

// GetBusinessHours returns the tenant's weekly schedule.
func (s *Store) GetBusinessHours(ctx context.Context, tenantID string) (*hours.Schedule, error) {
	cfg, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &cfg.BusinessHours, nil
}

// GetTimezone returns the tenant's IANA timezone name.
func (s *Store) GetTimezone(ctx context.Context, tenantID string) (string, error) {
	cfg, err := s.Get(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return cfg.Timezone, nil
}
