// Package queue implements the durable outbound message queue: the message
// lifecycle, the Postgres-backed store, and the polling processor with
// retry and dead-letter handling.
package queue

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Channel is the delivery channel for a queued message.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Status is the lifecycle state of a queued message.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
	StatusCancelled  Status = "cancelled"
)

// Message type tags. The tag decides whether the business-hours restriction
// applies and lets cancellation and reporting group related sends.
const (
	TypeConfirmation     = "confirmation"
	TypeReminder24h      = "reminder_24h"
	TypeReminder1h       = "reminder_1h"
	TypeNurtureDay1      = "nurture_day1"
	TypeNurtureDay4      = "nurture_day4"
	TypePostCallFollowup = "post_call_followup"
	TypeManual           = "manual"
)

// DefaultMaxAttempts bounds delivery attempts before dead-lettering.
const DefaultMaxAttempts = 3

// RestrictedToBusinessHours reports whether messages of the given type may
// only be sent during the tenant's open hours. Confirmations and post-call
// follow-ups are transactional and send any time.
func RestrictedToBusinessHours(messageType string) bool {
	switch messageType {
	case TypeReminder24h, TypeReminder1h, TypeNurtureDay1, TypeNurtureDay4:
		return true
	default:
		return false
	}
}

// Message is a queued outbound message.
type Message struct {
	ID          uuid.UUID
	TenantID    string
	Channel     Channel
	Recipient   string
	Subject     string
	Body        string
	MessageType string

	ScheduledFor time.Time
	Status       Status

	Attempts      int
	MaxAttempts   int
	LastAttemptAt *time.Time
	LastError     string

	DeadLetterAt     *time.Time
	DeadLetterReason string

	ProviderMessageID string
	ProviderStatus    string
	Provider          string
	CostUSD           float64

	// Weak references; the message may outlive both.
	CustomerID     *uuid.UUID
	ConversationID *uuid.UUID
	AppointmentID  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Stats groups message counts by lifecycle status.
type Stats struct {
	Pending    int
	Processing int
	Sent       int
	Failed     int
	DeadLetter int
	Cancelled  int
}

const (
	smsSegmentChars   = 160
	smsSegmentCostUSD = 0.0079
	emailFlatCostUSD  = 0.0001
)

// EstimateCost returns the reporting-grade delivery cost for a message body.
// SMS is costed per 160-character segment, email at a flat rate.
func EstimateCost(channel Channel, body string) float64 {
	switch channel {
	case ChannelSMS:
		segments := int(math.Ceil(float64(len(body)) / smsSegmentChars))
		if segments < 1 {
			segments = 1
		}
		return float64(segments) * smsSegmentCostUSD
	case ChannelEmail:
		return emailFlatCostUSD
	default:
		return 0
	}
}
