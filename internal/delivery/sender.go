// Package delivery sends outbound messages through SMS and email providers
// with ordered failover between concrete providers.
package delivery

import (
	"context"
	"errors"

	"github.com/voicelineai/voiceline-platform/pkg/logging"
)

// Message is a single outbound message handed to a provider.
type Message struct {
	TenantID string
	From     string
	To       string
	Subject  string // email only
	Body     string
}

// Outcome reports a successful provider send.
type Outcome struct {
	// Provider is the concrete provider that accepted the message, for
	// failover auditing.
	Provider          string
	ProviderMessageID string
	ProviderStatus    string
}

// Sender delivers a message through one concrete provider.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) (Outcome, error)
}

// Chain tries each sender in order until one succeeds.
type Chain struct {
	senders []Sender
	logger  *logging.Logger
}

// NewChain builds an ordered failover chain. Nil senders are skipped.
func NewChain(logger *logging.Logger, senders ...Sender) *Chain {
	if logger == nil {
		logger = logging.Default()
	}
	kept := make([]Sender, 0, len(senders))
	for _, s := range senders {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Chain{senders: kept, logger: logger}
}

// Name returns the names of the chained providers.
func (c *Chain) Name() string {
	name := ""
	for _, s := range c.senders {
		if name != "" {
			name += "+"
		}
		name += s.Name()
	}
	return name
}

// Send tries each provider in order, returning the first success. The last
// provider's error is returned when every provider fails.
func (c *Chain) Send(ctx context.Context, msg Message) (Outcome, error) {
	if len(c.senders) == 0 {
		return Outcome{}, errors.New("delivery: no providers configured")
	}
	var lastErr error
	for i, s := range c.senders {
		outcome, err := s.Send(ctx, msg)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if i < len(c.senders)-1 {
			c.logger.Warn("provider send failed; attempting fallback",
				"provider", s.Name(),
				"fallback", c.senders[i+1].Name(),
				"error", err,
				"to", msg.To,
			)
		} else {
			c.logger.Error("all providers failed",
				"provider", s.Name(),
				"error", err,
				"to", msg.To,
			)
		}
	}
	return Outcome{}, lastErr
}

var _ Sender = (*Chain)(nil)
