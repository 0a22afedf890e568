package classify

import (
	"context"
	"strings"
)

// RuleClassifier is a keyword-based fallback. It is deliberately
// conservative: it only claims an intent when the transcript contains a
// strong signal, and reports low confidence either way.
type RuleClassifier struct{}

func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

var _ Classifier = (*RuleClassifier)(nil)

var (
	bookedSignals = []string{
		"you're all set", "you are all set", "booked you", "appointment is confirmed",
		"i've scheduled", "i have scheduled", "see you on", "confirmed for",
	}
	declineSignals = []string{
		"not interested", "don't call", "do not call", "stop calling",
		"remove me", "no thanks", "take me off",
	}
	interestSignals = []string{
		"think about it", "call back", "call me back", "send me", "pricing",
		"how much", "maybe next", "check my schedule",
	}
)

func (c *RuleClassifier) Classify(ctx context.Context, transcript string) (Classification, error) {
	lowered := strings.ToLower(transcript)

	if containsAny(lowered, declineSignals) {
		return Classification{Intent: IntentNotInterested, Confidence: 0.5}, nil
	}
	if containsAny(lowered, bookedSignals) {
		return Classification{Intent: IntentBooked, Confidence: 0.5}, nil
	}
	if containsAny(lowered, interestSignals) {
		return Classification{Intent: IntentInterested, Confidence: 0.4}, nil
	}
	if strings.Contains(lowered, "?") {
		return Classification{Intent: IntentQuestion, Confidence: 0.3}, nil
	}
	return Classification{Intent: IntentUnknown, Confidence: 0.2}, nil
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
