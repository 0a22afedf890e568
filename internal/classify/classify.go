// Package classify derives the outcome of a finished voice call from its
// transcript. The primary classifier asks an LLM; a keyword fallback keeps
// follow-up scheduling working when the model is unavailable.
package classify

import "context"

// Intent is the classified outcome of a call.
type Intent string

const (
	// IntentBooked means the caller committed to an appointment.
	IntentBooked Intent = "booked"
	// IntentInterested means the caller engaged but did not book.
	IntentInterested Intent = "interested"
	// IntentNotInterested means the caller declined further contact.
	IntentNotInterested Intent = "not_interested"
	// IntentQuestion means the call was informational only.
	IntentQuestion Intent = "question"
	// IntentUnknown is the safety net when nothing else matches.
	IntentUnknown Intent = "unknown"
)

// Classification is the classifier's verdict on one transcript.
type Classification struct {
	Intent     Intent
	Confidence float64
	Summary    string
}

// Classifier classifies a call transcript.
type Classifier interface {
	Classify(ctx context.Context, transcript string) (Classification, error)
}

// ValidIntent reports whether the string names a known intent.
func ValidIntent(s string) bool {
	switch Intent(s) {
	case IntentBooked, IntentInterested, IntentNotInterested, IntentQuestion, IntentUnknown:
		return true
	}
	return false
}
