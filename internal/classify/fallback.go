package classify

import (
	"context"

	"github.com/voicelineai/voiceline-platform/pkg/logging"
)

// FallbackClassifier tries the primary classifier and falls back to the
// rule-based one on any error, so downstream scheduling always gets a
// verdict.
type FallbackClassifier struct {
	primary  Classifier
	fallback Classifier
	logger   *logging.Logger
}

func NewFallbackClassifier(primary Classifier, logger *logging.Logger) *FallbackClassifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackClassifier{
		primary:  primary,
		fallback: NewRuleClassifier(),
		logger:   logger,
	}
}

var _ Classifier = (*FallbackClassifier)(nil)

func (c *FallbackClassifier) Classify(ctx context.Context, transcript string) (Classification, error) {
	if c.primary != nil {
		result, err := c.primary.Classify(ctx, transcript)
		if err == nil {
			return result, nil
		}
		c.logger.Warn("classify: primary classifier failed, using rules", "error", err)
	}
	return c.fallback.Classify(ctx, transcript)
}
