package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

const classifierPrompt = `Classify the outcome of this voice call transcript into ONE intent. Respond with JSON only.

Intents:
- booked: the caller committed to an appointment
- interested: the caller engaged but did not commit
- not_interested: the caller declined or asked not to be contacted
- question: the call was informational only
- unknown: none of the above fits

Transcript:
%s

Respond with: {"intent": "<intent>", "confidence": <0.0-1.0>, "summary": "<one sentence>"}`

// BedrockClassifier classifies transcripts with a Bedrock-hosted model.
type BedrockClassifier struct {
	api     bedrockConverseAPI
	modelID string
}

func NewBedrockClassifier(api bedrockConverseAPI, modelID string) *BedrockClassifier {
	if api == nil {
		panic("classify: bedrock converse client cannot be nil")
	}
	return &BedrockClassifier{api: api, modelID: modelID}
}

var _ Classifier = (*BedrockClassifier)(nil)

func (c *BedrockClassifier) Classify(ctx context.Context, transcript string) (Classification, error) {
	if strings.TrimSpace(c.modelID) == "" {
		return Classification{}, errors.New("classify: bedrock model id is required")
	}
	if strings.TrimSpace(transcript) == "" {
		return Classification{Intent: IntentUnknown}, nil
	}

	out, err := c.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		Messages: []brtypes.Message{{
			Role: brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: fmt.Sprintf(classifierPrompt, transcript)},
			},
		}},
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(256),
			Temperature: aws.Float32(0),
		},
	})
	if err != nil {
		return Classification{}, fmt.Errorf("classify: bedrock converse: %w", err)
	}

	text, err := extractOutputText(out)
	if err != nil {
		return Classification{}, err
	}
	return parseClassification(text)
}

func extractOutputText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", errors.New("classify: bedrock response is nil")
	}
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("classify: bedrock response did not include a message output")
	}
	var builder strings.Builder
	for _, block := range msgOut.Value.Content {
		if textBlock, ok := block.(*brtypes.ContentBlockMemberText); ok {
			builder.WriteString(textBlock.Value)
		}
	}
	text := strings.TrimSpace(builder.String())
	if text == "" {
		return "", errors.New("classify: bedrock response contained no text")
	}
	return text, nil
}

// parseClassification tolerates code fences and surrounding prose around
// the JSON object.
func parseClassification(text string) (Classification, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Classification{}, fmt.Errorf("classify: no JSON object in response %q", text)
	}
	var decoded struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
		Summary    string  `json:"summary"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &decoded); err != nil {
		return Classification{}, fmt.Errorf("classify: parse response: %w", err)
	}
	if !ValidIntent(decoded.Intent) {
		return Classification{}, fmt.Errorf("classify: unknown intent %q", decoded.Intent)
	}
	return Classification{
		Intent:     Intent(decoded.Intent),
		Confidence: decoded.Confidence,
		Summary:    decoded.Summary,
	}, nil
}
