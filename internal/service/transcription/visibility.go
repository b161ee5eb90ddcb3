package transcription

import (
	"context"
	"errors"
	"fmt"

	"github.com/vultisig/voice-chat/internal/ai/anthropic"
)

// ErrMalformedOutput is returned when the model does not report a visibility decision.
var ErrMalformedOutput = errors.New("malformed visibility output")

const visibilityToolName = "report_transcription_visibility"

const visibilityPrompt = `You are an AI assistant that reviews transcriptions of voice messages sent in a chat.

You will receive the transcription of one audio message. Decide whether the transcription should be shown to the user under the audio player. Consider the likely accuracy of the transcription, the length of the message, and whether the text adds anything the user would want to read. Very short filler, noise artefacts and garbled output should usually be hidden.

Always answer with the report_transcription_visibility tool.`

var visibilityTool = anthropic.Tool{
	Name:        visibilityToolName,
	Description: "Report whether the transcription of a voice message should be shown to the user.",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"show_transcription": map[string]any{
				"type":        "boolean",
				"description": "True if the transcription should be shown, false otherwise.",
			},
			"reason": map[string]any{
				"type":        "string",
				"description": "One short sentence explaining the decision.",
			},
		},
		"required": []string{"show_transcription"},
	},
}

type visibilityInput struct {
	ShowTranscription *bool  `json:"show_transcription"`
	Reason            string `json:"reason"`
}

// AnthropicClassifier asks Claude whether a transcription should be displayed.
type AnthropicClassifier struct {
	client *anthropic.Client
}

// NewAnthropicClassifier creates a classifier backed by the given client.
func NewAnthropicClassifier(client *anthropic.Client) *AnthropicClassifier {
	return &AnthropicClassifier{client: client}
}

// ShouldShow returns the model's visibility decision for text.
func (c *AnthropicClassifier) ShouldShow(ctx context.Context, text string, language string) (bool, error) {
	content := "Transcription:\n\n" + text
	if language != "" {
		content = "Detected language: " + language + "\n\n" + content
	}

	resp, err := c.client.SendMessage(ctx, &anthropic.Request{
		MaxTokens:  256,
		System:     visibilityPrompt,
		Messages:   []anthropic.Message{{Role: "user", Content: content}},
		Tools:      []anthropic.Tool{visibilityTool},
		ToolChoice: &anthropic.ToolChoice{Type: "tool", Name: visibilityToolName},
	})
	if err != nil {
		return false, fmt.Errorf("call anthropic: %w", err)
	}

	var in visibilityInput
	found, err := resp.ToolInput(visibilityToolName, &in)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if !found || in.ShowTranscription == nil {
		return false, ErrMalformedOutput
	}
	return *in.ShowTranscription, nil
}
