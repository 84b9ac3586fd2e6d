package capability

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// messagesClient captures the subset of the Anthropic SDK used here,
// narrowed from features/model/anthropic/client.go's MessagesClient so a
// fake can stand in for *sdk.MessageService in tests.
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicBackend implements Backend on top of the Claude Messages API.
type AnthropicBackend struct {
	msg messagesClient
}

// NewAnthropicBackend wraps an already-configured Anthropic client.
func NewAnthropicBackend(msg messagesClient) *AnthropicBackend {
	return &AnthropicBackend{msg: msg}
}

// NewAnthropicBackendFromAPIKey constructs a backend from a raw API key
// using the SDK's default HTTP client, mirroring
// features/model/anthropic/client.go's NewFromAPIKey.
func NewAnthropicBackendFromAPIKey(apiKey string) (*AnthropicBackend, error) {
	if apiKey == "" {
		return nil, errors.New("capability: anthropic api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicBackend(&client.Messages), nil
}

func (b *AnthropicBackend) Complete(ctx context.Context, model, prompt string, maxTokens int) (string, int, int, error) {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}
	msg, err := b.msg.New(ctx, params)
	if err != nil {
		return "", 0, 0, fmt.Errorf("anthropic messages.new: %w", err)
	}
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens), nil
}
