package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// chatClient captures the subset of the OpenAI client used here, the same
// narrowing features/model/openai/client.go applies to go-openai's
// client: an interface over CreateChatCompletion so a fake can stand in
// during tests.
type chatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIBackend implements Backend via the Chat Completions API.
type OpenAIBackend struct {
	chat chatClient
}

// NewOpenAIBackend wraps an already-configured client.
func NewOpenAIBackend(chat chatClient) *OpenAIBackend {
	return &OpenAIBackend{chat: chat}
}

// NewOpenAIBackendFromAPIKey mirrors features/model/openai/client.go's
// NewFromAPIKey: construct a client from a raw key using the SDK default
// HTTP transport.
func NewOpenAIBackendFromAPIKey(apiKey string) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, errors.New("capability: openai api key is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAIBackend(&client.Chat.Completions), nil
}

func (b *OpenAIBackend) Complete(ctx context.Context, model, prompt string, maxTokens int) (string, int, int, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	resp, err := b.chat.New(ctx, params)
	if err != nil {
		return "", 0, 0, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", 0, 0, errors.New("openai: empty choices in response")
	}
	return resp.Choices[0].Message.Content, int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens), nil
}
