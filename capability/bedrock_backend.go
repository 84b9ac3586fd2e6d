package capability

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// runtimeClient mirrors the subset of the AWS Bedrock runtime client used
// here, narrowed the same way features/model/bedrock/client.go's
// RuntimeClient narrows *bedrockruntime.Client to just Converse.
type runtimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockBackend implements Backend via the Bedrock Converse API.
type BedrockBackend struct {
	runtime runtimeClient
}

// NewBedrockBackend wraps an already-configured *bedrockruntime.Client (or
// a fake satisfying runtimeClient in tests).
func NewBedrockBackend(runtime runtimeClient) *BedrockBackend {
	return &BedrockBackend{runtime: runtime}
}

func (b *BedrockBackend) Complete(ctx context.Context, model, prompt string, maxTokens int) (string, int, int, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId: &model,
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: prompt}},
			},
		},
	}
	if maxTokens > 0 {
		mt := int32(maxTokens)
		input.InferenceConfig = &brtypes.InferenceConfiguration{MaxTokens: &mt}
	}

	out, err := b.runtime.Converse(ctx, input)
	if err != nil {
		return "", 0, 0, fmt.Errorf("bedrock converse: %w", err)
	}

	msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", 0, 0, fmt.Errorf("bedrock converse: unexpected output type %T", out.Output)
	}
	var text string
	for _, block := range msgOutput.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}
	var promptTok, completionTok int
	if out.Usage != nil {
		if out.Usage.InputTokens != nil {
			promptTok = int(*out.Usage.InputTokens)
		}
		if out.Usage.OutputTokens != nil {
			completionTok = int(*out.Usage.OutputTokens)
		}
	}
	return text, promptTok, completionTok, nil
}
