package llm

import (
	"context"

	"github.com/pelagicai/pelagic/services/chatbot/datatypes"
)

// GenerationParams holds optional sampling parameters for a generation
// request. Nil pointer fields fall back to backend defaults.
type GenerationParams struct {
	Temperature *float32
	TopK        *int
	TopP        *float32
	MaxTokens   *int
	Stop        []string
}

// LLMClient is the contract every text-generation backend implements.
//
// Generate completes a single prompt, Chat completes a conversation, and
// ChatStream delivers the answer incrementally through the callback. All
// three honor context cancellation. Chat additionally reports token usage;
// a nil usage means the backend did not provide counts.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
	Chat(ctx context.Context, messages []datatypes.Message,
		params GenerationParams) (string, *datatypes.TokenUsage, error)
	ChatStream(ctx context.Context, messages []datatypes.Message,
		params GenerationParams, callback StreamCallback) error
}
