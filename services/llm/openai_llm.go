package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pelagicai/pelagic/services/chatbot/datatypes"
)

// OpenAIClient backs generation with the OpenAI chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates an OpenAIClient from environment configuration.
//
// # Description
//
// Reads the API key from OPENAI_API_KEY, falling back to the Docker secret
// at /run/secrets/openai_api_key. The model defaults to gpt-4o-mini and can
// be overridden with OPENAI_MODEL.
//
// # Outputs
//
//   - *OpenAIClient: Configured client.
//   - error: Non-nil when no API key is available.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		if data, err := os.ReadFile("/run/secrets/openai_api_key"); err == nil {
			apiKey = strings.TrimSpace(string(data))
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set and no secret file found")
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// toOpenAIMessages converts internal messages to the OpenAI wire type.
func toOpenAIMessages(messages []datatypes.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return out
}

// buildChatRequest assembles a completion request from messages and params.
func (c *OpenAIClient) buildChatRequest(messages []datatypes.Message,
	params GenerationParams, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(messages),
		Stream:   stream,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

// Generate produces text from a single prompt.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string,
	params GenerationParams) (string, error) {
	answer, _, err := c.Chat(ctx, []datatypes.Message{{Role: "user", Content: prompt}}, params)
	return answer, err
}

// Chat conducts a conversation with message history.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - messages: Conversation history in chronological order.
//   - params: Generation parameters. TopK is not supported by this backend
//     and is ignored.
//
// # Outputs
//
//   - string: The assistant's reply.
//   - *datatypes.TokenUsage: Prompt and completion token counts from the
//     API's usage block.
//   - error: Non-nil on API failure or empty response.
func (c *OpenAIClient) Chat(ctx context.Context, messages []datatypes.Message,
	params GenerationParams) (string, *datatypes.TokenUsage, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Chat")
	defer span.End()

	resp, err := c.client.CreateChatCompletion(ctx, c.buildChatRequest(messages, params, false))
	if err != nil {
		return "", nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, fmt.Errorf("openai chat completion returned no choices")
	}

	usage := &datatypes.TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}

	return resp.Choices[0].Message.Content, usage, nil
}

// ChatStream streams a conversation response token-by-token.
//
// # Description
//
// Opens a completion stream and forwards each content delta to the callback
// as a StreamEventToken. The stream ends cleanly on io.EOF. A callback error
// aborts the stream and is returned wrapped as a callback error.
//
// # Limitations
//
//   - Thinking events are never emitted by this backend.
func (c *OpenAIClient) ChatStream(ctx context.Context, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback) error {
	ctx, span := tracer.Start(ctx, "OpenAIClient.ChatStream")
	defer span.End()

	stream, err := c.client.CreateChatCompletionStream(ctx,
		c.buildChatRequest(messages, params, true))
	if err != nil {
		return fmt.Errorf("openai stream open: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("openai stream cancelled: %w", ctx.Err())
			}
			return fmt.Errorf("openai stream recv: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		content := resp.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		if cbErr := callback(StreamEvent{
			Type:    StreamEventToken,
			Content: content,
		}); cbErr != nil {
			return fmt.Errorf("stream callback error: %w", cbErr)
		}
	}
}

var _ LLMClient = (*OpenAIClient)(nil)
