package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"go.opentelemetry.io/otel"

	"github.com/pelagicai/pelagic/services/chatbot/datatypes"
)

var tracer = otel.Tracer("github.com/pelagicai/pelagic/services/llm")

// Default sampling options applied when GenerationParams leaves a field nil.
const (
	defaultTemperature = float32(0.3)
	defaultTopK        = 20
	defaultTopP        = float32(0.9)
	defaultMaxTokens   = 2048
)

// OllamaClient talks to an Ollama server over its HTTP API.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// NewOllamaClient creates an OllamaClient from environment configuration.
//
// # Description
//
// Reads OLLAMA_BASE_URL (default "http://localhost:11434") and OLLAMA_MODEL
// (default "llama3.1"). The HTTP client has no global timeout; streaming
// requests are bounded by the caller's context instead.
//
// # Outputs
//
//   - *OllamaClient: Configured client.
//   - error: Reserved for future validation; currently always nil.
func NewOllamaClient() (*OllamaClient, error) {
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := os.Getenv("OLLAMA_MODEL")
	if model == "" {
		model = "llama3.1"
	}

	return &OllamaClient{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		model:      model,
	}, nil
}

// ollamaChatRequest is the request body for POST /api/chat.
type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []datatypes.Message    `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// ollamaChatResponse is the non-streaming response body for POST /api/chat.
type ollamaChatResponse struct {
	Message         datatypes.Message `json:"message"`
	Done            bool              `json:"done"`
	PromptEvalCount int               `json:"prompt_eval_count,omitempty"`
	EvalCount       int               `json:"eval_count,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// buildOptions converts GenerationParams into the Ollama options map,
// filling defaults for unset fields.
func buildOptions(params GenerationParams) map[string]interface{} {
	opts := map[string]interface{}{
		"temperature": defaultTemperature,
		"top_k":       defaultTopK,
		"top_p":       defaultTopP,
		"num_predict": defaultMaxTokens,
	}
	if params.Temperature != nil {
		opts["temperature"] = *params.Temperature
	}
	if params.TopK != nil {
		opts["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		opts["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		opts["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		opts["stop"] = params.Stop
	}
	return opts
}

// Generate produces text from a single prompt.
//
// # Description
//
// Wraps the prompt in a single user message and delegates to Chat.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - prompt: Text prompt to complete.
//   - params: Generation parameters.
//
// # Outputs
//
//   - string: The generated completion.
//   - error: Non-nil on transport or backend failure.
func (c *OllamaClient) Generate(ctx context.Context, prompt string,
	params GenerationParams) (string, error) {
	answer, _, err := c.Chat(ctx, []datatypes.Message{{Role: "user", Content: prompt}}, params)
	return answer, err
}

// Chat conducts a conversation with message history.
//
// # Description
//
// Sends a non-streaming POST /api/chat request and returns the assistant
// message content along with the backend's token counts.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - messages: Conversation history in chronological order.
//   - params: Generation parameters.
//
// # Outputs
//
//   - string: The assistant's reply.
//   - *datatypes.TokenUsage: Prompt and completion token counts from
//     prompt_eval_count / eval_count.
//   - error: Non-nil on transport failure, non-200 status, or backend error.
func (c *OllamaClient) Chat(ctx context.Context, messages []datatypes.Message,
	params GenerationParams) (string, *datatypes.TokenUsage, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.Chat")
	defer span.End()

	body, err := json.Marshal(ollamaChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options:  buildOptions(params),
	})
	if err != nil {
		return "", nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, fmt.Errorf("ollama chat cancelled: %w", ctx.Err())
		}
		return "", nil, fmt.Errorf("ollama chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", nil, fmt.Errorf("ollama chat failed with status %d: %s",
			resp.StatusCode, string(respBody))
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", nil, fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Error != "" {
		return "", nil, fmt.Errorf("ollama chat error: %s", parsed.Error)
	}

	usage := &datatypes.TokenUsage{
		InputTokens:  parsed.PromptEvalCount,
		OutputTokens: parsed.EvalCount,
	}

	return parsed.Message.Content, usage, nil
}

var _ LLMClient = (*OllamaClient)(nil)
