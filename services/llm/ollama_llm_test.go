package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pelagicai/pelagic/services/chatbot/datatypes"
)

func newChatTestClient(baseURL string) *OllamaClient {
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		model:      "test-model",
	}
}

func TestChat_ReturnsAnswerAndTokenUsage(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("expected path /api/chat, got %s", r.URL.Path)
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Goroutines are cheap."},`+
			`"done":true,"prompt_eval_count":42,"eval_count":17}`)
	}))
	defer server.Close()

	client := newChatTestClient(server.URL)

	answer, usage, err := client.Chat(context.Background(), []datatypes.Message{
		{Role: "user", Content: "What about goroutines?"},
	}, GenerationParams{})

	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if answer != "Goroutines are cheap." {
		t.Errorf("unexpected answer: %q", answer)
	}
	if usage == nil {
		t.Fatal("Chat should report token usage")
	}
	if usage.InputTokens != 42 {
		t.Errorf("expected 42 input tokens, got %d", usage.InputTokens)
	}
	if usage.OutputTokens != 17 {
		t.Errorf("expected 17 output tokens, got %d", usage.OutputTokens)
	}
}

func TestChat_BackendError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"model not found","done":true}`)
	}))
	defer server.Close()

	client := newChatTestClient(server.URL)

	_, usage, err := client.Chat(context.Background(), []datatypes.Message{
		{Role: "user", Content: "Hi"},
	}, GenerationParams{})

	if err == nil {
		t.Fatal("Chat should fail when the backend reports an error")
	}
	if !strings.Contains(err.Error(), "model not found") {
		t.Errorf("error should carry the backend message, got: %v", err)
	}
	if usage != nil {
		t.Errorf("failed chats must not report usage, got %+v", usage)
	}
}

func TestGenerate_DelegatesToChat(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"done"},"done":true}`)
	}))
	defer server.Close()

	client := newChatTestClient(server.URL)

	answer, err := client.Generate(context.Background(), "prompt", GenerationParams{})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if answer != "done" {
		t.Errorf("unexpected answer: %q", answer)
	}
}
