// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the chatbot service.
//
// This file contains request and response types for the chat endpoints.
// For the streaming wire protocol types, see events.go.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Request Limits
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	// Checked as byte length, not rune count, to bound memory per request.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxMessagesPerRequest is the maximum number of messages in a request.
	MaxMessagesPerRequest = 100
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	// Register custom validator for message content size
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a string field does not exceed
// MaxMessageContentBytes. Byte length is used instead of rune count to
// prevent memory exhaustion with large multi-byte payloads.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// =============================================================================
// Message Types
// =============================================================================

// Message represents a single turn in a conversation.
//
// # Fields
//
//   - Role: One of "user", "assistant", "system".
//   - Content: The message text, limited to 32KB.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required,maxbytes"`
}

// =============================================================================
// Chat Request Types
// =============================================================================

// ChatRequest represents a chat request body for both the streaming and
// non-streaming chat endpoints.
//
// # Description
//
// ChatRequest carries the caller-supplied conversation history and an
// optional session identifier. The server does not persist conversation
// state; the client re-sends the full history on every turn.
//
// # Fields
//
//   - Messages: Required. Conversation history with 1-100 messages in
//     chronological order. Each content is limited to 32KB.
//   - SessionID: Optional. Opaque correlation id. If empty, the server
//     generates a UUID v4 and echoes it in the done event / response body.
//
// # Validation
//
// Uses go-playground/validator:
//   - Messages: required, 1-100 elements, each element validated
//   - Messages[].Role: required, oneof user/assistant/system
//   - Messages[].Content: required, max 32768 bytes
//
// # Examples
//
//	req := ChatRequest{
//	    Messages: []Message{{Role: "user", Content: "What did the video say about Go?"}},
//	}
type ChatRequest struct {
	Messages  []Message `json:"messages" validate:"required,min=1,max=100,dive"`
	SessionID string    `json:"session_id"`
}

// Validate validates the ChatRequest fields.
//
// # Description
//
// Performs validation using go-playground/validator tags and custom
// validators. Call after binding the JSON request body.
//
// # Outputs
//
//   - error: Non-nil if validation failed, with details about which field.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// LatestUserMessage returns the content of the most recent user-role
// message, or the empty string if the history contains none. The retrieval
// query and the input guardrail both operate on this text.
func (r *ChatRequest) LatestUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// =============================================================================
// Chat Response Types
// =============================================================================

// SourceInfo identifies a retrieved passage's origin and relevance.
//
// # Fields
//
//   - SourceURI: Stable identifier of the source document.
//   - Score: Similarity score in [0, 1]; higher is more relevant.
type SourceInfo struct {
	SourceURI string  `json:"source_uri"`
	Score     float64 `json:"score"`
}

// ChatResponse represents the non-streaming chat response body.
//
// # Fields
//
//   - Content: The complete generated answer (or fixed policy text).
//   - Sources: Attribution for the passages backing the answer, deduplicated
//     by URI and sorted by descending score. Empty when nothing was retrieved
//     or the output was blocked.
//   - SessionID: Echoed or generated session identifier.
//   - Usage: Optional token usage statistics.
type ChatResponse struct {
	Content   string       `json:"content"`
	Sources   []SourceInfo `json:"sources"`
	SessionID string       `json:"session_id"`
	Usage     *TokenUsage  `json:"usage,omitempty"`
}

// TokenUsage contains token consumption statistics.
//
// # Fields
//
//   - InputTokens: Number of tokens in the prompt/messages.
//   - OutputTokens: Number of tokens in the response.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
