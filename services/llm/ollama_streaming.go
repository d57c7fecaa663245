// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/pelagicai/pelagic/services/chatbot/datatypes"
)

// =============================================================================
// Stream Event Types
// =============================================================================

// StreamEventType discriminates events delivered to a StreamCallback.
type StreamEventType string

const (
	// StreamEventToken carries a slice of answer text.
	StreamEventToken StreamEventType = "token"

	// StreamEventThinking carries model reasoning text (when exposed by the
	// backend and not redacted by StreamConfig).
	StreamEventThinking StreamEventType = "thinking"

	// StreamEventError carries a backend-reported stream failure. The stream
	// terminates after this event.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is a single event delivered during streaming generation.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   string
}

// StreamCallback receives stream events in arrival order. Returning a
// non-nil error aborts the stream; the abort is propagated to the caller
// wrapped as a callback error. Callbacks should check their own context
// so that client disconnects stop upstream consumption promptly.
type StreamCallback func(event StreamEvent) error

// =============================================================================
// Stream Configuration
// =============================================================================

// StreamConfig bounds resource usage during streaming generation.
//
// # Fields
//
//   - RedactThinking: Suppress thinking events entirely.
//   - MaxThinkingLength: Cumulative thinking character budget; 0 = unlimited.
//   - RateLimitPerSecond: Token events per second; 0 = unlimited.
//   - MaxResponseLength: Cumulative response character budget; 0 = unlimited.
type StreamConfig struct {
	RedactThinking     bool
	MaxThinkingLength  int
	RateLimitPerSecond int
	MaxResponseLength  int
}

// DefaultStreamConfig returns the stream configuration used when callers
// do not supply one: thinking passed through untruncated, no rate limit,
// responses capped at 100KiB.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		RedactThinking:     false,
		MaxThinkingLength:  0,
		RateLimitPerSecond: 0,
		MaxResponseLength:  100 * 1024,
	}
}

// =============================================================================
// Stream Processor
// =============================================================================

// DefaultStreamProcessor applies StreamConfig policy to a sequence of
// upstream chunks: truncation budgets, thinking redaction, optional rate
// limiting, and token/length accounting.
//
// # Thread Safety
//
// Not safe for concurrent use. One processor per stream.
type DefaultStreamProcessor struct {
	cfg            StreamConfig
	logger         *slog.Logger
	limiter        *rate.Limiter
	tokenCount     int
	responseLength int
	thinkingLength int
}

// NewDefaultStreamProcessor creates a processor for one stream. A nil
// logger falls back to slog.Default().
func NewDefaultStreamProcessor(cfg StreamConfig, logger *slog.Logger) *DefaultStreamProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.RateLimitPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitPerSecond)
	}
	return &DefaultStreamProcessor{
		cfg:     cfg,
		logger:  logger,
		limiter: limiter,
	}
}

// GetTokenCount returns the number of token events emitted so far.
func (p *DefaultStreamProcessor) GetTokenCount() int {
	return p.tokenCount
}

// GetResponseLength returns the cumulative emitted response length in bytes.
func (p *DefaultStreamProcessor) GetResponseLength() int {
	return p.responseLength
}

// ProcessChunk applies policy to one upstream chunk and dispatches the
// resulting events to the callback.
//
// # Description
//
// Handles, in order: backend-reported errors (emit StreamEventError, then
// fail), thinking content (redaction and thinking budget), and answer
// content (response budget, rate limit, token accounting).
//
// # Inputs
//
//   - ctx: Context for cancellation; consulted by the rate limiter.
//   - chunk: Parsed upstream chunk.
//   - callback: Event receiver.
//
// # Outputs
//
//   - bool: true when the stream is complete (final chunk or fatal error).
//   - error: Non-nil on backend error or callback abort.
func (p *DefaultStreamProcessor) ProcessChunk(ctx context.Context,
	chunk *ollamaStreamChunk, callback StreamCallback) (bool, error) {

	if chunk.Error != "" {
		// Deliver the error to the client before failing so the consumer
		// sees what the backend reported.
		if cbErr := callback(StreamEvent{
			Type:  StreamEventError,
			Error: chunk.Error,
		}); cbErr != nil {
			p.logger.Warn("stream callback failed on error event", "error", cbErr)
		}
		return true, fmt.Errorf("ollama stream error: %s", chunk.Error)
	}

	if chunk.Thinking != "" && !p.cfg.RedactThinking {
		content := chunk.Thinking
		if p.cfg.MaxThinkingLength > 0 {
			remaining := p.cfg.MaxThinkingLength - p.thinkingLength
			if remaining <= 0 {
				content = ""
			} else {
				content = truncateOnRuneBoundary(content, remaining)
			}
		}
		if content != "" {
			p.thinkingLength += len(content)
			if err := callback(StreamEvent{
				Type:    StreamEventThinking,
				Content: content,
			}); err != nil {
				return false, fmt.Errorf("stream callback error: %w", err)
			}
		}
	}

	if chunk.Message.Content != "" {
		content := chunk.Message.Content
		if p.cfg.MaxResponseLength > 0 {
			remaining := p.cfg.MaxResponseLength - p.responseLength
			if remaining <= 0 {
				content = ""
			} else {
				content = truncateOnRuneBoundary(content, remaining)
			}
		}
		if content != "" {
			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					return false, fmt.Errorf("stream rate limit wait: %w", err)
				}
			}
			p.responseLength += len(content)
			p.tokenCount++
			if err := callback(StreamEvent{
				Type:    StreamEventToken,
				Content: content,
			}); err != nil {
				return false, fmt.Errorf("stream callback error: %w", err)
			}
		}
	}

	return chunk.Done, nil
}

// truncateOnRuneBoundary returns the longest prefix of s that fits in max
// bytes without splitting a multi-byte rune. Cutting mid-rune would make the
// emitted text invalid UTF-8 and diverge from the accumulated answer.
func truncateOnRuneBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// =============================================================================
// Wire Format
// =============================================================================

// ollamaStreamChunk is one NDJSON line of the Ollama /api/chat stream.
type ollamaStreamChunk struct {
	Message       datatypes.Message `json:"message"`
	Thinking      string            `json:"thinking,omitempty"`
	Done          bool              `json:"done"`
	DoneReason    string            `json:"done_reason,omitempty"`
	TotalDuration int64             `json:"total_duration,omitempty"`
	EvalCount     int               `json:"eval_count,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// parseStreamChunk parses one NDJSON line into an ollamaStreamChunk.
// Lines that are not JSON objects are rejected.
func (c *OllamaClient) parseStreamChunk(line []byte) (*ollamaStreamChunk, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("not a JSON object: %q", string(line))
	}
	var chunk ollamaStreamChunk
	if err := json.Unmarshal(trimmed, &chunk); err != nil {
		return nil, fmt.Errorf("parse stream chunk: %w", err)
	}
	return &chunk, nil
}

// =============================================================================
// Streaming Chat
// =============================================================================

// ChatStream streams a conversation response token-by-token using the
// default stream configuration.
//
// # Inputs
//
//   - ctx: Context for cancellation. Cancellation aborts the stream and is
//     surfaced so errors.Is(err, ctx.Err()) holds.
//   - messages: Conversation history.
//   - params: Generation parameters.
//   - callback: Receiver for token/thinking/error events.
//
// # Outputs
//
//   - error: Non-nil on transport failure, backend error, callback abort,
//     or cancellation.
func (c *OllamaClient) ChatStream(ctx context.Context, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback) error {
	return c.ChatStreamWithConfig(ctx, messages, params, callback, DefaultStreamConfig())
}

// ChatStreamWithConfig streams a conversation response with explicit
// stream configuration.
//
// # Description
//
// Sends POST /api/chat with stream enabled and consumes the NDJSON
// response line by line. Empty lines are skipped; malformed lines are
// logged and skipped without aborting the stream. A chunk carrying an
// error field terminates the stream with an error after the error event
// has been delivered to the callback.
//
// # Limitations
//
//   - Lines longer than 1MiB abort the stream (scanner buffer bound).
func (c *OllamaClient) ChatStreamWithConfig(ctx context.Context,
	messages []datatypes.Message, params GenerationParams,
	callback StreamCallback, cfg StreamConfig) error {

	ctx, span := tracer.Start(ctx, "OllamaClient.ChatStream")
	defer span.End()

	body, err := json.Marshal(ollamaChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
		Options:  buildOptions(params),
	})
	if err != nil {
		return fmt.Errorf("marshal stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ollama stream cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("ollama stream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ollama stream failed with status %d: %s",
			resp.StatusCode, string(respBody))
	}

	processor := NewDefaultStreamProcessor(cfg, nil)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("ollama stream cancelled: %w", ctx.Err())
		default:
		}

		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		chunk, parseErr := c.parseStreamChunk(line)
		if parseErr != nil {
			slog.Warn("skipping malformed stream line", "error", parseErr)
			continue
		}

		done, procErr := processor.ProcessChunk(ctx, chunk, callback)
		if procErr != nil {
			return procErr
		}
		if done {
			return nil
		}
	}

	// Distinguish cancellation from transport errors: a cancelled body read
	// surfaces through scanner.Err(), but the context error is authoritative.
	if ctx.Err() != nil {
		return fmt.Errorf("ollama stream cancelled: %w", ctx.Err())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read ollama stream: %w", err)
	}

	return nil
}
