// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides the HTTP handlers for the chat service.
//
// # Description
//
// Implements the streaming endpoint (POST /api/chat/stream), its buffered
// counterpart (POST /api/chat), and the health probe. Both chat endpoints
// run the same pipeline: validate, correlate the session, gate the input,
// retrieve context, assemble the prompt, generate, gate the output, and
// attribute sources. The streaming endpoint additionally manages SSE frame
// writing, keepalives, and mid-stream failure semantics.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/pelagicai/pelagic/services/chatbot/datatypes"
	"github.com/pelagicai/pelagic/services/chatbot/guardrail"
	"github.com/pelagicai/pelagic/services/chatbot/observability"
	"github.com/pelagicai/pelagic/services/chatbot/prompt"
	"github.com/pelagicai/pelagic/services/chatbot/retrieval"
	"github.com/pelagicai/pelagic/services/chatbot/session"
	"github.com/pelagicai/pelagic/services/llm"
)

var tracer = otel.Tracer("github.com/pelagicai/pelagic/services/chatbot/handlers")

// emptyQueryMessage is returned when the request carries no non-empty
// user message.
const emptyQueryMessage = "Please provide a question."

// genericGenerationError is the only generation failure detail clients see.
// Backend error text (hostnames, model names, status codes) stays in logs.
const genericGenerationError = "An error occurred while generating the response. Please try again."

// defaultHeartbeatInterval paces SSE keepalive comments. Well under common
// load balancer idle timeouts (60s).
const defaultHeartbeatInterval = 15 * time.Second

// =============================================================================
// Handler
// =============================================================================

// ChatHandler serves the chat endpoints.
//
// # Thread Safety
//
// Safe for concurrent requests; all fields are read-only after construction.
type ChatHandler struct {
	llmClient         llm.LLMClient
	retriever         retrieval.Retriever
	gate              *guardrail.Gate
	assembler         *prompt.Assembler
	metrics           *observability.StreamingMetrics
	searchLimit       int
	searchThreshold   float64
	heartbeatInterval time.Duration
}

// ChatHandlerConfig carries the tunable knobs for a ChatHandler. Zero
// values select defaults.
type ChatHandlerConfig struct {
	// SearchLimit caps retrieved passages per query.
	SearchLimit int

	// SearchThreshold is the minimum similarity score for a passage.
	SearchThreshold float64

	// PromptBudgetChars bounds the assembled prompt size.
	PromptBudgetChars int

	// HeartbeatInterval paces SSE keepalive comments.
	HeartbeatInterval time.Duration
}

// NewChatHandler creates a ChatHandler.
//
// # Inputs
//
//   - llmClient: Generation backend. Must not be nil.
//   - retriever: Context retriever. Must not be nil.
//   - gate: Input/output guardrail. Must not be nil.
//   - metrics: Streaming metrics; nil disables metric recording.
//   - cfg: Tunables; zero values select defaults.
//
// # Outputs
//
//   - *ChatHandler: Ready to register routes against.
//
// Panics if a required dependency is nil. Dependency wiring is a startup
// concern, not a request-time condition.
func NewChatHandler(llmClient llm.LLMClient, retriever retrieval.Retriever,
	gate *guardrail.Gate, metrics *observability.StreamingMetrics,
	cfg ChatHandlerConfig) *ChatHandler {

	if llmClient == nil {
		panic("NewChatHandler: llmClient is required")
	}
	if retriever == nil {
		panic("NewChatHandler: retriever is required")
	}
	if gate == nil {
		panic("NewChatHandler: gate is required")
	}

	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = retrieval.DefaultLimit
	}
	if cfg.SearchThreshold <= 0 {
		cfg.SearchThreshold = retrieval.DefaultThreshold
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}

	return &ChatHandler{
		llmClient:         llmClient,
		retriever:         retriever,
		gate:              gate,
		assembler:         prompt.NewAssembler(cfg.PromptBudgetChars),
		metrics:           metrics,
		searchLimit:       cfg.SearchLimit,
		searchThreshold:   cfg.SearchThreshold,
		heartbeatInterval: cfg.HeartbeatInterval,
	}
}

// =============================================================================
// Streaming Endpoint
// =============================================================================

// HandleChatStream handles POST /api/chat/stream.
//
// # Description
//
// Streams the answer as SSE data frames. Validation failures are rejected
// with 400 before any SSE bytes are written; once streaming starts the
// response status is committed and failures surface as in-band error
// events. Event order on success: zero or more chunk events, one sources
// event, one done event. A generation failure mid-stream ends with an error
// event and no done event.
func (h *ChatHandler) HandleChatStream(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ChatHandler.HandleChatStream")
	defer span.End()

	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.rejectInvalid(c, observability.EndpointStream, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.rejectInvalid(c, observability.EndpointStream, err)
		return
	}

	sessionID := session.Correlate(req.SessionID)
	start := time.Now()

	if h.metrics != nil {
		h.metrics.StreamStarted(observability.EndpointStream)
		defer h.metrics.StreamEnded(observability.EndpointStream)
	}

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		slog.Error("response writer does not support streaming", "error", err)
		if h.metrics != nil {
			h.metrics.RecordError(observability.EndpointStream, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	query := req.LatestUserMessage()
	if strings.TrimSpace(query) == "" {
		h.finishStream(writer, sessionID, emptyQueryMessage, start, 0)
		return
	}

	// Input gate runs before any retrieval or generation work. A block is a
	// successful exchange from the protocol's point of view.
	if decision := h.gate.Evaluate(ctx, query, guardrail.DirectionInput); !decision.Allowed {
		if h.metrics != nil {
			h.metrics.RecordGuardrailBlock(string(guardrail.DirectionInput))
		}
		h.finishStream(writer, sessionID, decision.Message, start, 0)
		return
	}

	// The heartbeat goroutine shares the ResponseWriter with this handler,
	// so the handler must not return until the goroutine has exited.
	heartbeatDone := make(chan struct{})
	heartbeatStopped := make(chan struct{})
	go func() {
		defer close(heartbeatStopped)
		h.runHeartbeat(writer, heartbeatDone)
	}()
	defer func() {
		close(heartbeatDone)
		<-heartbeatStopped
	}()

	passages := h.gatherContext(ctx, query, observability.EndpointStream)
	assembled := h.assembler.Assemble(req.Messages, passages)

	var answer strings.Builder
	tokenCount := 0
	firstToken := time.Time{}

	streamErr := h.llmClient.ChatStream(ctx, assembled.Messages, llm.GenerationParams{},
		func(event llm.StreamEvent) error {
			// Stop pulling from the backend as soon as the client is gone.
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if event.Type != llm.StreamEventToken {
				return nil
			}

			if firstToken.IsZero() {
				firstToken = time.Now()
				if h.metrics != nil {
					h.metrics.RecordTimeToFirstToken(
						observability.EndpointStream, firstToken.Sub(start).Seconds())
				}
			}

			answer.WriteString(event.Content)
			tokenCount++
			return writer.WriteChunk(event.Content)
		})

	if streamErr != nil {
		if ctx.Err() != nil {
			// Client went away. Write nothing further.
			slog.Info("client disconnected mid-stream",
				"session_id", sessionID,
				"tokens_sent", tokenCount)
			if h.metrics != nil {
				h.metrics.RecordClientDisconnect(observability.EndpointStream)
				h.metrics.RecordRequest(observability.EndpointStream, false)
			}
			return
		}

		slog.Error("generation failed mid-stream",
			"session_id", sessionID,
			"tokens_sent", tokenCount,
			"error", streamErr)
		if h.metrics != nil {
			h.metrics.RecordError(observability.EndpointStream, observability.ErrorCodeGeneration)
			h.metrics.RecordRequest(observability.EndpointStream, false)
			h.metrics.RecordStreamDuration(
				observability.EndpointStream, time.Since(start).Seconds(), false)
		}
		if err := writer.WriteError(genericGenerationError); err != nil {
			slog.Warn("failed to write error event", "error", err)
		}
		return
	}

	// Output gate runs over the fully assembled answer. Chunks are already
	// on the wire, so a block appends the fixed notice and suppresses
	// attribution rather than retracting text.
	if decision := h.gate.Evaluate(ctx, answer.String(), guardrail.DirectionOutput); !decision.Allowed {
		if h.metrics != nil {
			h.metrics.RecordGuardrailBlock(string(guardrail.DirectionOutput))
		}
		if err := writer.WriteChunk(decision.Message); err != nil {
			slog.Warn("failed to write output block notice", "error", err)
			return
		}
	} else {
		if err := writer.WriteSources(assembled.Sources()); err != nil {
			slog.Warn("failed to write sources event", "error", err)
			return
		}
	}

	if err := writer.WriteDone(sessionID); err != nil {
		slog.Warn("failed to write done event", "error", err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordTokens(observability.EndpointStream, tokenCount)
		h.metrics.RecordRequest(observability.EndpointStream, true)
		h.metrics.RecordStreamDuration(
			observability.EndpointStream, time.Since(start).Seconds(), true)
	}
}

// finishStream writes a fixed single-chunk answer followed by done. Used
// for empty queries and input guardrail blocks, which terminate the
// exchange without retrieval or generation.
func (h *ChatHandler) finishStream(writer SSEWriter, sessionID, message string,
	start time.Time, tokens int) {

	if err := writer.WriteChunk(message); err != nil {
		slog.Warn("failed to write chunk event", "error", err)
		return
	}
	if err := writer.WriteDone(sessionID); err != nil {
		slog.Warn("failed to write done event", "error", err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordTokens(observability.EndpointStream, tokens)
		h.metrics.RecordRequest(observability.EndpointStream, true)
		h.metrics.RecordStreamDuration(
			observability.EndpointStream, time.Since(start).Seconds(), true)
	}
}

// runHeartbeat sends keepalive comments until done closes or a write fails.
// A failed keepalive means the connection is gone; the generation loop
// notices through the request context.
func (h *ChatHandler) runHeartbeat(writer SSEWriter, done <-chan struct{}) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				return
			}
			if h.metrics != nil {
				h.metrics.RecordKeepAlive(observability.EndpointStream)
			}
		case <-done:
			return
		}
	}
}

// =============================================================================
// Shared Pipeline Helpers
// =============================================================================

// gatherContext retrieves passages for the query. Retrieval failures
// degrade to an empty context so the exchange can still complete; the
// failure is logged and counted but never surfaced to the client.
func (h *ChatHandler) gatherContext(ctx context.Context, query string,
	endpoint observability.Endpoint) []retrieval.Result {

	passages, err := h.retriever.Search(ctx, query, h.searchLimit, h.searchThreshold)
	if err != nil {
		slog.Warn("retrieval unavailable, answering without context", "error", err)
		if h.metrics != nil {
			h.metrics.RecordError(endpoint, observability.ErrorCodeRetrieval)
		}
		return nil
	}
	return passages
}

// rejectInvalid rejects a malformed request with 400 before any SSE bytes
// are written.
func (h *ChatHandler) rejectInvalid(c *gin.Context, endpoint observability.Endpoint, err error) {
	slog.Warn("invalid chat request", "error", err)
	if h.metrics != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
