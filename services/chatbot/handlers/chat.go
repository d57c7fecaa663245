// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pelagicai/pelagic/services/chatbot/datatypes"
	"github.com/pelagicai/pelagic/services/chatbot/guardrail"
	"github.com/pelagicai/pelagic/services/chatbot/observability"
	"github.com/pelagicai/pelagic/services/chatbot/session"
	"github.com/pelagicai/pelagic/services/llm"
)

// HandleChat handles POST /api/chat.
//
// # Description
//
// Runs the same pipeline as the streaming endpoint but buffers the whole
// answer and returns it as a single JSON response. Because nothing has
// been sent when the output gate runs, a blocked answer is replaced
// entirely with the fixed notice instead of appended to.
func (h *ChatHandler) HandleChat(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ChatHandler.HandleChat")
	defer span.End()

	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.rejectInvalid(c, observability.EndpointChat, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.rejectInvalid(c, observability.EndpointChat, err)
		return
	}

	sessionID := session.Correlate(req.SessionID)
	start := time.Now()

	query := req.LatestUserMessage()
	if strings.TrimSpace(query) == "" {
		h.respondChat(c, start, datatypes.ChatResponse{
			Content:   emptyQueryMessage,
			Sources:   []datatypes.SourceInfo{},
			SessionID: sessionID,
		})
		return
	}

	if decision := h.gate.Evaluate(ctx, query, guardrail.DirectionInput); !decision.Allowed {
		if h.metrics != nil {
			h.metrics.RecordGuardrailBlock(string(guardrail.DirectionInput))
		}
		h.respondChat(c, start, datatypes.ChatResponse{
			Content:   decision.Message,
			Sources:   []datatypes.SourceInfo{},
			SessionID: sessionID,
		})
		return
	}

	passages := h.gatherContext(ctx, query, observability.EndpointChat)
	assembled := h.assembler.Assemble(req.Messages, passages)

	answer, usage, err := h.llmClient.Chat(ctx, assembled.Messages, llm.GenerationParams{})
	if err != nil {
		slog.Error("generation failed", "session_id", sessionID, "error", err)
		if h.metrics != nil {
			h.metrics.RecordError(observability.EndpointChat, observability.ErrorCodeGeneration)
			h.metrics.RecordRequest(observability.EndpointChat, false)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericGenerationError})
		return
	}

	response := datatypes.ChatResponse{
		Content:   answer,
		Sources:   assembled.Sources(),
		SessionID: sessionID,
		Usage:     usage,
	}

	if decision := h.gate.Evaluate(ctx, answer, guardrail.DirectionOutput); !decision.Allowed {
		if h.metrics != nil {
			h.metrics.RecordGuardrailBlock(string(guardrail.DirectionOutput))
		}
		// Nothing is on the wire yet, so the whole answer is withheld.
		response.Content = decision.Message
		response.Sources = []datatypes.SourceInfo{}
	}

	h.respondChat(c, start, response)
}

// respondChat writes a successful buffered response and records metrics.
func (h *ChatHandler) respondChat(c *gin.Context, start time.Time,
	response datatypes.ChatResponse) {

	if h.metrics != nil {
		h.metrics.RecordRequest(observability.EndpointChat, true)
		h.metrics.RecordStreamDuration(
			observability.EndpointChat, time.Since(start).Seconds(), true)
	}
	c.JSON(http.StatusOK, response)
}
