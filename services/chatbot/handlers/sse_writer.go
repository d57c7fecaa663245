// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/pelagicai/pelagic/services/chatbot/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing the streaming chat protocol
// to HTTP responses.
//
// # Description
//
// SSEWriter abstracts frame serialization and writing, enabling testability
// and separation from HTTP response mechanics. Every event is written as a
// single SSE data frame:
//
//	data: {json}
//
// followed by a blank line, and flushed immediately. The JSON payload is a
// datatypes.StreamEvent tagged union.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use: the heartbeat goroutine
// and the generation callback write through the same writer.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders() before the first write.
type SSEWriter interface {
	// WriteEvent serializes one event and writes it as a data frame.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteChunk writes a chunk event carrying an answer text delta.
	WriteChunk(content string) error

	// WriteSources writes a sources event. The carried list replaces any
	// previously received list on the client.
	WriteSources(sources []datatypes.SourceInfo) error

	// WriteDone writes the terminal done event echoing the session id.
	// No event may be written after done.
	WriteDone(sessionID string) error

	// WriteError writes a terminal error event. The detail must already be
	// sanitized; no done event follows an error.
	WriteError(detail string) error

	// WriteKeepAlive sends an SSE comment (": ping") to keep the TCP
	// connection alive through load balancer idle timeouts. Comments are
	// not events and clients ignore them.
	WriteKeepAlive() error
}

// =============================================================================
// Implementation
// =============================================================================

// sseWriter implements SSEWriter over an http.ResponseWriter.
//
// # Fields
//
//   - writer: Underlying http.ResponseWriter.
//   - flusher: http.Flusher for immediate send.
//   - mu: Serializes frames from concurrent writers.
//
// # Limitations
//
//   - Cannot be reused across requests.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter creates an SSEWriter for the given ResponseWriter.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//   - SSEWriter: Ready to write frames.
//   - error: Non-nil if the ResponseWriter does not support flushing.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseWriter{
		writer:  w,
		flusher: flusher,
	}, nil
}

// WriteEvent serializes one event and writes it as a data frame.
func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// WriteChunk writes a chunk event carrying an answer text delta.
func (w *sseWriter) WriteChunk(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.EventTypeChunk,
		Content: content,
	})
}

// WriteSources writes a sources event.
func (w *sseWriter) WriteSources(sources []datatypes.SourceInfo) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.EventTypeSources,
		Sources: sources,
	})
}

// WriteDone writes the terminal done event echoing the session id.
func (w *sseWriter) WriteDone(sessionID string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      datatypes.EventTypeDone,
		SessionID: sessionID,
	})
}

// WriteError writes a terminal error event with a sanitized detail.
func (w *sseWriter) WriteError(detail string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:   datatypes.EventTypeError,
		Detail: detail,
	})
}

// WriteKeepAlive sends an SSE comment line.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// SSE comment format: colon followed by text, then double newline
	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// # Description
//
// Sets the required headers for Server-Sent Events:
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx buffering)
//
// Must be called before writing any response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
