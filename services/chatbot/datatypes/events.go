// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "encoding/json"

// =============================================================================
// Streaming Wire Protocol
// =============================================================================

// Event type discriminators for the SSE wire protocol. Each SSE frame is a
// single line "data: <json>" followed by a blank line, and the JSON payload
// is a tagged union on the "type" field.
const (
	// EventTypeChunk carries an incremental slice of answer text.
	EventTypeChunk = "chunk"

	// EventTypeSources carries the source attribution list. A sources event
	// replaces any previously received list.
	EventTypeSources = "sources"

	// EventTypeDone terminates a successful stream and echoes the session id.
	EventTypeDone = "done"

	// EventTypeError terminates a failed stream with a sanitized detail
	// message. No done event follows an error event.
	EventTypeError = "error"
)

// StreamEvent is one frame of the streaming chat protocol.
//
// # Description
//
// StreamEvent is the tagged union serialized into SSE data frames. Only the
// fields relevant to the Type are populated; the rest are omitted from the
// JSON encoding.
//
// # Fields
//
//   - Type: One of chunk, sources, done, error.
//   - Content: Answer text delta (chunk only).
//   - Sources: Retrieved source attributions (sources only).
//   - SessionID: Correlation id (done only).
//   - Detail: Sanitized error description (error only).
//
// # Examples
//
//	data: {"type":"chunk","content":"The video explains"}
//
//	data: {"type":"sources","sources":[{"source_uri":"s3://notes/go-talk.md","score":0.91}]}
//
//	data: {"type":"done","session_id":"1b4e28ba-2fa1-11d2-883f-0016d3cca427"}
type StreamEvent struct {
	Type      string       `json:"type"`
	Content   string       `json:"content,omitempty"`
	Sources   []SourceInfo `json:"sources,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Detail    string       `json:"detail,omitempty"`
}

// MarshalJSON encodes the tagged union. A sources frame always carries the
// "sources" key, an empty list included, so consumers can distinguish "no
// sources for this answer" from a frame that merely omitted the field.
// Other frame types never carry the key.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	if e.Type == EventTypeSources {
		sources := e.Sources
		if sources == nil {
			sources = []SourceInfo{}
		}
		return json.Marshal(struct {
			Type    string       `json:"type"`
			Sources []SourceInfo `json:"sources"`
		}{e.Type, sources})
	}

	type plain StreamEvent
	return json.Marshal(plain(e))
}
