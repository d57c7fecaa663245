// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package streamclient decodes the chat service's SSE stream.
//
// # Description
//
// The service streams answers as SSE data frames, one JSON event per frame
// (see the datatypes package for the event union). This package provides
// the client half of that protocol: an incremental Decoder that is
// independent of network read boundaries, and an Exchange accumulator that
// folds events into the final answer, attribution, and session id.
//
// # Examples
//
//	dec := streamclient.NewDecoder(nil)
//	var exchange streamclient.Exchange
//	buf := make([]byte, 4096)
//	for {
//	    n, err := body.Read(buf)
//	    for _, event := range dec.Feed(buf[:n]) {
//	        exchange.Apply(event)
//	    }
//	    if err != nil {
//	        break
//	    }
//	}
//	answer := exchange.Answer()
package streamclient

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/pelagicai/pelagic/services/chatbot/datatypes"
)

// dataPrefix marks an SSE data line.
const dataPrefix = "data:"

// =============================================================================
// Decoder
// =============================================================================

// Decoder incrementally decodes SSE frames into stream events.
//
// # Description
//
// Feed accepts raw bytes exactly as they arrive from the transport. The
// decoder splits on newlines and retains any incomplete trailing line, so
// an event split across two reads decodes identically to one delivered
// whole. Multi-byte UTF-8 sequences split across reads are handled the
// same way: bytes are buffered, never interpreted until a full line exists.
//
// Malformed JSON payloads are logged and skipped; the stream continues.
// SSE comments (lines starting with ':'), blank lines, and non-data fields
// such as "event:" or "id:" are ignored.
//
// # Thread Safety
//
// Not safe for concurrent use. One decoder per response body.
type Decoder struct {
	buf    bytes.Buffer
	logger *slog.Logger
}

// NewDecoder creates a Decoder. A nil logger falls back to slog.Default().
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger}
}

// Feed consumes the next slice of transport bytes and returns the events
// completed by it, in wire order. The returned slice is nil when no full
// event was completed.
func (d *Decoder) Feed(p []byte) []datatypes.StreamEvent {
	d.buf.Write(p)

	var events []datatypes.StreamEvent
	for {
		raw := d.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			break
		}
		line := string(raw[:idx])
		d.buf.Next(idx + 1)

		if event, ok := d.decodeLine(line); ok {
			events = append(events, event)
		}
	}
	return events
}

// decodeLine decodes one complete line. The second return is false for
// lines that carry no event.
func (d *Decoder) decodeLine(line string) (datatypes.StreamEvent, bool) {
	line = strings.TrimSuffix(line, "\r")

	if line == "" || strings.HasPrefix(line, ":") {
		return datatypes.StreamEvent{}, false
	}
	if !strings.HasPrefix(line, dataPrefix) {
		// Other SSE fields (event:, id:, retry:) are not part of this
		// protocol and are ignored.
		return datatypes.StreamEvent{}, false
	}

	payload := strings.TrimPrefix(strings.TrimPrefix(line, dataPrefix), " ")

	var event datatypes.StreamEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		d.logger.Warn("skipping malformed stream frame", "error", err)
		return datatypes.StreamEvent{}, false
	}
	return event, true
}

// =============================================================================
// Exchange Accumulator
// =============================================================================

// Exchange folds stream events into the final state of one chat exchange.
//
// The zero value is ready to use. Apply events in wire order: chunk
// content appends, a sources event replaces the previous list, done
// captures the session id and marks completion, error captures the detail.
type Exchange struct {
	answer    strings.Builder
	sources   []datatypes.SourceInfo
	sessionID string
	done      bool
	errDetail string
}

// Apply folds one event into the exchange. Events with an unknown type are
// ignored so that protocol additions do not break older clients.
func (e *Exchange) Apply(event datatypes.StreamEvent) {
	switch event.Type {
	case datatypes.EventTypeChunk:
		e.answer.WriteString(event.Content)
	case datatypes.EventTypeSources:
		e.sources = event.Sources
	case datatypes.EventTypeDone:
		e.sessionID = event.SessionID
		e.done = true
	case datatypes.EventTypeError:
		e.errDetail = event.Detail
	}
}

// Answer returns the answer text accumulated so far.
func (e *Exchange) Answer() string {
	return e.answer.String()
}

// Sources returns the most recently received attribution list.
func (e *Exchange) Sources() []datatypes.SourceInfo {
	return e.sources
}

// SessionID returns the session id from the done event, or "" before done.
func (e *Exchange) SessionID() string {
	return e.sessionID
}

// Done reports whether the stream terminated successfully.
func (e *Exchange) Done() bool {
	return e.done
}

// ErrDetail returns the sanitized detail from an error event, or "".
func (e *Exchange) ErrDetail() string {
	return e.errDetail
}
