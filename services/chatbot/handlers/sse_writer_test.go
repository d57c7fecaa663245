// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelagicai/pelagic/services/chatbot/datatypes"
)

// noFlushWriter wraps a ResponseWriter to hide its Flusher implementation.
type noFlushWriter struct {
	http.ResponseWriter
}

func newNoFlushWriter() http.ResponseWriter {
	return &noFlushWriter{ResponseWriter: httptest.NewRecorder()}
}

func TestNewSSEWriter_RequiresFlusher(t *testing.T) {
	t.Parallel()

	_, err := NewSSEWriter(newNoFlushWriter())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Flusher")
}

func TestSSEWriter_ChunkFrameFormat(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteChunk("The video explains"))

	// One data line, JSON payload, blank line terminator. No event: prefix.
	assert.Equal(t,
		"data: {\"type\":\"chunk\",\"content\":\"The video explains\"}\n\n",
		rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestSSEWriter_SourcesFrameFormat(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteSources([]datatypes.SourceInfo{
		{SourceURI: "s3://notes/go-talk.md", Score: 0.91},
	}))

	assert.Equal(t,
		"data: {\"type\":\"sources\",\"sources\":[{\"source_uri\":\"s3://notes/go-talk.md\",\"score\":0.91}]}\n\n",
		rec.Body.String())
}

func TestSSEWriter_SourcesFrameEmptyListExplicit(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteSources(nil))

	// The sources key is always present, an empty list included.
	assert.Equal(t,
		"data: {\"type\":\"sources\",\"sources\":[]}\n\n",
		rec.Body.String())
}

func TestSSEWriter_DoneFrameFormat(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteDone("sess-42"))

	assert.Equal(t,
		"data: {\"type\":\"done\",\"session_id\":\"sess-42\"}\n\n",
		rec.Body.String())
}

func TestSSEWriter_ErrorFrameFormat(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteError("something went wrong"))

	assert.Equal(t,
		"data: {\"type\":\"error\",\"detail\":\"something went wrong\"}\n\n",
		rec.Body.String())
}

func TestSSEWriter_KeepAliveIsComment(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteKeepAlive())

	assert.Equal(t, ": ping\n\n", rec.Body.String())
}

func TestSetSSEHeaders(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	SetSSEHeaders(rec)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}
