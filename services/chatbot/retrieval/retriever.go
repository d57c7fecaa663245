// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval provides semantic passage lookup against the vector store.
//
// The Retriever turns a free-text query into ranked knowledge base passages.
// Failures of the store or the embedding backend are wrapped in
// ErrRetrievalUnavailable so callers can degrade to an empty context instead
// of failing the request.
package retrieval

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/pelagicai/pelagic/services/chatbot/retrieval")

// ErrRetrievalUnavailable wraps any retrieval infrastructure failure
// (vector store unreachable, embedding backend down). Callers check it
// with errors.Is and proceed with zero passages.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// Default search parameters, applied when the caller passes zero values.
const (
	// DefaultLimit is the maximum number of passages returned per query.
	DefaultLimit = 5

	// DefaultThreshold is the minimum similarity score a passage must reach
	// to be retained.
	DefaultThreshold = 0.5
)

// Result is one retrieved passage.
//
// # Fields
//
//   - Text: The passage content, used verbatim in the prompt context block.
//   - SourceURI: Stable identifier of the originating document.
//   - Score: Similarity in [0, 1]; higher is more relevant.
type Result struct {
	Text      string
	SourceURI string
	Score     float64
}

// Retriever performs semantic passage lookup.
//
// # Description
//
// Search returns at most limit passages with Score >= threshold, sorted by
// descending Score (ties keep upstream order). An empty or whitespace query
// returns no results and no error without touching the store.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Retriever interface {
	Search(ctx context.Context, query string, limit int, threshold float64) ([]Result, error)
}
