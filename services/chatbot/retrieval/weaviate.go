// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/pelagicai/pelagic/services/chatbot/datatypes"
)

// DefaultClassName is the Weaviate class holding video summary passages.
const DefaultClassName = "VideoSummary"

// WeaviateRetriever implements Retriever against a Weaviate instance using
// nearVector search with certainty scores.
//
// # Description
//
// The query text is embedded once per search, then matched against the
// configured class. Certainty is Weaviate's [0, 1] normalized similarity,
// used directly as the Result score.
//
// # Thread Safety
//
// Safe for concurrent use; all fields are read-only after construction.
type WeaviateRetriever struct {
	client    *weaviate.Client
	embedder  Embedder
	className string
}

// NewWeaviateRetriever creates a retriever over the given client and
// embedder. An empty className defaults to DefaultClassName. Panics if
// client or embedder is nil; both are hard dependencies.
func NewWeaviateRetriever(client *weaviate.Client, embedder Embedder,
	className string) *WeaviateRetriever {
	if client == nil {
		panic("retrieval: nil weaviate client")
	}
	if embedder == nil {
		panic("retrieval: nil embedder")
	}
	if className == "" {
		className = DefaultClassName
	}
	return &WeaviateRetriever{
		client:    client,
		embedder:  embedder,
		className: className,
	}
}

// searchHit is the GraphQL shape of one retrieved object.
type searchHit struct {
	Content    string `json:"content"`
	SourceURI  string `json:"source_uri"`
	Additional struct {
		Certainty float64 `json:"certainty"`
	} `json:"_additional"`
}

// searchResponse is the GraphQL Get response, keyed by class name.
type searchResponse struct {
	Get map[string][]searchHit `json:"Get"`
}

// Search performs a nearVector lookup for the given query.
//
// # Description
//
// Embeds the query, runs the GraphQL Get with certainty, drops hits below
// the threshold, and returns results sorted by descending score. An empty
// query short-circuits to zero results. Store or embedder failures are
// wrapped in ErrRetrievalUnavailable.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - query: Free-text query; whitespace-only is treated as empty.
//   - limit: Maximum passages; <= 0 uses DefaultLimit.
//   - threshold: Minimum score; < 0 uses DefaultThreshold.
//
// # Outputs
//
//   - []Result: Ranked passages, possibly empty.
//   - error: Non-nil only for infrastructure failures.
func (r *WeaviateRetriever) Search(ctx context.Context, query string,
	limit int, threshold float64) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "WeaviateRetriever.Search")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if threshold < 0 {
		threshold = DefaultThreshold
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrRetrievalUnavailable, err)
	}

	nearVector := r.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source_uri"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	resp, err := r.client.GraphQL().Get().
		WithClassName(r.className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: weaviate query: %v", ErrRetrievalUnavailable, err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[searchResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrRetrievalUnavailable, err)
	}

	results := rankHits(parsed.Get[r.className], threshold)

	slog.Debug("retrieval search complete",
		"class", r.className,
		"hits", len(parsed.Get[r.className]),
		"retained", len(results))

	return results, nil
}

// rankHits filters hits below the threshold and returns results sorted by
// descending score. The sort is stable so equal scores keep upstream order.
func rankHits(hits []searchHit, threshold float64) []Result {
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		score := hit.Additional.Certainty
		if score < threshold {
			continue
		}
		results = append(results, Result{
			Text:      hit.Content,
			SourceURI: hit.SourceURI,
			Score:     score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results
}

var _ Retriever = (*WeaviateRetriever)(nil)
