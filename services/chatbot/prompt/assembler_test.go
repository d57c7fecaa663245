// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelagicai/pelagic/services/chatbot/datatypes"
	"github.com/pelagicai/pelagic/services/chatbot/retrieval"
)

func TestAssemble_SystemMessageCarriesContext(t *testing.T) {
	t.Parallel()

	a := NewAssembler(0)
	assembled := a.Assemble(
		[]datatypes.Message{{Role: "user", Content: "What about Go?"}},
		[]retrieval.Result{
			{Text: "Go talk passage", SourceURI: "s3://notes/go.md", Score: 0.9},
			{Text: "Rust talk passage", SourceURI: "s3://notes/rust.md", Score: 0.7},
		})

	require.NotEmpty(t, assembled.Messages)
	system := assembled.Messages[0]
	assert.Equal(t, "system", system.Role)
	assert.Contains(t, system.Content, "[Source 1] (score: 0.90)\nGo talk passage")
	assert.Contains(t, system.Content, "[Source 2] (score: 0.70)\nRust talk passage")
	assert.Contains(t, system.Content, "\n\n---\n\n")

	// Last message is always the current user turn.
	assert.Equal(t, "What about Go?", assembled.Messages[len(assembled.Messages)-1].Content)
}

func TestAssemble_NoPassagesUsesPlaceholder(t *testing.T) {
	t.Parallel()

	a := NewAssembler(0)
	assembled := a.Assemble(
		[]datatypes.Message{{Role: "user", Content: "Anything?"}}, nil)

	assert.Contains(t, assembled.Messages[0].Content, "No relevant context found.")
	assert.Empty(t, assembled.Citations)
}

func TestAssemble_PassagesSortedByScore(t *testing.T) {
	t.Parallel()

	a := NewAssembler(0)
	assembled := a.Assemble(
		[]datatypes.Message{{Role: "user", Content: "q"}},
		[]retrieval.Result{
			{Text: "weaker", SourceURI: "s3://notes/b.md", Score: 0.6},
			{Text: "stronger", SourceURI: "s3://notes/a.md", Score: 0.95},
		})

	system := assembled.Messages[0].Content
	assert.Less(t, strings.Index(system, "stronger"), strings.Index(system, "weaker"),
		"higher-scoring passage must render first")

	require.Len(t, assembled.Citations, 2)
	assert.Equal(t, Citation{Index: 1, SourceURI: "s3://notes/a.md", Score: 0.95},
		assembled.Citations[0])
	assert.Equal(t, Citation{Index: 2, SourceURI: "s3://notes/b.md", Score: 0.6},
		assembled.Citations[1])
}

func TestAssemble_BudgetDropsOldestHistoryFirst(t *testing.T) {
	t.Parallel()

	oldTurn := datatypes.Message{Role: "user", Content: strings.Repeat("old ", 200)}
	midTurn := datatypes.Message{Role: "assistant", Content: strings.Repeat("mid ", 200)}
	current := datatypes.Message{Role: "user", Content: "the current question"}

	// Budget fits the system prompt, one history turn, and the current turn.
	a := NewAssembler(len(strings.Repeat("mid ", 200)) + 1200)
	assembled := a.Assemble([]datatypes.Message{oldTurn, midTurn, current}, nil)

	contents := make([]string, 0, len(assembled.Messages))
	for _, m := range assembled.Messages {
		contents = append(contents, m.Content)
	}

	assert.NotContains(t, contents, oldTurn.Content, "oldest turn is dropped first")
	assert.Contains(t, contents, midTurn.Content)
	assert.Contains(t, contents, current.Content)
}

func TestAssemble_CurrentTurnNeverDropped(t *testing.T) {
	t.Parallel()

	current := datatypes.Message{Role: "user", Content: strings.Repeat("x", 5000)}

	a := NewAssembler(100) // far too small for anything
	assembled := a.Assemble([]datatypes.Message{
		{Role: "user", Content: strings.Repeat("h", 5000)},
		current,
	}, nil)

	last := assembled.Messages[len(assembled.Messages)-1]
	assert.Equal(t, current.Content, last.Content)
}

func TestAssemble_TopPassageNeverDropped(t *testing.T) {
	t.Parallel()

	passages := []retrieval.Result{
		{Text: strings.Repeat("top", 1000), SourceURI: "s3://notes/top.md", Score: 0.9},
		{Text: strings.Repeat("low", 1000), SourceURI: "s3://notes/low.md", Score: 0.6},
	}

	a := NewAssembler(100)
	assembled := a.Assemble(
		[]datatypes.Message{{Role: "user", Content: "q"}}, passages)

	require.Len(t, assembled.Citations, 1, "lowest-scoring passage is dropped")
	assert.Equal(t, "s3://notes/top.md", assembled.Citations[0].SourceURI)
	assert.Contains(t, assembled.Messages[0].Content, "top")
}

func TestAssemble_Deterministic(t *testing.T) {
	t.Parallel()

	messages := []datatypes.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}
	passages := []retrieval.Result{
		{Text: "p1", SourceURI: "s3://a", Score: 0.8},
		{Text: "p2", SourceURI: "s3://b", Score: 0.8},
	}

	a := NewAssembler(0)
	first := a.Assemble(messages, passages)
	second := a.Assemble(messages, passages)

	assert.Equal(t, first, second)
}

func TestSources_DedupAndSort(t *testing.T) {
	t.Parallel()

	sources := Sources([]retrieval.Result{
		{SourceURI: "s3://notes/a.md", Score: 0.7},
		{SourceURI: "s3://notes/b.md", Score: 0.9},
		{SourceURI: "s3://notes/a.md", Score: 0.85}, // dup, better score
		{SourceURI: "", Score: 0.99},                // no uri, skipped
	})

	require.Len(t, sources, 2)
	assert.Equal(t, datatypes.SourceInfo{SourceURI: "s3://notes/b.md", Score: 0.9}, sources[0])
	assert.Equal(t, datatypes.SourceInfo{SourceURI: "s3://notes/a.md", Score: 0.85}, sources[1])
}

func TestAssembled_SourcesFollowRetainedCitations(t *testing.T) {
	t.Parallel()

	a := NewAssembler(100) // tight budget so the weaker passage is dropped
	assembled := a.Assemble(
		[]datatypes.Message{{Role: "user", Content: "q"}},
		[]retrieval.Result{
			{Text: strings.Repeat("top", 1000), SourceURI: "s3://notes/top.md", Score: 0.9},
			{Text: strings.Repeat("low", 1000), SourceURI: "s3://notes/low.md", Score: 0.6},
		})

	sources := assembled.Sources()
	require.Len(t, sources, 1, "dropped passages are not attributed")
	assert.Equal(t, "s3://notes/top.md", sources[0].SourceURI)
}

func TestSources_Empty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Sources(nil))
}
