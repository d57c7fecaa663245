// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package prompt builds generation prompts from conversation history and
// retrieved passages under a size budget.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pelagicai/pelagic/services/chatbot/datatypes"
	"github.com/pelagicai/pelagic/services/chatbot/retrieval"
)

// systemPromptTemplate grounds the generator in the retrieved context and
// pins the fixed no-answer wording.
const systemPromptTemplate = `You are a helpful assistant that answers questions about YouTube videos that have been analyzed and summarized.

You ONLY answer based on the retrieved context provided below. If the context does not contain relevant information to answer the question, respond with: "I don't have information about that in my video summaries."

Do NOT make up information or use knowledge outside of the provided context. Always cite which video(s) your answer comes from when possible.

Retrieved context:
%s`

// noContextPlaceholder stands in for the context block when retrieval
// returned nothing.
const noContextPlaceholder = "No relevant context found."

// contextSeparator joins rendered passages inside the context block.
const contextSeparator = "\n\n---\n\n"

// DefaultBudgetChars is the default character budget for the assembled
// prompt (system + history + current turn). Sized well below typical
// backend context windows to leave room for the answer.
const DefaultBudgetChars = 24 * 1024

// Citation maps a context block index to its source document.
//
// # Fields
//
//   - Index: 1-based position in the rendered context block ("[Source N]").
//   - SourceURI: The document the passage came from.
//   - Score: Similarity score of the passage.
type Citation struct {
	Index     int
	SourceURI string
	Score     float64
}

// Assembled is the output of one prompt assembly.
//
// # Fields
//
//   - Messages: System message first, then retained history, then the
//     current user turn. Ready to hand to an LLMClient.
//   - Citations: Ordered mapping from context index to source URI for the
//     passages that survived the budget.
type Assembled struct {
	Messages  []datatypes.Message
	Citations []Citation
}

// Assembler builds prompts under a fixed character budget.
//
// # Description
//
// When history plus passages exceed the budget, conversation history is
// truncated from the oldest turn first. The current user turn is never
// dropped, and the highest-scoring passage is never dropped. Assembly is
// deterministic for identical inputs.
//
// # Thread Safety
//
// Safe for concurrent use; the assembler holds no mutable state.
type Assembler struct {
	budget int
}

// NewAssembler creates an Assembler. A budget <= 0 uses DefaultBudgetChars.
func NewAssembler(budgetChars int) *Assembler {
	if budgetChars <= 0 {
		budgetChars = DefaultBudgetChars
	}
	return &Assembler{budget: budgetChars}
}

// Assemble builds the generation messages for one request.
//
// # Inputs
//
//   - messages: Caller-supplied history in chronological order; the last
//     element is the current turn.
//   - passages: Retrieved passages; re-sorted by descending score before
//     rendering so the context block order is independent of caller order.
//
// # Outputs
//
//   - Assembled: Messages plus the citation mapping for retained passages.
func (a *Assembler) Assemble(messages []datatypes.Message,
	passages []retrieval.Result) Assembled {

	retained := make([]retrieval.Result, len(passages))
	copy(retained, passages)
	sort.SliceStable(retained, func(i, j int) bool {
		return retained[i].Score > retained[j].Score
	})

	var current *datatypes.Message
	var history []datatypes.Message
	if len(messages) > 0 {
		current = &messages[len(messages)-1]
		history = messages[:len(messages)-1]
	}

	// Shrink until the budget is met: oldest history turn first, then the
	// lowest-scoring passage. The current turn and the top passage stay.
	for {
		size := len(a.renderSystem(retained))
		for _, m := range history {
			size += len(m.Content)
		}
		if current != nil {
			size += len(current.Content)
		}
		if size <= a.budget {
			break
		}
		if len(history) > 0 {
			history = history[1:]
			continue
		}
		if len(retained) > 1 {
			retained = retained[:len(retained)-1]
			continue
		}
		break
	}

	assembled := Assembled{
		Messages: make([]datatypes.Message, 0, len(history)+2),
	}
	assembled.Messages = append(assembled.Messages, datatypes.Message{
		Role:    "system",
		Content: a.renderSystem(retained),
	})
	assembled.Messages = append(assembled.Messages, history...)
	if current != nil {
		assembled.Messages = append(assembled.Messages, *current)
	}

	for i, p := range retained {
		assembled.Citations = append(assembled.Citations, Citation{
			Index:     i + 1,
			SourceURI: p.SourceURI,
			Score:     p.Score,
		})
	}

	return assembled
}

// renderSystem renders the system message for the given retained passages.
func (a *Assembler) renderSystem(passages []retrieval.Result) string {
	if len(passages) == 0 {
		return fmt.Sprintf(systemPromptTemplate, noContextPlaceholder)
	}

	blocks := make([]string, 0, len(passages))
	for i, p := range passages {
		blocks = append(blocks,
			fmt.Sprintf("[Source %d] (score: %.2f)\n%s", i+1, p.Score, p.Text))
	}

	return fmt.Sprintf(systemPromptTemplate, strings.Join(blocks, contextSeparator))
}

// Sources returns the attribution list for the passages that survived the
// budget, in citation form.
func (a Assembled) Sources() []datatypes.SourceInfo {
	retained := make([]retrieval.Result, 0, len(a.Citations))
	for _, c := range a.Citations {
		retained = append(retained, retrieval.Result{
			SourceURI: c.SourceURI,
			Score:     c.Score,
		})
	}
	return Sources(retained)
}

// Sources builds the attribution list for a set of passages: entries with
// empty URIs are skipped, duplicates collapse to their best score, and the
// result is sorted by descending score (stable for ties).
func Sources(passages []retrieval.Result) []datatypes.SourceInfo {
	best := make(map[string]float64, len(passages))
	order := make([]string, 0, len(passages))

	for _, p := range passages {
		if p.SourceURI == "" {
			continue
		}
		score, seen := best[p.SourceURI]
		if !seen {
			order = append(order, p.SourceURI)
			best[p.SourceURI] = p.Score
		} else if p.Score > score {
			best[p.SourceURI] = p.Score
		}
	}

	sources := make([]datatypes.SourceInfo, 0, len(order))
	for _, uri := range order {
		sources = append(sources, datatypes.SourceInfo{
			SourceURI: uri,
			Score:     best[uri],
		})
	}

	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Score > sources[j].Score
	})

	return sources
}
