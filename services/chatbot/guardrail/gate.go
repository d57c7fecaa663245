// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package guardrail provides input and output content moderation for chat.
//
// # Description
//
// The Gate runs two layers over a piece of text: a deterministic pattern
// layer compiled from an embedded YAML deny-topic file, and an optional
// remote moderation layer. The pattern layer cannot fail at evaluation
// time; the moderation layer fails open so that a moderation outage never
// takes the chat service down with it.
//
// Blocked decisions carry only fixed, pre-approved wording. No fragment of
// the evaluated text ever appears in a Decision message.
package guardrail

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"
	"sort"

	"go.opentelemetry.io/otel"
	"gopkg.in/yaml.v3"
)

var tracer = otel.Tracer("github.com/pelagicai/pelagic/services/chatbot/guardrail")

//go:embed patterns.yaml
var patternsYAML []byte

// =============================================================================
// Directions and Decisions
// =============================================================================

// Direction selects which gate a text is evaluated against.
type Direction string

const (
	// DirectionInput gates user text before retrieval and generation.
	DirectionInput Direction = "input"

	// DirectionOutput gates the fully assembled generated answer.
	DirectionOutput Direction = "output"
)

// Fixed client-facing wording for blocked content. These are the only
// strings a blocked decision ever surfaces.
const (
	// BlockedInputMessage replaces the answer entirely when input is blocked.
	BlockedInputMessage = "I can't help with that. I can only answer questions about the videos in my summaries."

	// BlockedOutputNotice is appended to an already-streamed answer when the
	// output check blocks it.
	BlockedOutputNotice = "Part of this answer was withheld because it did not meet the content policy."
)

// Decision is the outcome of one gate evaluation.
//
// # Fields
//
//   - Allowed: true when the text may pass.
//   - Message: Fixed replacement text; populated only when blocked.
//   - Topic: Name of the matched deny topic, or "moderation" for the remote
//     layer. Used for logging and metrics, never shown to clients.
type Decision struct {
	Allowed bool
	Message string
	Topic   string
}

// =============================================================================
// Moderation Layer
// =============================================================================

// ModerationClient is the optional remote moderation collaborator.
// Implementations classify complete text into flagged / not flagged.
type ModerationClient interface {
	Moderate(ctx context.Context, text string) (bool, error)
}

// =============================================================================
// Pattern Rules
// =============================================================================

// patternsFile is the YAML shape of the embedded deny-topic file.
type patternsFile struct {
	Version int `yaml:"version"`
	Topics  []struct {
		Name      string   `yaml:"name"`
		Priority  int      `yaml:"priority"`
		AppliesTo []string `yaml:"applies_to"`
		Patterns  []string `yaml:"patterns"`
	} `yaml:"topics"`
}

// topicRule is one compiled deny topic.
type topicRule struct {
	name      string
	priority  int
	appliesTo map[Direction]bool
	patterns  []*regexp.Regexp
}

func (r topicRule) matches(text string) bool {
	for _, p := range r.patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// =============================================================================
// Gate
// =============================================================================

// Gate evaluates text against the pattern layer and, when configured, the
// remote moderation layer.
//
// # Thread Safety
//
// Safe for concurrent use. Rules are compiled once at construction and
// never mutated.
type Gate struct {
	rules      []topicRule
	moderation ModerationClient
}

// NewGate compiles the embedded deny-topic file and wires the optional
// moderation client.
//
// # Inputs
//
//   - moderation: Remote moderation layer; nil disables it.
//
// # Outputs
//
//   - *Gate: Ready to evaluate.
//   - error: Non-nil if the embedded YAML is malformed or a pattern does
//     not compile. This is a build defect, not a runtime condition.
func NewGate(moderation ModerationClient) (*Gate, error) {
	var file patternsFile
	if err := yaml.Unmarshal(patternsYAML, &file); err != nil {
		return nil, fmt.Errorf("parse guardrail patterns: %w", err)
	}

	rules := make([]topicRule, 0, len(file.Topics))
	for _, topic := range file.Topics {
		rule := topicRule{
			name:      topic.Name,
			priority:  topic.Priority,
			appliesTo: make(map[Direction]bool, len(topic.AppliesTo)),
		}
		for _, d := range topic.AppliesTo {
			rule.appliesTo[Direction(d)] = true
		}
		for _, raw := range topic.Patterns {
			compiled, err := regexp.Compile(raw)
			if err != nil {
				return nil, fmt.Errorf("compile pattern %q in topic %s: %w",
					raw, topic.Name, err)
			}
			rule.patterns = append(rule.patterns, compiled)
		}
		rules = append(rules, rule)
	}

	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].priority < rules[j].priority
	})

	return &Gate{rules: rules, moderation: moderation}, nil
}

// Evaluate runs both layers over the text for the given direction.
//
// # Description
//
// The pattern layer runs first and is authoritative when it matches. The
// moderation layer runs second; a moderation service error is logged and
// the text is allowed (fail open: availability over enforcement).
//
// # Inputs
//
//   - ctx: Context for the moderation call.
//   - text: Complete text to classify. For input, the latest user message;
//     for output, the fully assembled answer.
//   - direction: DirectionInput or DirectionOutput.
//
// # Outputs
//
//   - Decision: Allowed, or Blocked with the fixed message for the direction.
func (g *Gate) Evaluate(ctx context.Context, text string, direction Direction) Decision {
	ctx, span := tracer.Start(ctx, "Gate.Evaluate")
	defer span.End()

	for _, rule := range g.rules {
		if !rule.appliesTo[direction] {
			continue
		}
		if rule.matches(text) {
			slog.Info("guardrail pattern block",
				"topic", rule.name,
				"direction", string(direction))
			return blockedDecision(direction, rule.name)
		}
	}

	if g.moderation != nil {
		flagged, err := g.moderation.Moderate(ctx, text)
		if err != nil {
			slog.Warn("moderation service unavailable, allowing content",
				"direction", string(direction),
				"error", err)
			return Decision{Allowed: true}
		}
		if flagged {
			slog.Info("guardrail moderation block", "direction", string(direction))
			return blockedDecision(direction, "moderation")
		}
	}

	return Decision{Allowed: true}
}

// blockedDecision builds the blocked Decision with the fixed wording for
// the direction.
func blockedDecision(direction Direction, topic string) Decision {
	message := BlockedInputMessage
	if direction == DirectionOutput {
		message = BlockedOutputNotice
	}
	return Decision{Allowed: false, Message: message, Topic: topic}
}
