// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrail

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIModerationClient implements ModerationClient over the OpenAI
// moderations API.
type OpenAIModerationClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIModerationClient wraps an OpenAI client for moderation calls.
func NewOpenAIModerationClient(client *openai.Client) *OpenAIModerationClient {
	return &OpenAIModerationClient{
		client: client,
		model:  openai.ModerationTextLatest,
	}
}

// Moderate classifies the text and reports whether it was flagged.
func (c *OpenAIModerationClient) Moderate(ctx context.Context, text string) (bool, error) {
	resp, err := c.client.Moderations(ctx, openai.ModerationRequest{
		Input: text,
		Model: c.model,
	})
	if err != nil {
		return false, fmt.Errorf("openai moderation: %w", err)
	}
	for _, result := range resp.Results {
		if result.Flagged {
			return true, nil
		}
	}
	return false, nil
}

var _ ModerationClient = (*OpenAIModerationClient)(nil)
