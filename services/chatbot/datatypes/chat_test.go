// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func TestChatRequest_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     ChatRequest
		wantErr bool
	}{
		{
			name: "valid single user message",
			req: ChatRequest{
				Messages: []Message{{Role: "user", Content: "hello"}},
			},
			wantErr: false,
		},
		{
			name: "valid multi-turn with session id",
			req: ChatRequest{
				Messages: []Message{
					{Role: "user", Content: "first"},
					{Role: "assistant", Content: "answer"},
					{Role: "user", Content: "follow up"},
				},
				SessionID: "sess-1",
			},
			wantErr: false,
		},
		{
			name:    "empty messages rejected",
			req:     ChatRequest{Messages: []Message{}},
			wantErr: true,
		},
		{
			name: "invalid role rejected",
			req: ChatRequest{
				Messages: []Message{{Role: "robot", Content: "hi"}},
			},
			wantErr: true,
		},
		{
			name: "oversize content rejected",
			req: ChatRequest{
				Messages: []Message{{
					Role:    "user",
					Content: strings.Repeat("a", MaxMessageContentBytes+1),
				}},
			},
			wantErr: true,
		},
		{
			name: "content at limit accepted",
			req: ChatRequest{
				Messages: []Message{{
					Role:    "user",
					Content: strings.Repeat("a", MaxMessageContentBytes),
				}},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChatRequest_Validate_TooManyMessages(t *testing.T) {
	t.Parallel()

	msgs := make([]Message, MaxMessagesPerRequest+1)
	for i := range msgs {
		msgs[i] = Message{Role: "user", Content: "m"}
	}
	req := ChatRequest{Messages: msgs}

	assert.Error(t, req.Validate())
}

func TestChatRequest_LatestUserMessage(t *testing.T) {
	t.Parallel()

	req := ChatRequest{
		Messages: []Message{
			{Role: "user", Content: "old question"},
			{Role: "assistant", Content: "old answer"},
			{Role: "user", Content: "new question"},
			{Role: "assistant", Content: "trailing answer"},
		},
	}

	assert.Equal(t, "new question", req.LatestUserMessage())
}

func TestChatRequest_LatestUserMessage_NoUserTurn(t *testing.T) {
	t.Parallel()

	req := ChatRequest{
		Messages: []Message{{Role: "assistant", Content: "only me"}},
	}

	assert.Equal(t, "", req.LatestUserMessage())
}

func TestStreamEvent_JSONShape(t *testing.T) {
	t.Parallel()

	chunk, err := json.Marshal(StreamEvent{Type: EventTypeChunk, Content: "Hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"chunk","content":"Hi"}`, string(chunk))

	done, err := json.Marshal(StreamEvent{Type: EventTypeDone, SessionID: "s-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"done","session_id":"s-1"}`, string(done))

	srcs, err := json.Marshal(StreamEvent{
		Type:    EventTypeSources,
		Sources: []SourceInfo{{SourceURI: "s3://notes/a.md", Score: 0.9}},
	})
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"sources","sources":[{"source_uri":"s3://notes/a.md","score":0.9}]}`,
		string(srcs))
}

func TestParseGraphQLResponse(t *testing.T) {
	t.Parallel()

	type getResponse struct {
		Get struct {
			VideoSummary []struct {
				Content string `json:"content"`
			} `json:"VideoSummary"`
		} `json:"Get"`
	}

	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				"VideoSummary": []interface{}{
					map[string]interface{}{"content": "passage one"},
				},
			},
		},
	}

	parsed, err := ParseGraphQLResponse[getResponse](resp)
	require.NoError(t, err)
	require.Len(t, parsed.Get.VideoSummary, 1)
	assert.Equal(t, "passage one", parsed.Get.VideoSummary[0].Content)
}

func TestParseGraphQLResponse_NilResponse(t *testing.T) {
	t.Parallel()

	_, err := ParseGraphQLResponse[struct{}](nil)
	assert.Error(t, err)
}

func TestParseGraphQLResponse_GraphQLErrors(t *testing.T) {
	t.Parallel()

	resp := &models.GraphQLResponse{
		Errors: []*models.GraphQLError{{Message: "class not found"}},
	}

	_, err := ParseGraphQLResponse[struct{}](resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "class not found")
}
