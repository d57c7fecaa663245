// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package streamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pelagicai/pelagic/services/chatbot/datatypes"
)

// streamPath is the streaming chat endpoint.
const streamPath = "/api/chat/stream"

// readBufferSize is the transport read size. Small enough that frame
// boundaries regularly fall mid-event, which the Decoder handles.
const readBufferSize = 4 * 1024

// Client consumes the streaming chat endpoint.
//
// # Thread Safety
//
// Safe for concurrent use; each Stream call owns its own decoder state.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a Client for the service at baseURL.
//
// # Inputs
//
//   - baseURL: Service root, e.g. "http://localhost:8080".
//   - httpClient: Transport; nil uses a client without a global timeout
//     (streams are long-lived, deadlines come from the context).
//   - logger: Decoder logger; nil falls back to slog.Default().
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 0}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// Stream sends a chat request and consumes the SSE response to completion.
//
// # Inputs
//
//   - ctx: Cancels the request and the body read.
//   - chatReq: The request to send.
//   - onEvent: Optional per-event callback, invoked in wire order before
//     the event is folded into the Exchange. A non-nil return aborts the
//     stream. Nil disables the callback.
//
// # Outputs
//
//   - *Exchange: Accumulated state. Non-nil even on error, carrying
//     whatever arrived before the failure.
//   - error: Non-nil on transport failure, non-200 status, an in-band
//     error event, or a stream that ended without a done event.
func (c *Client) Stream(ctx context.Context, chatReq datatypes.ChatRequest,
	onEvent func(datatypes.StreamEvent) error) (*Exchange, error) {

	exchange := &Exchange{}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return exchange, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+streamPath, bytes.NewReader(body))
	if err != nil {
		return exchange, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return exchange, fmt.Errorf("chat stream cancelled: %w", ctx.Err())
		}
		return exchange, fmt.Errorf("chat stream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return exchange, fmt.Errorf("chat stream failed with status %d: %s",
			resp.StatusCode, string(detail))
	}

	if err := c.consume(ctx, resp.Body, exchange, onEvent); err != nil {
		return exchange, err
	}

	if exchange.ErrDetail() != "" {
		return exchange, fmt.Errorf("chat stream reported error: %s", exchange.ErrDetail())
	}
	if !exchange.Done() {
		return exchange, fmt.Errorf("chat stream ended without done event")
	}
	return exchange, nil
}

// consume reads the body to EOF, decoding and folding events as they arrive.
func (c *Client) consume(ctx context.Context, body io.Reader, exchange *Exchange,
	onEvent func(datatypes.StreamEvent) error) error {

	decoder := NewDecoder(c.logger)
	buf := make([]byte, readBufferSize)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, event := range decoder.Feed(buf[:n]) {
				if onEvent != nil {
					if err := onEvent(event); err != nil {
						return fmt.Errorf("stream callback error: %w", err)
					}
				}
				exchange.Apply(event)

				// The server writes nothing after a terminal event, but a
				// broken peer might. Stop at the first terminal frame.
				if exchange.Done() || exchange.ErrDetail() != "" {
					return nil
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return fmt.Errorf("chat stream cancelled: %w", ctx.Err())
			}
			return fmt.Errorf("read chat stream: %w", readErr)
		}
	}
}

// WaitHealthy polls GET /health until the service answers 200 or the
// context expires. Intended for startup sequencing in tools and tests.
func (c *Client) WaitHealthy(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/health", nil)
		if err != nil {
			return fmt.Errorf("build health request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("service not healthy: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
