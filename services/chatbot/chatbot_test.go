// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chatbot

import (
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	// Reduce noise in test output
	gin.SetMode(gin.TestMode)
}

func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	result := applyConfigDefaults(Config{})

	assert.Equal(t, 8090, result.Port)
	assert.Equal(t, "ollama", result.LLMBackend)
	assert.Equal(t, "ollama", result.EmbeddingBackend)
	assert.Equal(t, "http://localhost:8080", result.WeaviateURL)
	assert.Equal(t, "VideoSummary", result.WeaviateClassName)
	assert.Equal(t, "pelagic-otel-collector:4317", result.OTelEndpoint)
	assert.True(t, result.EnableMetrics)
	assert.Equal(t, 5, result.SearchLimit)
	assert.Equal(t, 0.5, result.SearchThreshold)
	assert.Equal(t, 15*time.Second, result.HeartbeatInterval)
}

func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	cfg := Config{
		Port:            9999,
		LLMBackend:      "openai",
		WeaviateURL:     "http://weaviate:8080",
		OTelEndpoint:    "custom-collector:4317",
		SearchLimit:     10,
		SearchThreshold: 0.7,
	}

	result := applyConfigDefaults(cfg)

	assert.Equal(t, 9999, result.Port)
	assert.Equal(t, "openai", result.LLMBackend)
	assert.Equal(t, "openai", result.EmbeddingBackend,
		"embedding backend follows the LLM backend when unset")
	assert.Equal(t, "http://weaviate:8080", result.WeaviateURL)
	assert.Equal(t, "custom-collector:4317", result.OTelEndpoint)
	assert.Equal(t, 10, result.SearchLimit)
	assert.Equal(t, 0.7, result.SearchThreshold)
}

func TestApplyConfigDefaults_EmbeddingBackendIndependent(t *testing.T) {
	cfg := Config{
		LLMBackend:       "openai",
		EmbeddingBackend: "ollama",
	}

	result := applyConfigDefaults(cfg)

	assert.Equal(t, "openai", result.LLMBackend)
	assert.Equal(t, "ollama", result.EmbeddingBackend)
}

func TestApplyConfigDefaults_TableDriven(t *testing.T) {
	tests := []struct {
		name            string
		input           Config
		wantPort        int
		wantBackend     string
		wantWeaviateURL string
	}{
		{
			name:            "empty config gets all defaults",
			input:           Config{},
			wantPort:        8090,
			wantBackend:     "ollama",
			wantWeaviateURL: "http://localhost:8080",
		},
		{
			name:            "custom port preserved",
			input:           Config{Port: 8080},
			wantPort:        8080,
			wantBackend:     "ollama",
			wantWeaviateURL: "http://localhost:8080",
		},
		{
			name:            "custom backend preserved",
			input:           Config{LLMBackend: "openai"},
			wantPort:        8090,
			wantBackend:     "openai",
			wantWeaviateURL: "http://localhost:8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := applyConfigDefaults(tt.input)

			assert.Equal(t, tt.wantPort, result.Port)
			assert.Equal(t, tt.wantBackend, result.LLMBackend)
			assert.Equal(t, tt.wantWeaviateURL, result.WeaviateURL)
		})
	}
}

func TestInitRetriever_InvalidWeaviateURL(t *testing.T) {
	s := &service{config: applyConfigDefaults(Config{WeaviateURL: "not a url"})}

	err := s.initRetriever()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid Weaviate URL")
}

func TestInitGuardrail_PatternLayerOnly(t *testing.T) {
	s := &service{config: applyConfigDefaults(Config{})}

	assert.NoError(t, s.initGuardrail())
	assert.NotNil(t, s.gate)
}

func TestOllamaBaseURL_Default(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")

	assert.Equal(t, "http://localhost:11434", ollamaBaseURL())
}

func TestOllamaBaseURL_TrimsTrailingSlash(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://ollama:11434/")

	assert.Equal(t, "http://ollama:11434", ollamaBaseURL())
}
