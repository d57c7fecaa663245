// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/pelagicai/pelagic/pkg/logging"
	"github.com/pelagicai/pelagic/services/chatbot"
)

func main() {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(getEnvString("LOG_LEVEL", "info")),
		LogDir:  getEnvString("LOG_DIR", ""),
		Service: "chatbot",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg := chatbot.Config{
		Port:              getEnvInt("CHATBOT_PORT", 8090),
		LLMBackend:        getEnvString("LLM_BACKEND_TYPE", "ollama"),
		EmbeddingBackend:  getEnvString("EMBEDDING_BACKEND_TYPE", ""),
		EmbeddingModel:    getEnvString("EMBEDDING_MODEL_NAME", ""),
		WeaviateURL:       getEnvString("WEAVIATE_SERVICE_URL", ""),
		WeaviateClassName: getEnvString("WEAVIATE_CLASS_NAME", ""),
		OTelEndpoint:      getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		EnableModeration:  getEnvBool("ENABLE_MODERATION", false),
		GinMode:           getEnvString("GIN_MODE", ""),
		SearchLimit:       getEnvInt("SEARCH_LIMIT", 0),
		SearchThreshold:   getEnvFloat("SEARCH_THRESHOLD", 0),
		PromptBudgetChars: getEnvInt("PROMPT_BUDGET_CHARS", 0),
		HeartbeatInterval: getEnvDuration("SSE_HEARTBEAT_INTERVAL", 0),
	}

	svc, err := chatbot.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize chat service: %v", err)
	}

	if err := svc.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using fallback",
			"key", key, "value", v, "fallback", fallback)
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid float in environment, using fallback",
			"key", key, "value", v, "fallback", fallback)
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid boolean in environment, using fallback",
			"key", key, "value", v, "fallback", fallback)
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration in environment, using fallback",
			"key", key, "value", v, "fallback", fallback)
		return fallback
	}
	return parsed
}
