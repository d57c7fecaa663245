// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pelagicai/pelagic/services/chatbot/handlers"
)

// SetupRoutes registers all HTTP routes on the router.
func SetupRoutes(router *gin.Engine, chatHandler *handlers.ChatHandler, enableMetrics bool) {
	router.GET("/health", handlers.HandleHealth)

	if enableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api")
	{
		api.POST("/chat", chatHandler.HandleChat)
		api.POST("/chat/stream", chatHandler.HandleChatStream)
	}
}
