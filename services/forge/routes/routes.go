// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AlchemyLocal/services/forge/combination"
	"github.com/AleutianAI/AlchemyLocal/services/forge/generator"
	"github.com/AleutianAI/AlchemyLocal/services/forge/handlers"
	"github.com/AleutianAI/AlchemyLocal/services/forge/observability"
)

func SetupRoutes(router *gin.Engine, store *combination.Store, gen generator.Generator,
	broadcaster *combination.Broadcaster, metrics *observability.ForgeMetrics) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		combinations := v1.Group("/combinations")
		{
			combinations.POST("", handlers.HandleCombine(store, gen, metrics))
			combinations.GET("", handlers.ListCombinations(store))
			combinations.GET("/discoveries", handlers.ListDiscoveries(store))
			combinations.GET("/check", handlers.CheckDiscovery(store))
			combinations.DELETE("", handlers.DeleteCombination(store))
		}

		events := v1.Group("/events")
		{
			events.GET("", handlers.HandleEventStream(broadcaster, metrics))
			events.GET("/ws", handlers.HandleEventWebSocket(broadcaster, metrics))
		}

		v1.GET("/stats", handlers.GetStats(store, broadcaster))
		v1.GET("/sessions", handlers.ListSessions(store))
		v1.DELETE("/data", handlers.ResetStore(store))
	}
}
