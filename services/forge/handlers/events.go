// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AlchemyLocal/services/forge/combination"
	"github.com/AleutianAI/AlchemyLocal/services/forge/observability"
)

// keepAliveInterval is how often an idle SSE stream pings the client.
// Below common load balancer idle timeouts (AWS ALB, Nginx 60s).
const keepAliveInterval = 15 * time.Second

// HandleEventStream answers GET /v1/events with a Server-Sent Events
// stream of store changes.
//
// # Description
//
// Subscribes the client to the broadcaster and pumps events until the
// client disconnects or the broadcaster shuts down. The first event is
// always "connected". There is no replay: the stream carries changes
// from subscription time forward.
//
// A slow client whose buffer fills is dropped by the broadcaster; its
// event channel closes and the handler returns.
func HandleEventStream(broadcaster *combination.Broadcaster,
	metrics *observability.ForgeMetrics) gin.HandlerFunc {

	return func(c *gin.Context) {
		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}

		sub := broadcaster.Subscribe()
		defer broadcaster.Unsubscribe(sub)

		metrics.SubscriberConnected("sse")
		defer metrics.SubscriberDisconnected("sse")
		slog.Info("SSE client connected", "subscriber", sub.ID())

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-sub.Events():
				if !ok {
					// Broadcaster closed or dropped this subscriber.
					slog.Info("SSE subscriber channel closed", "subscriber", sub.ID())
					return
				}
				if err := writer.WriteEvent(event); err != nil {
					slog.Info("SSE client disconnected", "subscriber", sub.ID(), "error", err)
					return
				}
				if event.Type == combination.EventShutdown {
					return
				}
			case <-ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					slog.Info("SSE client disconnected during keepalive",
						"subscriber", sub.ID(), "error", err)
					return
				}
			case <-c.Request.Context().Done():
				slog.Info("SSE client context done", "subscriber", sub.ID())
				return
			}
		}
	}
}
