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
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AlchemyLocal/services/forge/combination"
	"github.com/AleutianAI/AlchemyLocal/services/forge/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// wsWriteTimeout bounds a single WriteJSON call so one stuck client
// cannot wedge its pump goroutine.
const wsWriteTimeout = 10 * time.Second

// HandleEventWebSocket answers GET /v1/events/ws with the same store
// change stream as the SSE endpoint, over a websocket.
//
// # Description
//
// Upgrades the connection, subscribes to the broadcaster, and writes
// each event as one JSON message. The read side is drained only to
// detect client disconnects; inbound payloads are ignored.
func HandleEventWebSocket(broadcaster *combination.Broadcaster,
	metrics *observability.ForgeMetrics) gin.HandlerFunc {

	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		sub := broadcaster.Subscribe()
		defer broadcaster.Unsubscribe(sub)

		metrics.SubscriberConnected("websocket")
		defer metrics.SubscriberDisconnected("websocket")
		slog.Info("websocket event client connected", "subscriber", sub.ID())

		// Read pump: discard inbound messages, signal on disconnect.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case event, ok := <-sub.Events():
				if !ok {
					slog.Info("websocket subscriber channel closed", "subscriber", sub.ID())
					return
				}
				_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := ws.WriteJSON(event); err != nil {
					slog.Info("websocket client disconnected",
						"subscriber", sub.ID(), "error", err)
					return
				}
				if event.Type == combination.EventShutdown {
					return
				}
			case <-done:
				slog.Info("websocket client closed connection", "subscriber", sub.ID())
				return
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}
