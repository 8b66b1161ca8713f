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
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AlchemyLocal/services/forge/combination"
)

// TestHandleEventStream_DeliversEvents verifies the SSE stream carries
// the connected handshake, published store events, and the shutdown
// marker, in order.
func TestHandleEventStream_DeliversEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	broadcaster := combination.NewBroadcaster(combination.DefaultEventBuffer)

	router := gin.New()
	router.GET("/v1/events", HandleEventStream(broadcaster, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", "/v1/events", nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		router.ServeHTTP(w, req)
	}()

	// Wait for the handler to register its subscription.
	require.Eventually(t, func() bool {
		return broadcaster.SubscriberCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	broadcaster.Publish(combination.Event{
		Type: combination.EventCombinationAdded,
		Data: map[string]string{"result": "Steam"},
	})
	broadcaster.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after broadcaster close")
	}

	body := w.Body.String()
	assert.Contains(t, body, "event: connected")
	assert.Contains(t, body, "event: combination_added")
	assert.Contains(t, body, `"result":"Steam"`)
	assert.Contains(t, body, "event: shutdown")
	assert.Less(t,
		strings.Index(body, "event: combination_added"),
		strings.Index(body, "event: shutdown"),
		"shutdown must be the final event")

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))
}

// TestHandleEventStream_ClientDisconnect verifies the handler
// unsubscribes when the request context is cancelled.
func TestHandleEventStream_ClientDisconnect(t *testing.T) {
	gin.SetMode(gin.TestMode)
	broadcaster := combination.NewBroadcaster(combination.DefaultEventBuffer)
	defer broadcaster.Close()

	router := gin.New()
	router.GET("/v1/events", HandleEventStream(broadcaster, nil))

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, "GET", "/v1/events", nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		router.ServeHTTP(w, req)
	}()

	require.Eventually(t, func() bool {
		return broadcaster.SubscriberCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after context cancel")
	}

	assert.Equal(t, 0, broadcaster.SubscriberCount())
}
