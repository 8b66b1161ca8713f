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
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/AlchemyLocal/services/forge/combination"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing Server-Sent Events to HTTP
// responses.
//
// # Description
//
// SSEWriter abstracts SSE event serialization and writing, enabling
// testability and separation from HTTP response mechanics. Implementations
// handle the SSE wire format (event: type\ndata: json\n\n) internally.
//
// Each event is automatically assigned an Id (UUID v4) for ordering and
// deduplication on the client side.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
// The event pump and the keepalive ticker write from different goroutines.
//
// # Assumptions
//
//   - Caller has set Content-Type: text/event-stream before writing
//   - Caller has disabled buffering (X-Accel-Buffering: no)
type SSEWriter interface {
	// WriteEvent writes a single store event to the response.
	//
	// # Inputs
	//
	//   - event: store event to write. Id is auto-assigned.
	//
	// # Outputs
	//
	//   - error: Non-nil if JSON marshaling or writing failed.
	WriteEvent(event combination.Event) error

	// WriteKeepAlive sends a comment line to prevent connection timeouts.
	//
	// # Description
	//
	// Sends an SSE comment (": ping\n\n") to keep the TCP connection active
	// between store events. Comments are ignored by clients but reset load
	// balancer timeout counters (AWS ALB, Nginx default 60s).
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseEnvelope is the wire form of one SSE data payload.
type sseEnvelope struct {
	Id        string    `json:"id"`
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// sseWriter implements SSEWriter for HTTP SSE responses.
//
// Each event is written in the format:
//
//	event: {type}
//	data: {json}
//
// Thread-safe via mutex. Cannot be reused across requests.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// =============================================================================
// Constructor
// =============================================================================

// NewSSEWriter creates a new SSEWriter for the given ResponseWriter.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//   - SSEWriter: Ready to write SSE events.
//   - error: Non-nil if ResponseWriter doesn't support flushing.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders()
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseWriter{
		writer:  w,
		flusher: flusher,
	}, nil
}

// =============================================================================
// Methods
// =============================================================================

// WriteEvent writes a single store event to the response. Flushes
// immediately after writing.
func (w *sseWriter) WriteEvent(event combination.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	envelope := sseEnvelope{
		Id:        uuid.New().String(),
		Type:      string(event.Type),
		Data:      event.Data,
		Timestamp: event.Timestamp,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// SSE format: event: type\ndata: json\n\n
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", envelope.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// WriteKeepAlive sends a comment line to keep the connection alive.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// SSE comment format: colon followed by text, then double newline
	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// # Description
//
// Sets the required headers for Server-Sent Events:
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx buffering)
//
// Must be called before writing any response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
