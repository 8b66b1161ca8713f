// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("alchemy.generator.ollama")

type OllamaGenerator struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Format  string                 `json:"format,omitempty"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
}

// NewOllamaGenerator reads OLLAMA_BASE_URL and OLLAMA_MODEL from the
// environment.
func NewOllamaGenerator() (*OllamaGenerator, error) {
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	model := os.Getenv("OLLAMA_MODEL")
	if baseURL == "" {
		return nil, fmt.Errorf("OLLAMA_BASE_URL environment variable not set")
	}
	if model == "" {
		slog.Warn("OLLAMA_MODEL not set, defaulting to llama3.2")
		model = "llama3.2"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing Ollama combination generator", "base_url", baseURL, "model", model)
	return &OllamaGenerator{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		baseURL:    baseURL,
		model:      model,
	}, nil
}

func (g *OllamaGenerator) Backend() string { return "ollama" }

// Combine implements the Generator interface.
func (g *OllamaGenerator) Combine(ctx context.Context, first, second string) (Combination, error) {
	ctx, span := tracer.Start(ctx, "OllamaGenerator.Combine")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", g.model),
		attribute.String("combine.first", first),
		attribute.String("combine.second", second),
	)

	slog.Debug("Generating combination via Ollama", "model", g.model)
	payload := ollamaGenerateRequest{
		Model:  g.model,
		Prompt: fmt.Sprintf(combinePrompt, first, second),
		Stream: false,
		Format: "json",
		Options: map[string]interface{}{
			"temperature": 0.7,
			"num_predict": 64,
		},
	}

	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return Combination{}, fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/api/generate", bytes.NewReader(reqBodyBytes))
	if err != nil {
		return Combination{}, fmt.Errorf("build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Ollama API call failed", "error", err)
		return Combination{}, fmt.Errorf("ollama API call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Combination{}, fmt.Errorf("read ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, resp.Status)
		return Combination{}, fmt.Errorf("ollama returned %s: %s", resp.Status, truncate(string(body), 200))
	}

	var generated ollamaGenerateResponse
	if err := json.Unmarshal(body, &generated); err != nil {
		return Combination{}, fmt.Errorf("decode ollama response: %w", err)
	}

	combo, err := parseCombination(generated.Response)
	if err != nil {
		return Combination{}, fmt.Errorf("ollama reply: %w", err)
	}
	slog.Debug("Received combination from Ollama", "result", combo.Result)
	return combo, nil
}

var _ Generator = (*OllamaGenerator)(nil)
