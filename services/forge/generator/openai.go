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
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator reads OPENAI_API_KEY (falling back to the mounted
// container secret) and OPENAI_MODEL from the environment.
func NewOpenAIGenerator() (*OpenAIGenerator, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI combination generator", "model", model)
	return &OpenAIGenerator{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

func (g *OpenAIGenerator) Backend() string { return "openai" }

// Combine implements the Generator interface.
func (g *OpenAIGenerator) Combine(ctx context.Context, first, second string) (Combination, error) {
	slog.Debug("Generating combination via OpenAI", "model", g.model, "first", first, "second", second)

	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(combinePrompt, first, second)},
		},
		Temperature: 0.7,
		MaxTokens:   64,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return Combination{}, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return Combination{}, fmt.Errorf("OpenAI returned no choices")
	}

	combo, err := parseCombination(resp.Choices[0].Message.Content)
	if err != nil {
		return Combination{}, fmt.Errorf("OpenAI reply: %w", err)
	}
	slog.Debug("Received combination from OpenAI", "result", combo.Result)
	return combo, nil
}

var _ Generator = (*OpenAIGenerator)(nil)
