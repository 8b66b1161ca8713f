// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generator invents a combination result for an item pair the
// store has never seen. Backends: OpenAI, Ollama, or the deterministic
// offline generator. The combination store never calls a generator
// itself; the HTTP shell resolves cache misses through one and then
// records the outcome.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Combination is a generated pairing outcome.
type Combination struct {
	Result string `json:"result"`
	Emoji  string `json:"emoji"`
}

// Generator defines the standard interface for any combination backend.
type Generator interface {
	// Combine invents the result of pairing two item names. Both names
	// are non-empty; the call respects ctx cancellation.
	Combine(ctx context.Context, first, second string) (Combination, error)

	// Backend names the implementation for logs and metrics.
	Backend() string
}

// New creates a generator for the configured backend. Valid backends:
// "local" (deterministic, no external calls), "openai", "ollama".
func New(backend string) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "local":
		return NewStaticGenerator(), nil
	case "openai":
		return NewOpenAIGenerator()
	case "ollama":
		return NewOllamaGenerator()
	default:
		return nil, fmt.Errorf("unknown generator backend %q (valid: local, openai, ollama)", backend)
	}
}

// combinePrompt is the instruction both LLM backends share. The model
// must answer with a single JSON object so parseCombination can stay
// dumb.
const combinePrompt = `You are the crafting engine of an alchemy game. ` +
	`Two elements are combined and you decide what they create. Answer with ` +
	`a single JSON object and nothing else, shaped exactly like ` +
	`{"result": "<name>", "emoji": "<one emoji>"}. The result should be a ` +
	`short, evocative noun phrase. Elements: %q + %q`

// parseCombination extracts the JSON object from a model reply. Models
// occasionally wrap the object in prose or code fences; scan for the
// outermost braces before unmarshalling.
func parseCombination(raw string) (Combination, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Combination{}, fmt.Errorf("no JSON object in model reply %q", truncate(raw, 120))
	}

	var combo Combination
	if err := json.Unmarshal([]byte(raw[start:end+1]), &combo); err != nil {
		return Combination{}, fmt.Errorf("decode model reply: %w", err)
	}

	combo.Result = strings.TrimSpace(combo.Result)
	combo.Emoji = strings.TrimSpace(combo.Emoji)
	if combo.Result == "" {
		return Combination{}, fmt.Errorf("model reply has empty result")
	}
	if combo.Emoji == "" {
		combo.Emoji = "✨"
	}
	return combo, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
