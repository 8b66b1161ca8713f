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
	"hash/fnv"
	"strings"
)

// recipes are the classic pairings every alchemy game ships with. The
// table is consulted before synthesis so the offline backend feels
// hand-crafted for the common cases. Keys are case-folded sorted pairs.
var recipes = map[string]Combination{
	"fire|water":  {Result: "Steam", Emoji: "💨"},
	"earth|water": {Result: "Mud", Emoji: "🟫"},
	"earth|fire":  {Result: "Lava", Emoji: "🌋"},
	"air|water":   {Result: "Mist", Emoji: "🌫️"},
	"air|fire":    {Result: "Smoke", Emoji: "💨"},
	"air|earth":   {Result: "Dust", Emoji: "🌪️"},
	"lava|water":  {Result: "Stone", Emoji: "🪨"},
	"mud|fire":    {Result: "Brick", Emoji: "🧱"},
	"steam|steam": {Result: "Cloud", Emoji: "☁️"},
	"cloud|water": {Result: "Rain", Emoji: "🌧️"},
	"fire|stone":  {Result: "Metal", Emoji: "⚙️"},
}

// synthesisSuffixes and synthesisEmojis feed the deterministic fallback
// for pairs outside the recipe table.
var synthesisSuffixes = []string{
	"Essence", "Shard", "Golem", "Elixir", "Spirit", "Crystal",
	"Storm", "Bloom", "Forge", "Echo",
}

var synthesisEmojis = []string{
	"✨", "🔮", "⚗️", "🌟", "🗿", "💎", "🌀", "🌺", "🔥", "🎐",
}

// StaticGenerator is the offline backend: deterministic, instant, no
// external calls. The same pair always yields the same combination
// regardless of argument order, so the service behaves sensibly with
// no model configured.
type StaticGenerator struct{}

func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{}
}

func (g *StaticGenerator) Backend() string { return "local" }

// Combine implements the Generator interface.
func (g *StaticGenerator) Combine(ctx context.Context, first, second string) (Combination, error) {
	if err := ctx.Err(); err != nil {
		return Combination{}, err
	}

	a, b := strings.ToLower(strings.TrimSpace(first)), strings.ToLower(strings.TrimSpace(second))
	if b < a {
		a, b = b, a
	}
	if combo, ok := recipes[a+"|"+b]; ok {
		return combo, nil
	}

	// Synthesize: lead word from the lexicographically smaller name,
	// suffix and emoji picked by hash so results are stable.
	h := fnv.New32a()
	h.Write([]byte(a))
	h.Write([]byte{'|'})
	h.Write([]byte(b))
	sum := h.Sum32()

	lead := titleCase(a)
	suffix := synthesisSuffixes[int(sum)%len(synthesisSuffixes)]
	emoji := synthesisEmojis[int(sum>>8)%len(synthesisEmojis)]
	return Combination{Result: lead + " " + suffix, Emoji: emoji}, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var _ Generator = (*StaticGenerator)(nil)
