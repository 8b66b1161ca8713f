// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package combination

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func discoveryFixture() map[Key]Record {
	records := make(map[Key]Record)
	add := func(session, first, second, result string) {
		rec := Record{First: first, Second: second, Result: result, Emoji: "x", SessionID: session}
		records[rec.Key()] = rec
	}
	add("default", "Fire", "Water", "Steam")
	add("default", "Earth", "Water", "Mud")
	add("s1", "Fire", "Earth", "Lava")
	add("s2", "Lava", "Water", "Stone")
	add("s2", "Steam", "Steam", "Cloud")
	return records
}

// TestScanIsFirst covers the defining linear-scan contract.
func TestScanIsFirst(t *testing.T) {
	records := discoveryFixture()

	t.Run("unseen result is first", func(t *testing.T) {
		assert.True(t, ScanIsFirst("Dragon", records))
	})

	t.Run("seen result is not first", func(t *testing.T) {
		assert.False(t, ScanIsFirst("Steam", records))
	})

	t.Run("comparison is case-insensitive", func(t *testing.T) {
		assert.False(t, ScanIsFirst("steam", records))
		assert.False(t, ScanIsFirst("STEAM", records))
	})

	t.Run("discovery is session-agnostic", func(t *testing.T) {
		// Lava was produced under session s1 only; it is still not a
		// first discovery anywhere.
		assert.False(t, ScanIsFirst("Lava", records))
	})

	t.Run("empty snapshot makes everything first", func(t *testing.T) {
		assert.True(t, ScanIsFirst("Steam", map[Key]Record{}))
	})
}

// TestTracker_MatchesScan cross-checks the count index against the
// linear scan on every result name in the fixture.
func TestTracker_MatchesScan(t *testing.T) {
	records := discoveryFixture()
	tracker := NewTracker()
	tracker.Rebuild(records)

	for _, name := range []string{"Steam", "steam", "Mud", "Lava", "Stone", "Cloud", "Dragon", "mud"} {
		assert.Equal(t, ScanIsFirst(name, records), tracker.IsFirst(name),
			"tracker and scan disagree on %q", name)
	}
}

// TestTracker_ObserveForget verifies live-count maintenance.
func TestTracker_ObserveForget(t *testing.T) {
	tracker := NewTracker()

	assert.True(t, tracker.IsFirst("Steam"))

	tracker.Observe("Steam")
	assert.False(t, tracker.IsFirst("Steam"))
	assert.False(t, tracker.IsFirst("steam"))

	// A second producer of the same name keeps it non-first after one
	// of them is forgotten.
	tracker.Observe("STEAM")
	tracker.Forget("Steam")
	assert.False(t, tracker.IsFirst("Steam"))

	// Forgetting the last occurrence makes the name discoverable again.
	tracker.Forget("steam")
	assert.True(t, tracker.IsFirst("Steam"))

	// Forget on an unknown name is harmless.
	tracker.Forget("Ghost")
	assert.True(t, tracker.IsFirst("Ghost"))
}

// TestTracker_DistinctResults verifies the distinct-name count used by
// store stats.
func TestTracker_DistinctResults(t *testing.T) {
	tracker := NewTracker()
	tracker.Rebuild(discoveryFixture())
	assert.Equal(t, 5, tracker.DistinctResults())

	for i := 0; i < 3; i++ {
		tracker.Observe(fmt.Sprintf("Steam-%d", i))
	}
	assert.Equal(t, 8, tracker.DistinctResults())
}
