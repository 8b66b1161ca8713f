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
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingGateway counts saves and can be primed with load data or
// forced to fail, standing in for a real persistence backend.
type recordingGateway struct {
	mu       sync.Mutex
	saves    int
	last     map[Key]Record
	loadData map[Key]Record
	loadErr  error
	saveErr  error
}

func (g *recordingGateway) Load(ctx context.Context) (map[Key]Record, error) {
	return g.loadData, g.loadErr
}

func (g *recordingGateway) Save(ctx context.Context, records map[Key]Record) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.saveErr != nil {
		return g.saveErr
	}
	g.saves++
	g.last = records
	return nil
}

func (g *recordingGateway) saveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.saves
}

func steamInput(session string) AddInput {
	return AddInput{First: "Fire", Second: "Water", Result: "Steam", Emoji: "💨", SessionID: session}
}

// TestStore_AddAndGet verifies the basic record/lookup round trip.
func TestStore_AddAndGet(t *testing.T) {
	store := NewStore(nil, nil)
	ctx := context.Background()

	rec, outcome, err := store.Add(ctx, steamInput(""))
	require.NoError(t, err)
	assert.True(t, outcome.Created)
	assert.True(t, outcome.FirstDiscovery)
	assert.NoError(t, outcome.Warning)
	assert.Equal(t, "Steam", rec.Result)
	assert.Equal(t, "💨", rec.Emoji)
	assert.Equal(t, DefaultSession, rec.SessionID)
	assert.True(t, rec.FirstDiscovery)
	assert.False(t, rec.DiscoveredAt.IsZero())

	t.Run("lookup is order-independent", func(t *testing.T) {
		got, ok := store.Get("Water", "Fire", "")
		require.True(t, ok)
		assert.Equal(t, rec, got)
	})

	t.Run("lookup never mutates", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_, ok := store.Get("Fire", "Water", "")
			require.True(t, ok)
		}
		assert.Equal(t, 1, store.Stats().TotalCombinations)
	})

	t.Run("miss reports not found", func(t *testing.T) {
		_, ok := store.Get("Fire", "Earth", "")
		assert.False(t, ok)
	})
}

// TestStore_AddValidation verifies missing fields fail without state change.
func TestStore_AddValidation(t *testing.T) {
	store := NewStore(nil, nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		in    AddInput
		field string
	}{
		{"missing first", AddInput{Second: "Water", Result: "Steam", Emoji: "💨"}, "first"},
		{"missing second", AddInput{First: "Fire", Result: "Steam", Emoji: "💨"}, "second"},
		{"missing result", AddInput{First: "Fire", Second: "Water", Emoji: "💨"}, "result"},
		{"missing emoji", AddInput{First: "Fire", Second: "Water", Result: "Steam"}, "emoji"},
		{"whitespace only", AddInput{First: "  ", Second: "Water", Result: "Steam", Emoji: "💨"}, "first"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := store.Add(ctx, tc.in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
	assert.Equal(t, 0, store.Stats().TotalCombinations, "failed validation must not insert")
}

// TestStore_AddIsIdempotent verifies a duplicate add returns the stored
// record untouched, with no transient discovery flag.
func TestStore_AddIsIdempotent(t *testing.T) {
	store := NewStore(nil, nil)
	ctx := context.Background()

	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return created }

	first, outcome, err := store.Add(ctx, steamInput(""))
	require.NoError(t, err)
	require.True(t, outcome.Created)

	// Time moves on; a later duplicate must not refresh anything.
	store.now = func() time.Time { return created.Add(time.Hour) }

	again, outcome, err := store.Add(ctx, AddInput{
		First: "Water", Second: "Fire", // swapped order, same pair
		Result: "Obsidian", Emoji: "🪨", // different payload is ignored
	})
	require.NoError(t, err)
	assert.False(t, outcome.Created)
	assert.False(t, outcome.FirstDiscovery, "duplicate add never reports a first discovery")
	assert.Equal(t, first, again, "existing record is returned unchanged")
	assert.Equal(t, created, again.DiscoveredAt)
	assert.Equal(t, 1, store.Stats().TotalCombinations)
}

// TestStore_GlobalFirstDiscovery verifies first discovery is awarded
// once per result name, case-insensitively, across sessions.
func TestStore_GlobalFirstDiscovery(t *testing.T) {
	store := NewStore(nil, nil)
	ctx := context.Background()

	rec, outcome, err := store.Add(ctx, AddInput{First: "X", Second: "Y", Result: "Dragon", Emoji: "🐉"})
	require.NoError(t, err)
	assert.True(t, outcome.FirstDiscovery)
	assert.True(t, rec.FirstDiscovery)

	t.Run("same result different pair is not first", func(t *testing.T) {
		rec, outcome, err := store.Add(ctx, AddInput{First: "P", Second: "Q", Result: "Dragon", Emoji: "🐉"})
		require.NoError(t, err)
		assert.True(t, outcome.Created)
		assert.False(t, outcome.FirstDiscovery)
		assert.False(t, rec.FirstDiscovery)
	})

	t.Run("case variant is not first", func(t *testing.T) {
		rec, _, err := store.Add(ctx, AddInput{First: "M", Second: "N", Result: "dragon", Emoji: "🐉"})
		require.NoError(t, err)
		assert.False(t, rec.FirstDiscovery)
	})

	t.Run("discovery crosses sessions", func(t *testing.T) {
		rec, _, err := store.Add(ctx, AddInput{First: "A", Second: "B", Result: "Dragon", Emoji: "🐉", SessionID: "other-save"})
		require.NoError(t, err)
		assert.False(t, rec.FirstDiscovery, "a result discovered anywhere is never first again")
	})

	t.Run("WouldBeFirstDiscovery agrees", func(t *testing.T) {
		assert.False(t, store.WouldBeFirstDiscovery("DRAGON"))
		assert.True(t, store.WouldBeFirstDiscovery("Phoenix"))
	})
}

// TestStore_SessionIsolation verifies existence is per-session while
// discovery stays global.
func TestStore_SessionIsolation(t *testing.T) {
	store := NewStore(nil, nil)
	ctx := context.Background()

	_, _, err := store.Add(ctx, steamInput("s1"))
	require.NoError(t, err)

	t.Run("other session does not see the record", func(t *testing.T) {
		_, ok := store.Get("Fire", "Water", "s2")
		assert.False(t, ok)
	})

	t.Run("default session does not see it either", func(t *testing.T) {
		_, ok := store.Get("Fire", "Water", "")
		assert.False(t, ok)
	})

	t.Run("owning session sees it", func(t *testing.T) {
		rec, ok := store.Get("Fire", "Water", "s1")
		require.True(t, ok)
		assert.Equal(t, "s1", rec.SessionID)
	})

	t.Run("discovery status is shared", func(t *testing.T) {
		rec, _, err := store.Add(ctx, AddInput{First: "Cloud", Second: "Cloud", Result: "Steam", Emoji: "💨", SessionID: "s2"})
		require.NoError(t, err)
		assert.False(t, rec.FirstDiscovery)
	})
}

// TestStore_LegacyFallback verifies the strict cross-session fallback:
// a default-keyed record is visible to a session lookup only when its
// own SessionID matches.
func TestStore_LegacyFallback(t *testing.T) {
	// A record keyed under the default namespace (persisted before
	// session-qualified keys existed) but owned by session s1.
	legacy := Record{
		First: "Fire", Second: "Water", Result: "Steam", Emoji: "💨",
		SessionID: "s1", DiscoveredAt: time.Now().UTC(),
	}
	gateway := &recordingGateway{loadData: map[Key]Record{
		{Session: DefaultSession, Pair: MakePair("Fire", "Water")}: legacy,
	}}

	store := NewStore(gateway, nil)
	require.NoError(t, store.Load(context.Background()))

	t.Run("owning session finds it through the fallback", func(t *testing.T) {
		rec, ok := store.Get("Fire", "Water", "s1")
		require.True(t, ok)
		assert.Equal(t, "Steam", rec.Result)
	})

	t.Run("another session must not leak it", func(t *testing.T) {
		_, ok := store.Get("Fire", "Water", "s2")
		assert.False(t, ok)
	})
}

// TestStore_ConcurrentAddSamePair verifies the §4.2 atomicity contract:
// exactly one insert wins, and first discovery is awarded at most once.
func TestStore_ConcurrentAddSamePair(t *testing.T) {
	store := NewStore(nil, nil)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount, firstCount := 0, 0
	var errs []error

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, outcome, err := store.Add(ctx, steamInput(""))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if outcome.Created {
				createdCount++
			}
			if outcome.FirstDiscovery {
				firstCount++
			}
		}()
	}
	wg.Wait()
	require.Empty(t, errs)

	assert.Equal(t, 1, createdCount, "exactly one concurrent add may insert")
	assert.Equal(t, 1, firstCount, "first discovery must be awarded exactly once")
	assert.Equal(t, 1, store.Stats().TotalCombinations)
}

// TestStore_ConcurrentAddSameResult verifies no discovery double-award
// when different pairs race to produce the same result name.
func TestStore_ConcurrentAddSameResult(t *testing.T) {
	store := NewStore(nil, nil)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	firstCount := 0
	var errs []error

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, outcome, err := store.Add(ctx, AddInput{
				First:  "Fire",
				Second: string(rune('A' + n)),
				Result: "Dragon",
				Emoji:  "🐉",
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if outcome.FirstDiscovery {
				firstCount++
			}
		}(i)
	}
	wg.Wait()
	require.Empty(t, errs)

	assert.Equal(t, 1, firstCount, "one result name, one first discovery")
	assert.Equal(t, workers, store.Stats().TotalCombinations)
}

// TestStore_DeleteAndRediscovery verifies deletion semantics and that
// discovery is recomputed from live contents on re-insert.
func TestStore_DeleteAndRediscovery(t *testing.T) {
	store := NewStore(nil, nil)
	ctx := context.Background()

	rec, _, err := store.Add(ctx, steamInput(""))
	require.NoError(t, err)
	require.True(t, rec.FirstDiscovery)

	t.Run("delete removes and reports", func(t *testing.T) {
		removed, warn := store.Delete(ctx, rec.Key())
		assert.True(t, removed)
		assert.NoError(t, warn)
		_, ok := store.Get("Fire", "Water", "")
		assert.False(t, ok)
	})

	t.Run("delete of absent key reports false", func(t *testing.T) {
		removed, warn := store.Delete(ctx, rec.Key())
		assert.False(t, removed)
		assert.NoError(t, warn)
	})

	t.Run("sole producer gone means rediscovery", func(t *testing.T) {
		again, outcome, err := store.Add(ctx, AddInput{First: "Mist", Second: "Heat", Result: "Steam", Emoji: "💨"})
		require.NoError(t, err)
		assert.True(t, outcome.FirstDiscovery, "no live record produces Steam, so it is first again")
		assert.True(t, again.FirstDiscovery)
	})

	t.Run("surviving producer blocks rediscovery", func(t *testing.T) {
		// Two producers of Mud; deleting one leaves the name taken.
		a, _, err := store.Add(ctx, AddInput{First: "Earth", Second: "Water", Result: "Mud", Emoji: "🟫"})
		require.NoError(t, err)
		_, _, err = store.Add(ctx, AddInput{First: "Dust", Second: "Rain", Result: "mud", Emoji: "🟫"})
		require.NoError(t, err)

		removed, _ := store.Delete(ctx, a.Key())
		require.True(t, removed)

		rec, outcome, err := store.Add(ctx, AddInput{First: "Dirt", Second: "Flood", Result: "Mud", Emoji: "🟫"})
		require.NoError(t, err)
		assert.False(t, outcome.FirstDiscovery)
		assert.False(t, rec.FirstDiscovery)
	})
}

// TestStore_Listings verifies listAll/listFirstDiscoveries filtering and
// the subset property.
func TestStore_Listings(t *testing.T) {
	store := NewStore(nil, nil)
	ctx := context.Background()

	seed := []AddInput{
		{First: "Fire", Second: "Water", Result: "Steam", Emoji: "💨"},
		{First: "Earth", Second: "Water", Result: "Mud", Emoji: "🟫"},
		{First: "Fog", Second: "Heat", Result: "steam", Emoji: "💨", SessionID: "s1"},
		{First: "Fire", Second: "Earth", Result: "Lava", Emoji: "🌋", SessionID: "s1"},
	}
	for _, in := range seed {
		_, _, err := store.Add(ctx, in)
		require.NoError(t, err)
	}

	t.Run("all without session returns everything", func(t *testing.T) {
		assert.Len(t, store.All(""), 4)
	})

	t.Run("all with session filters", func(t *testing.T) {
		recs := store.All("s1")
		require.Len(t, recs, 2)
		for _, rec := range recs {
			assert.Equal(t, "s1", rec.SessionID)
		}
	})

	t.Run("first discoveries are exactly the flagged subset", func(t *testing.T) {
		discoveries := store.FirstDiscoveries("")
		flagged := 0
		for _, rec := range store.All("") {
			if rec.FirstDiscovery {
				flagged++
			}
		}
		assert.Len(t, discoveries, flagged)
		for _, rec := range discoveries {
			assert.True(t, rec.FirstDiscovery)
		}
		// Steam (first), Mud, Lava are firsts; the s1 "steam" is not.
		assert.Equal(t, 3, flagged)
	})

	t.Run("ordering is stable by discovery time", func(t *testing.T) {
		recs := store.All("")
		for i := 1; i < len(recs); i++ {
			assert.False(t, recs[i].DiscoveredAt.Before(recs[i-1].DiscoveredAt))
		}
	})
}

// TestStore_SaveFailureIsAWarning verifies availability wins: the
// insert stands, the caller sees a warning, not an error.
func TestStore_SaveFailureIsAWarning(t *testing.T) {
	gateway := &recordingGateway{saveErr: errors.New("disk on fire")}
	store := NewStore(gateway, nil)
	ctx := context.Background()

	rec, outcome, err := store.Add(ctx, steamInput(""))
	require.NoError(t, err, "save failure must not fail the add")
	assert.True(t, outcome.Created)

	var perr *PersistenceError
	require.ErrorAs(t, outcome.Warning, &perr)
	assert.Equal(t, "save", perr.Op)

	got, ok := store.Get("Fire", "Water", "")
	require.True(t, ok, "in-memory insert is not rolled back")
	assert.Equal(t, rec, got)

	t.Run("delete warning behaves the same", func(t *testing.T) {
		removed, warn := store.Delete(ctx, rec.Key())
		assert.True(t, removed)
		require.ErrorAs(t, warn, &perr)
		_, ok := store.Get("Fire", "Water", "")
		assert.False(t, ok, "in-memory delete applied despite save failure")
	})
}

// TestStore_LoadMigration verifies pre-session records are adopted into
// the default session and re-saved exactly once.
func TestStore_LoadMigration(t *testing.T) {
	pair := MakePair("Fire", "Water")
	gateway := &recordingGateway{loadData: map[Key]Record{
		{Session: DefaultSession, Pair: pair}: {
			First: "Fire", Second: "Water", Result: "Steam", Emoji: "💨",
			FirstDiscovery: true, DiscoveredAt: time.Now().UTC(),
			// SessionID intentionally empty: pre-session record.
		},
	}}

	store := NewStore(gateway, nil)
	require.NoError(t, store.Load(context.Background()))

	rec, ok := store.Get("Fire", "Water", "")
	require.True(t, ok)
	assert.Equal(t, DefaultSession, rec.SessionID)
	assert.Equal(t, 1, gateway.saveCount(), "migration triggers exactly one re-save")

	saved := gateway.last[Key{Session: DefaultSession, Pair: pair}]
	assert.Equal(t, DefaultSession, saved.SessionID)

	t.Run("clean load does not re-save", func(t *testing.T) {
		clean := &recordingGateway{loadData: gateway.last}
		store := NewStore(clean, nil)
		require.NoError(t, store.Load(context.Background()))
		assert.Equal(t, 0, clean.saveCount())
	})

	t.Run("empty load is a fresh start", func(t *testing.T) {
		store := NewStore(&recordingGateway{}, nil)
		require.NoError(t, store.Load(context.Background()))
		assert.Equal(t, 0, store.Stats().TotalCombinations)
	})

	t.Run("load error is a PersistenceError", func(t *testing.T) {
		store := NewStore(&recordingGateway{loadErr: errors.New("corrupt")}, nil)
		err := store.Load(context.Background())
		var perr *PersistenceError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "load", perr.Op)
	})
}

// TestStore_Reset verifies the full clear also resets discovery state.
func TestStore_Reset(t *testing.T) {
	gateway := &recordingGateway{}
	store := NewStore(gateway, nil)
	ctx := context.Background()

	_, _, err := store.Add(ctx, steamInput(""))
	require.NoError(t, err)
	_, _, err = store.Add(ctx, AddInput{First: "A", Second: "B", Result: "Mud", Emoji: "🟫", SessionID: "s1"})
	require.NoError(t, err)

	removed, warn := store.Reset(ctx)
	assert.Equal(t, 2, removed)
	assert.NoError(t, warn)
	assert.Equal(t, 0, store.Stats().TotalCombinations)
	assert.Empty(t, gateway.last)
	assert.True(t, store.WouldBeFirstDiscovery("Steam"), "reset clears discovery state")
}

// TestStore_EventOrdering verifies the per-insert causal order of
// combination_added before first_discovery, and event payloads.
func TestStore_EventOrdering(t *testing.T) {
	b := NewBroadcaster(0)
	defer b.Close()
	store := NewStore(nil, b)
	ctx := context.Background()

	sub := b.Subscribe()
	receiveEvent(t, sub) // connected

	rec, _, err := store.Add(ctx, steamInput(""))
	require.NoError(t, err)

	added := receiveEvent(t, sub)
	assert.Equal(t, EventCombinationAdded, added.Type)
	assert.Equal(t, rec, added.Data)

	discovery := receiveEvent(t, sub)
	assert.Equal(t, EventFirstDiscovery, discovery.Type)
	assert.Equal(t, rec, discovery.Data)

	t.Run("non-discovery insert emits only combination_added", func(t *testing.T) {
		_, _, err := store.Add(ctx, AddInput{First: "Fog", Second: "Sun", Result: "steam", Emoji: "💨"})
		require.NoError(t, err)
		ev := receiveEvent(t, sub)
		assert.Equal(t, EventCombinationAdded, ev.Type)

		_, _, err = store.Add(ctx, AddInput{First: "Ash", Second: "Wind", Result: "Dust", Emoji: "🌫️"})
		require.NoError(t, err)
		ev = receiveEvent(t, sub)
		assert.Equal(t, EventCombinationAdded, ev.Type, "no stray first_discovery in between")
		ev = receiveEvent(t, sub)
		assert.Equal(t, EventFirstDiscovery, ev.Type)
	})

	t.Run("delete emits combination_deleted", func(t *testing.T) {
		removed, _ := store.Delete(ctx, rec.Key())
		require.True(t, removed)
		ev := receiveEvent(t, sub)
		assert.Equal(t, EventCombinationDeleted, ev.Type)
		assert.Equal(t, rec, ev.Data)
	})
}

// TestStore_Stats verifies the aggregate view.
func TestStore_Stats(t *testing.T) {
	store := NewStore(nil, nil)
	ctx := context.Background()

	_, _, err := store.Add(ctx, steamInput(""))
	require.NoError(t, err)
	_, _, err = store.Add(ctx, AddInput{First: "Fog", Second: "Heat", Result: "steam", Emoji: "💨", SessionID: "s1"})
	require.NoError(t, err)
	_, _, err = store.Add(ctx, AddInput{First: "Fire", Second: "Earth", Result: "Lava", Emoji: "🌋", SessionID: "s1"})
	require.NoError(t, err)

	stats := store.Stats()
	assert.Equal(t, 3, stats.TotalCombinations)
	assert.Equal(t, 2, stats.FirstDiscoveries)
	assert.Equal(t, 2, stats.DistinctResults)
	assert.Equal(t, map[string]int{DefaultSession: 1, "s1": 2}, stats.Sessions)
}
