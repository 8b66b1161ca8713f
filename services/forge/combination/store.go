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
	"log/slog"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultSaveTimeout bounds every call into the persistence gateway so
// a failing backend degrades to in-memory-only operation instead of
// blocking future mutations.
const DefaultSaveTimeout = 10 * time.Second

// Store is the authoritative mapping from session-qualified pair keys
// to combination records.
//
// # Concurrency
//
// A single RWMutex serializes all mutations; reads proceed concurrently
// and never observe a partially applied write. The check-for-existing,
// discovery computation, and insert in Add happen under one critical
// section, so two concurrent Adds for the same key cannot both insert,
// and a result name is never awarded first discovery twice.
//
// Calls into the persistence gateway and the broadcaster happen outside
// the mutation lock. Saves are serialized separately and always snapshot
// the latest state, so a slow save cannot publish a stale snapshot over
// a newer one.
type Store struct {
	mu      sync.RWMutex
	records map[Key]Record
	tracker *Tracker

	gateway     Gateway
	broadcaster *Broadcaster

	// saveMu serializes gateway saves so concurrent mutations cannot
	// interleave an older snapshot after a newer one.
	saveMu      sync.Mutex
	saveTimeout time.Duration

	now func() time.Time // test seam
}

// AddInput carries the required fields for recording a combination.
type AddInput struct {
	First     string
	Second    string
	Result    string
	Emoji     string
	SessionID string
}

// AddOutcome reports what one Add call did, beyond the record itself.
// FirstDiscovery here is transient: it is true only when this
// particular call created the record and that record was a first-ever
// discovery. Returning a pre-existing record always yields false, even
// if the stored record has FirstDiscovery set.
type AddOutcome struct {
	Created        bool
	FirstDiscovery bool

	// Warning is non-nil when the durable save failed. The in-memory
	// insert already applied and is not rolled back.
	Warning error
}

// Stats is the read-only aggregate view of the store.
type Stats struct {
	TotalCombinations int            `json:"totalCombinations"`
	FirstDiscoveries  int            `json:"firstDiscoveries"`
	DistinctResults   int            `json:"distinctResults"`
	Sessions          map[string]int `json:"sessions"`
}

// NewStore creates an empty store backed by the given gateway and
// broadcaster. A nil gateway persists nothing; a nil broadcaster
// notifies nobody. Call Load before serving traffic.
func NewStore(gateway Gateway, broadcaster *Broadcaster) *Store {
	if gateway == nil {
		gateway = NopGateway{}
	}
	return &Store{
		records:     make(map[Key]Record),
		tracker:     NewTracker(),
		gateway:     gateway,
		broadcaster: broadcaster,
		saveTimeout: DefaultSaveTimeout,
		now:         time.Now,
	}
}

// Load replaces the in-memory state with the gateway's snapshot and
// rebuilds the discovery index.
//
// Records persisted before sessions existed carry an empty SessionID;
// they are migrated to DefaultSession and, when any migration happened,
// the snapshot is re-saved once so the durable copy is current. A
// failed re-save is logged and ignored, same as any other save.
func (s *Store) Load(ctx context.Context) error {
	loaded, err := s.gateway.Load(ctx)
	if err != nil {
		return &PersistenceError{Op: "load", Err: err}
	}

	migrated := 0
	records := make(map[Key]Record, len(loaded))
	for key, rec := range loaded {
		if rec.SessionID == "" {
			rec.SessionID = DefaultSession
			migrated++
		}
		if key.Session == "" {
			key.Session = DefaultSession
		}
		records[key] = rec
	}

	s.mu.Lock()
	s.records = records
	s.tracker.Rebuild(records)
	s.mu.Unlock()

	slog.Info("combination store loaded", "records", len(records), "migrated", migrated)

	if migrated > 0 {
		if warn := s.persist(ctx, "migrate"); warn != nil {
			slog.Warn("legacy session migration re-save failed", "error", warn)
		}
	}
	return nil
}

// Get looks up the record for an item pair. The session-qualified key
// is checked first; on a miss with a non-default session, the
// default-session key is consulted only when that record's own
// SessionID matches the requested session (legacy records keyed before
// namespacing existed). Another session's discovery never leaks.
//
// Never mutates state and never affects discovery bookkeeping.
func (s *Store) Get(first, second, session string) (Record, bool) {
	key := NewKey(session, first, second)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.records[key]; ok {
		return rec, true
	}
	if key.Session != DefaultSession {
		legacy := Key{Session: DefaultSession, Pair: key.Pair}
		if rec, ok := s.records[legacy]; ok && rec.SessionID == key.Session {
			return rec, true
		}
	}
	return Record{}, false
}

// Add records a combination. If the key already holds a record, that
// record is returned unchanged with Created and FirstDiscovery false.
// Otherwise the record is inserted with FirstDiscovery computed against
// the entire store at this instant, a durable save is requested, and
// combination_added (plus first_discovery when applicable, in that
// order) is broadcast.
//
// Validation failures return a *ValidationError and change nothing.
// Save failures surface in AddOutcome.Warning, never as the returned
// error.
func (s *Store) Add(ctx context.Context, in AddInput) (Record, AddOutcome, error) {
	if err := validateAdd(in); err != nil {
		return Record{}, AddOutcome{}, err
	}

	key := NewKey(in.SessionID, in.First, in.Second)

	s.mu.Lock()
	if existing, ok := s.records[key]; ok {
		s.mu.Unlock()
		return existing, AddOutcome{}, nil
	}

	first := s.tracker.IsFirst(in.Result)
	rec := Record{
		First:          in.First,
		Second:         in.Second,
		Result:         in.Result,
		Emoji:          in.Emoji,
		SessionID:      key.Session,
		FirstDiscovery: first,
		DiscoveredAt:   s.now().UTC(),
	}
	s.records[key] = rec
	s.tracker.Observe(in.Result)
	s.mu.Unlock()

	outcome := AddOutcome{
		Created:        true,
		FirstDiscovery: first,
		Warning:        s.persist(ctx, "save"),
	}

	s.publish(EventCombinationAdded, rec)
	if first {
		s.publish(EventFirstDiscovery, rec)
	}
	return rec, outcome, nil
}

// All returns every record, across all sessions when session is empty,
// otherwise only records whose SessionID matches. Ordered by discovery
// time for stable output.
func (s *Store) All(session string) []Record {
	return s.collect(func(rec Record) bool {
		return session == "" || rec.SessionID == session
	})
}

// FirstDiscoveries returns the subset of All whose records were first
// discoveries, with the same session-filtering semantics.
func (s *Store) FirstDiscoveries(session string) []Record {
	return s.collect(func(rec Record) bool {
		return rec.FirstDiscovery && (session == "" || rec.SessionID == session)
	})
}

// WouldBeFirstDiscovery reports whether recording the given result now
// would count as a first discovery. Pure read against current global
// state; discovery is always evaluated across every session.
func (s *Store) WouldBeFirstDiscovery(result string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracker.IsFirst(result)
}

// Delete removes the record at the key if present and reports whether
// anything was removed. On removal it requests a save (failure comes
// back as the warning error) and broadcasts combination_deleted. No
// other record's FirstDiscovery is recomputed.
func (s *Store) Delete(ctx context.Context, key Key) (bool, error) {
	if key.Session == "" {
		key.Session = DefaultSession
	}

	s.mu.Lock()
	rec, ok := s.records[key]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.records, key)
	s.tracker.Forget(rec.Result)
	s.mu.Unlock()

	warn := s.persist(ctx, "save")
	s.publish(EventCombinationDeleted, rec)
	return true, warn
}

// Reset clears the whole store, saves the empty snapshot, and
// broadcasts store_reset. Returns the number of records removed and a
// save warning, if any.
func (s *Store) Reset(ctx context.Context) (int, error) {
	s.mu.Lock()
	removed := len(s.records)
	s.records = make(map[Key]Record)
	s.tracker.Rebuild(s.records)
	s.mu.Unlock()

	warn := s.persist(ctx, "save")
	s.publish(EventStoreReset, map[string]int{"removed": removed})
	slog.Info("combination store reset", "removed", removed)
	return removed, warn
}

// Stats returns read-only aggregates: totals, first-discovery count,
// distinct result names, and per-session record counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		TotalCombinations: len(s.records),
		DistinctResults:   s.tracker.DistinctResults(),
		Sessions:          make(map[string]int),
	}
	for _, rec := range s.records {
		stats.Sessions[rec.SessionID]++
		if rec.FirstDiscovery {
			stats.FirstDiscoveries++
		}
	}
	return stats
}

// Snapshot returns a private copy of the full record map. For the
// persistence gateway and tests; callers own the copy.
func (s *Store) Snapshot() map[Key]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make(map[Key]Record, len(s.records))
	maps.Copy(snapshot, s.records)
	return snapshot
}

func (s *Store) collect(keep func(Record) bool) []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].DiscoveredAt.Before(out[j].DiscoveredAt)
		}
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}

// persist snapshots current state and hands it to the gateway. Always
// returns a *PersistenceError (or nil); callers decide whether it is a
// warning or a hard failure.
func (s *Store) persist(ctx context.Context, op string) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	snapshot := s.Snapshot()

	ctx, cancel := context.WithTimeout(ctx, s.saveTimeout)
	defer cancel()

	if err := s.gateway.Save(ctx, snapshot); err != nil {
		perr := &PersistenceError{Op: op, Err: err}
		slog.Warn("durable save failed, continuing in-memory", "op", op, "error", err)
		return perr
	}
	return nil
}

func (s *Store) publish(eventType EventType, data any) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(Event{Type: eventType, Data: data})
}

func validateAdd(in AddInput) error {
	for _, f := range []struct {
		name  string
		value string
	}{
		{"first", in.First},
		{"second", in.Second},
		{"result", in.Result},
		{"emoji", in.Emoji},
	} {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.name}
		}
	}
	return nil
}
