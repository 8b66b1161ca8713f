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

import "strings"

// ScanIsFirst reports whether no record in the snapshot produced the
// given result, comparing case-insensitively. This is the defining
// contract for first discovery: global across all sessions, O(n) over
// the snapshot. A result discovered under any session forecloses
// first-discovery status for that name under every other session.
//
// Pure function. The store calls it on load to seed the Tracker; the
// Tracker's count index answers the same question in O(1) afterward.
func ScanIsFirst(result string, records map[Key]Record) bool {
	folded := foldResult(result)
	for _, rec := range records {
		if foldResult(rec.Result) == folded {
			return false
		}
	}
	return true
}

// Tracker maintains a case-folded result-name index so the store can
// answer first-discovery checks without rescanning every record on each
// insert. The index is a pure optimization: Rebuild derives it from a
// snapshot, and tests cross-check it against ScanIsFirst.
//
// Not safe for concurrent use on its own. The Tracker is owned by the
// Store and only touched under the store's lock.
type Tracker struct {
	counts map[string]int
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{counts: make(map[string]int)}
}

// Rebuild replaces the index with counts derived from the snapshot.
func (t *Tracker) Rebuild(records map[Key]Record) {
	t.counts = make(map[string]int, len(records))
	for _, rec := range records {
		t.counts[foldResult(rec.Result)]++
	}
}

// IsFirst reports whether the result name has never been produced by
// any live record, in any session.
func (t *Tracker) IsFirst(result string) bool {
	return t.counts[foldResult(result)] == 0
}

// Observe records one more live occurrence of the result name.
func (t *Tracker) Observe(result string) {
	t.counts[foldResult(result)]++
}

// Forget drops one live occurrence of the result name. When the last
// occurrence is forgotten the name becomes discoverable again: a later
// insert producing it is correctly awarded first discovery, because
// discovery is computed from current store contents, not cached outside
// the store.
func (t *Tracker) Forget(result string) {
	folded := foldResult(result)
	switch n := t.counts[folded]; {
	case n <= 1:
		delete(t.counts, folded)
	default:
		t.counts[folded] = n - 1
	}
}

// DistinctResults returns the number of distinct (case-folded) result
// names with at least one live record.
func (t *Tracker) DistinctResults() int {
	return len(t.counts)
}

func foldResult(result string) string {
	return strings.ToLower(result)
}
