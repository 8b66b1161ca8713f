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
	"errors"
	"fmt"
	"time"
)

// Record is the immutable outcome of one recorded pairing.
//
// A Record is created exactly once by a successful Add and never
// mutated afterward. FirstDiscovery is fixed at creation time: true iff
// no record existing at that instant, in any session, had a
// case-insensitively equal Result. It is never recomputed when later
// records are added or removed.
type Record struct {
	// First and Second are the combined item names as supplied by the
	// caller (case preserved). First <= Second is not guaranteed here;
	// ordering is the key codec's concern, not the record's.
	First  string `json:"first"`
	Second string `json:"second"`

	// Result is the produced item name. Required, non-empty.
	Result string `json:"result"`

	// Emoji is the display glyph for the result. Purely cosmetic.
	Emoji string `json:"emoji"`

	// SessionID is the session the record was created under.
	// DefaultSession when sessions are not in use.
	SessionID string `json:"sessionId"`

	// FirstDiscovery reports whether this record was the first-ever
	// appearance of Result across the whole store.
	FirstDiscovery bool `json:"wasFirstDiscovery"`

	// DiscoveredAt is the creation timestamp. Set once, never mutated.
	DiscoveredAt time.Time `json:"discoveredAt"`
}

// Key returns the session-qualified key this record is stored under.
func (r Record) Key() Key {
	return NewKey(r.SessionID, r.First, r.Second)
}

// ErrNotFound reports that no record exists for the requested key.
var ErrNotFound = errors.New("combination not found")

// ValidationError reports a missing or empty required field on Add.
// No state change occurs when Add returns one.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("combination: required field %q is missing or empty", e.Field)
}

// PersistenceError wraps a failed durable save or load. Saves are
// best-effort: the in-memory mutation that triggered the save is never
// rolled back, so Add and Delete surface this as a warning rather than
// a failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
