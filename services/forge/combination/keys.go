// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package combination implements the combination store for the forge
// service: the authoritative record of which item pairs have been
// combined, which results were first-ever discoveries, and the change
// broadcaster that fans events out to live observers.
//
// The store is the only component that mutates shared state. The
// discovery tracker and the broadcaster receive read-only snapshots or
// event payloads; the persistence gateway is an injected interface and
// carries no business logic.
package combination

import "strings"

// DefaultSession is the session namespace for records created without an
// explicit session ID, and for records persisted before sessions existed.
const DefaultSession = "default"

// pairSeparator joins the two sorted item names into a pair key. Item
// names may themselves contain this character; the composite Key type
// keeps the session namespace out of the pair string so the separator
// never needs to be escaped.
const pairSeparator = "+"

// MakePair returns the canonical, order-independent pair key for two
// item names. The names are sorted lexicographically before joining, so
// MakePair(a, b) == MakePair(b, a) for all a, b. Case is preserved.
//
// The codec performs no trimming; normalizing whitespace is the
// caller's decision.
func MakePair(first, second string) string {
	if second < first {
		first, second = second, first
	}
	return first + pairSeparator + second
}

// Key identifies one stored combination: the canonical pair key plus
// the session namespace it was recorded under.
//
// Two Keys are equal iff both fields are equal, which is exactly the
// comparison Go gives struct map keys. Session is never empty; use
// NewKey to get the default-session normalization.
type Key struct {
	Session string
	Pair    string
}

// NewKey builds the session-qualified key for an item pair. An empty
// session maps to DefaultSession so pre-session records and callers
// that never opted into sessions share one namespace.
func NewKey(session, first, second string) Key {
	return Key{Session: normalizeSession(session), Pair: MakePair(first, second)}
}

// String renders the key for logs. Not a storage encoding.
func (k Key) String() string {
	return k.Session + "/" + k.Pair
}

func normalizeSession(session string) string {
	if strings.TrimSpace(session) == "" {
		return DefaultSession
	}
	return session
}
