// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AlchemyLocal/services/forge/combination"
)

// keyPrefix namespaces combination entries inside the database so the
// gateway can share a DB with other forge state later.
var keyPrefix = []byte("combo:")

// sessionSep separates the session namespace from the pair key in the
// encoded storage key. NUL cannot appear in either component's useful
// range, so the encoding is unambiguous. Default-session entries are
// written without a session component, which keeps the on-disk format
// compatible with databases written before sessions existed.
const sessionSep = byte(0x00)

// Gateway is the combination.Gateway implementation backed by BadgerDB.
// It replaces the durable snapshot wholesale on every Save, mirroring
// the store's snapshot persistence contract.
type Gateway struct {
	db *DB
}

// NewGateway wraps an open database. The gateway does not own the DB;
// the caller closes it.
func NewGateway(db *DB) *Gateway {
	return &Gateway{db: db}
}

// Load reads every persisted combination record. Corrupt entries are
// logged and skipped rather than failing the whole load: the store
// treats a partial snapshot the same as a fresh start for the missing
// keys. Records persisted before sessions existed decode with an empty
// SessionID; migration is the store's job.
func (g *Gateway) Load(ctx context.Context) (map[combination.Key]combination.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := make(map[combination.Key]combination.Record)
	skipped := 0

	err := g.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(keyPrefix); it.Next() {
			item := it.Item()
			key, ok := decodeKey(item.KeyCopy(nil))
			if !ok {
				skipped++
				continue
			}
			err := item.Value(func(val []byte) error {
				var rec combination.Record
				if err := json.Unmarshal(val, &rec); err != nil {
					slog.Warn("skipping corrupt combination entry", "key", key.String(), "error", err)
					skipped++
					return nil
				}
				records[key] = rec
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load combinations: %w", err)
	}

	if skipped > 0 {
		slog.Warn("combination load skipped entries", "skipped", skipped, "loaded", len(records))
	}
	return records, nil
}

// Save replaces the durable snapshot with the given records: entries
// absent from the snapshot are deleted, everything else is rewritten.
func (g *Gateway) Save(ctx context.Context, records map[combination.Key]combination.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	keep := make(map[string][]byte, len(records))
	for key, rec := range records {
		encoded, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode combination %s: %w", key.String(), err)
		}
		keep[string(encodeKey(key))] = encoded
	}

	err := g.db.Update(func(txn *badger.Txn) error {
		// Collect stale keys first; deleting while iterating is unsafe.
		var stale [][]byte
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		for it.Rewind(); it.ValidForPrefix(keyPrefix); it.Next() {
			k := it.Item().KeyCopy(nil)
			if _, ok := keep[string(k)]; !ok {
				stale = append(stale, k)
			}
		}
		it.Close()

		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for k, v := range keep {
			if err := txn.Set([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save combinations: %w", err)
	}
	return nil
}

// encodeKey renders a composite key as a storage key. Default-session
// keys use the legacy unprefixed layout.
func encodeKey(key combination.Key) []byte {
	out := make([]byte, 0, len(keyPrefix)+len(key.Session)+1+len(key.Pair))
	out = append(out, keyPrefix...)
	if key.Session != combination.DefaultSession {
		out = append(out, key.Session...)
		out = append(out, sessionSep)
	}
	out = append(out, key.Pair...)
	return out
}

// decodeKey parses a storage key back into a composite key. A key
// without a session separator belongs to the default session.
func decodeKey(raw []byte) (combination.Key, bool) {
	if !bytes.HasPrefix(raw, keyPrefix) {
		return combination.Key{}, false
	}
	rest := raw[len(keyPrefix):]
	if len(rest) == 0 {
		return combination.Key{}, false
	}
	if i := bytes.IndexByte(rest, sessionSep); i >= 0 {
		session, pair := string(rest[:i]), string(rest[i+1:])
		if session == "" || pair == "" {
			return combination.Key{}, false
		}
		return combination.Key{Session: session, Pair: pair}, true
	}
	return combination.Key{Session: combination.DefaultSession, Pair: string(rest)}, true
}

var _ combination.Gateway = (*Gateway)(nil)
