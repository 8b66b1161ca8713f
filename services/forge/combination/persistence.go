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

import "context"

// Gateway is the persistence boundary the store depends on. It moves
// whole snapshots: Load returns everything that was durably recorded,
// Save replaces the durable copy with the given snapshot.
//
// Implementations hold no business logic. The store tolerates Load
// returning an empty snapshot (fresh start, missing file, corruption
// handled by the gateway) and treats Save failures as recoverable:
// availability wins over durability, and a failed save never rolls back
// an already-applied in-memory mutation.
type Gateway interface {
	// Load reads the full persisted snapshot. Records persisted before
	// sessions existed may come back with an empty SessionID; the store
	// migrates them to DefaultSession.
	Load(ctx context.Context) (map[Key]Record, error)

	// Save durably replaces the snapshot. The map must be treated as
	// read-only; the store hands over a private copy.
	Save(ctx context.Context, records map[Key]Record) error
}

// NopGateway is a Gateway that persists nothing. Used when the service
// runs without a data directory, and in tests.
type NopGateway struct{}

func (NopGateway) Load(ctx context.Context) (map[Key]Record, error) {
	return nil, nil
}

func (NopGateway) Save(ctx context.Context, records map[Key]Record) error {
	return nil
}

var _ Gateway = NopGateway{}
