// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coordination

import "context"

// Store is the narrow contract the routing and registry layers use against
// the external coordination service (spec §6.1). A Store value represents
// one live client connection and therefore one Session; ephemeral entries
// created through it die when that session ends (spec I3).
//
// Thread Safety: Implementations must be safe for concurrent use by
// multiple goroutines within the same process.
type Store interface {
	// Create creates path with value and mode. Returns an error wrapping
	// ferrors.ErrDuplicateEntry if path already exists.
	Create(ctx context.Context, path string, value []byte, mode Mode) (*Entry, error)

	// GetOrCreate creates path with value and mode if absent, or returns the
	// existing entry unchanged. Never returns ErrDuplicateEntry.
	GetOrCreate(ctx context.Context, path string, value []byte, mode Mode) (*Entry, error)

	// Get returns the entry at path, or (nil, nil) if it does not exist.
	Get(ctx context.Context, path string) (*Entry, error)

	// SetValue overwrites path's value. If expectedVersion is not
	// AnyVersion, the write only applies when the entry's current version
	// matches. Returns the entry's version prior to this write, or an error
	// wrapping ferrors.ErrEntryNotFound if path does not exist.
	SetValue(ctx context.Context, path string, value []byte, expectedVersion int64) (priorVersion int64, err error)

	// Delete removes path. If expectedVersion is not AnyVersion, the delete
	// only applies when versions match. If recursive is true, all
	// descendants are removed too. Returns an error wrapping
	// ferrors.ErrEntryNotFound if path does not exist; callers performing
	// cleanup treat that as success (spec §7).
	Delete(ctx context.Context, path string, expectedVersion int64, recursive bool) (priorVersion int64, err error)

	// Children lists the immediate, escaped child segment names under path.
	Children(ctx context.Context, path string) ([]string, error)

	// Session returns this connection's Session, obtaining and caching it
	// on first use (spec §4.2).
	Session(ctx context.Context) (Session, error)

	// Close releases this connection. Depending on the backend, Close may
	// end the session immediately (triggering I3 cleanup) or only after a
	// grace period governed by the backend's lease semantics.
	Close() error
}
