// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package coordination defines the contract for the external, hierarchical,
// versioned, session-aware coordination service (spec §6.1) and provides two
// reference backends: an in-memory Store for tests, and a Badger-backed
// Store for durable single-node/dev deployments (SPEC_FULL §4.10).
//
// The core never mints sessions; a Store value represents one already-open
// client connection to the coordination service, and every ephemeral entry
// it creates is implicitly tied to that connection's Session (spec §4.2,
// §3 "Session").
package coordination

import "time"

// Mode selects whether an entry survives its creating Store's session.
type Mode int

const (
	// ModeDefault entries persist independently of any session.
	ModeDefault Mode = iota
	// ModeEphemeral entries are deleted when their creating session ends.
	ModeEphemeral
)

func (m Mode) String() string {
	if m == ModeEphemeral {
		return "Ephemeral"
	}
	return "Default"
}

// AnyVersion disables the optimistic-concurrency check on SetValue/Delete.
const AnyVersion int64 = -1

// Entry is a single coordination-tree node (spec §3 "CoordinationEntry").
type Entry struct {
	Path          string
	Value         []byte
	Version       int64
	Mode          Mode
	CreationTime  time.Time
	LastWriteTime time.Time
	// Children holds the immediate, still-escaped child segment names.
	Children []string
}
