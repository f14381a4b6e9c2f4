// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package endpointmap

import (
	"context"
	"testing"

	"github.com/routefabric/routefabric/coordination"
	"github.com/routefabric/routefabric/fabrictypes"
)

func TestMapThenGetMaps(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	store := coordination.NewClient(backend, []byte("10.0.0.1:7000"))
	m := New(store, nil)

	addr := fabrictypes.PhysicalAddress("10.0.0.1:7000")
	if err := m.Map(ctx, "A", addr); err != nil {
		t.Fatalf("Map: %v", err)
	}

	addrs, err := m.GetMaps(ctx, "A")
	if err != nil {
		t.Fatalf("GetMaps: %v", err)
	}
	if len(addrs) != 1 || addrs[0].String() != addr.String() {
		t.Fatalf("GetMaps = %v, want [%v]", addrs, addr)
	}
}

func TestMapIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	store := coordination.NewClient(backend, []byte("10.0.0.1:7000"))
	m := New(store, nil)

	addr := fabrictypes.PhysicalAddress("10.0.0.1:7000")
	if err := m.Map(ctx, "A", addr); err != nil {
		t.Fatalf("Map #1: %v", err)
	}
	if err := m.Map(ctx, "A", addr); err != nil {
		t.Fatalf("Map #2 (idempotent) failed: %v", err)
	}

	addrs, err := m.GetMaps(ctx, "A")
	if err != nil {
		t.Fatalf("GetMaps: %v", err)
	}
	if len(addrs) != 1 {
		t.Fatalf("GetMaps = %v, want exactly 1 entry after repeated Map", addrs)
	}
}

func TestMultipleSessionsReplicateEndpoint(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	store1 := coordination.NewClient(backend, []byte("host1:7000"))
	store2 := coordination.NewClient(backend, []byte("host2:7000"))

	m1 := New(store1, nil)
	m2 := New(store2, nil)

	if err := m1.Map(ctx, "B", fabrictypes.PhysicalAddress("host1:7000")); err != nil {
		t.Fatalf("map from session 1: %v", err)
	}
	if err := m2.Map(ctx, "B", fabrictypes.PhysicalAddress("host2:7000")); err != nil {
		t.Fatalf("map from session 2: %v", err)
	}

	addrs, err := m1.GetMaps(ctx, "B")
	if err != nil {
		t.Fatalf("GetMaps: %v", err)
	}
	if len(addrs) != 2 {
		t.Fatalf("GetMaps = %v, want 2 replicas", addrs)
	}
}

func TestUnmapRemovesAddress(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	store := coordination.NewClient(backend, []byte("addr"))
	m := New(store, nil)

	addr := fabrictypes.PhysicalAddress("addr")
	if err := m.Map(ctx, "A", addr); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := m.Unmap(ctx, "A", addr); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	addrs, err := m.GetMaps(ctx, "A")
	if err != nil {
		t.Fatalf("GetMaps: %v", err)
	}
	if len(addrs) != 0 {
		t.Fatalf("GetMaps after Unmap = %v, want empty", addrs)
	}
}

func TestUnmapMissingIsNotAnError(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	store := coordination.NewClient(backend, nil)
	m := New(store, nil)

	if err := m.Unmap(ctx, "nope", fabrictypes.PhysicalAddress("x")); err != nil {
		t.Fatalf("Unmap of missing entry should not error, got %v", err)
	}
}

func TestUnmapAllClearsEveryReplica(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	store1 := coordination.NewClient(backend, []byte("host1"))
	store2 := coordination.NewClient(backend, []byte("host2"))
	m1 := New(store1, nil)

	if err := m1.Map(ctx, "C", fabrictypes.PhysicalAddress("host1")); err != nil {
		t.Fatalf("map 1: %v", err)
	}
	if err := New(store2, nil).Map(ctx, "C", fabrictypes.PhysicalAddress("host2")); err != nil {
		t.Fatalf("map 2: %v", err)
	}
	if err := m1.UnmapAll(ctx, "C"); err != nil {
		t.Fatalf("UnmapAll: %v", err)
	}
	addrs, err := m1.GetMaps(ctx, "C")
	if err != nil {
		t.Fatalf("GetMaps: %v", err)
	}
	if len(addrs) != 0 {
		t.Fatalf("GetMaps after UnmapAll = %v, want empty", addrs)
	}
}
