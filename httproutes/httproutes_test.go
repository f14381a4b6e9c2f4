// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httproutes

import (
	"context"
	"errors"
	"testing"

	"github.com/routefabric/routefabric/coordination"
	"github.com/routefabric/routefabric/fabrictypes"
	"github.com/routefabric/routefabric/ferrors"
)

func TestAddThenResolve(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	store := coordination.NewClient(backend, []byte("10.0.0.1:7000"))
	r := New(store, nil)

	if err := r.Add(ctx, "/api/orders", "orders"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	endpoint, ok, err := r.ResolveEndpoint(ctx, "/api/orders")
	if err != nil {
		t.Fatalf("ResolveEndpoint: %v", err)
	}
	if !ok || endpoint != "orders" {
		t.Fatalf("ResolveEndpoint = (%q, %t), want (orders, true)", endpoint, ok)
	}
}

func TestEarliestCreatedWins(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	store1 := coordination.NewClient(backend, []byte("host1:7000"))
	store2 := coordination.NewClient(backend, []byte("host2:7000"))

	if err := New(store1, nil).Add(ctx, "/api/v1", "first"); err != nil {
		t.Fatalf("Add first: %v", err)
	}
	if err := New(store2, nil).Add(ctx, "/api/v1", "shadow"); err != nil {
		t.Fatalf("Add shadow: %v", err)
	}

	r := New(store1, nil)
	endpoints, err := r.GetEndpoints(ctx, "/api/v1")
	if err != nil {
		t.Fatalf("GetEndpoints: %v", err)
	}
	if len(endpoints) != 2 {
		t.Fatalf("GetEndpoints = %v, want 2 endpoints", endpoints)
	}
	if endpoints[0] != "first" {
		t.Fatalf("dispatch winner = %q, want the earlier registration to win", endpoints[0])
	}
}

func TestAddRejectsInvalidPrefixes(t *testing.T) {
	ctx := context.Background()
	store := coordination.NewClient(coordination.NewBackend(), []byte("10.0.0.1:7000"))
	r := New(store, nil)

	cases := []struct {
		name   string
		prefix string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"reserved", "_internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := r.Add(ctx, tc.prefix, "orders")
			if !errors.Is(err, ferrors.ErrArgumentInvalid) {
				t.Fatalf("Add(%q) = %v, want ErrArgumentInvalid", tc.prefix, err)
			}
		})
	}
}

func TestGetEndpointsBoundaries(t *testing.T) {
	ctx := context.Background()
	store := coordination.NewClient(coordination.NewBackend(), []byte("10.0.0.1:7000"))
	r := New(store, nil)

	if _, err := r.GetEndpoints(ctx, "  "); !errors.Is(err, ferrors.ErrArgumentInvalid) {
		t.Fatalf("GetEndpoints(whitespace) = %v, want ErrArgumentInvalid", err)
	}

	// Reserved prefixes read as empty, not as an error.
	endpoints, err := r.GetEndpoints(ctx, "_internal")
	if err != nil {
		t.Fatalf("GetEndpoints(reserved): %v", err)
	}
	if len(endpoints) != 0 {
		t.Fatalf("GetEndpoints(reserved) = %v, want empty", endpoints)
	}
}

func TestRemoveDeletesOwnBinding(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	store := coordination.NewClient(backend, []byte("10.0.0.1:7000"))
	r := New(store, nil)

	if err := r.Add(ctx, "/api/orders", "orders"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Remove(ctx, "/api/orders", "orders"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, err := r.ResolveEndpoint(ctx, "/api/orders"); err != nil || ok {
		t.Fatalf("ResolveEndpoint after Remove = ok=%t err=%v, want no binding", ok, err)
	}

	// Removing again is not an error.
	if err := r.Remove(ctx, "/api/orders", "orders"); err != nil {
		t.Fatalf("Remove (already gone): %v", err)
	}
}

func TestSessionCrashClearsBindings(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	crashing := coordination.NewClient(backend, []byte("host1:7000"))
	surviving := coordination.NewClient(backend, []byte("host2:7000"))

	if err := New(crashing, nil).Add(ctx, "/api/orders", "orders"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := crashing.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	endpoints, err := New(surviving, nil).GetEndpoints(ctx, "/api/orders")
	if err != nil {
		t.Fatalf("GetEndpoints: %v", err)
	}
	if len(endpoints) != 0 {
		t.Fatalf("GetEndpoints after crash = %v, want empty", endpoints)
	}
}

func TestAddIdempotent(t *testing.T) {
	ctx := context.Background()
	store := coordination.NewClient(coordination.NewBackend(), []byte("10.0.0.1:7000"))
	r := New(store, nil)

	if err := r.Add(ctx, "/api/orders", "orders"); err != nil {
		t.Fatalf("Add #1: %v", err)
	}
	if err := r.Add(ctx, "/api/orders", "orders"); err != nil {
		t.Fatalf("Add #2 (idempotent) failed: %v", err)
	}

	endpoints, err := r.GetEndpoints(ctx, "/api/orders")
	if err != nil {
		t.Fatalf("GetEndpoints: %v", err)
	}
	if len(endpoints) != 1 {
		t.Fatalf("GetEndpoints = %v, want exactly 1 after repeated Add", endpoints)
	}
}

func TestResolveEndpointReturnsEndpointWithSpecialCharacters(t *testing.T) {
	ctx := context.Background()
	store := coordination.NewClient(coordination.NewBackend(), []byte("10.0.0.1:7000"))
	r := New(store, nil)

	// Endpoint names containing the codec's special characters come back
	// unchanged from ResolveEndpoint (Add stores the raw endpoint as the
	// entry value).
	endpoint := fabrictypes.EndpointAddress("svc/orders-v2")
	if err := r.Add(ctx, "/api/orders", endpoint); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, ok, err := r.ResolveEndpoint(ctx, "/api/orders")
	if err != nil || !ok {
		t.Fatalf("ResolveEndpoint = ok=%t err=%v", ok, err)
	}
	if got != endpoint {
		t.Fatalf("ResolveEndpoint = %q, want %q", got, endpoint)
	}
}
