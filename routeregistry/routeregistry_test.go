// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routeregistry

import (
	"context"
	"testing"

	"github.com/routefabric/routefabric/coordination"
	"github.com/routefabric/routefabric/fabrictypes"
)

func TestAddRouteThenGetRoutes(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	store := coordination.NewClient(backend, []byte("host1"))
	r := New(store, nil)

	if err := r.AddRoute(ctx, "svc.a", "jobs", fabrictypes.Default); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}

	targets, err := r.GetRoutes(ctx, "jobs")
	if err != nil {
		t.Fatalf("GetRoutes: %v", err)
	}
	if len(targets) != 1 || targets[0].Endpoint != "svc.a" {
		t.Fatalf("GetRoutes = %+v, want one target for svc.a", targets)
	}
}

func TestRemoveRouteRestoresEmptyState(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	store := coordination.NewClient(backend, []byte("host1"))
	r := New(store, nil)

	if err := r.AddRoute(ctx, "svc.a", "jobs", fabrictypes.Default); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}
	if err := r.RemoveRoute(ctx, "svc.a", "jobs"); err != nil {
		t.Fatalf("RemoveRoute: %v", err)
	}

	targets, err := r.GetRoutes(ctx, "jobs")
	if err != nil {
		t.Fatalf("GetRoutes: %v", err)
	}
	if len(targets) != 0 {
		t.Fatalf("GetRoutes after RemoveRoute = %+v, want empty", targets)
	}
}

func TestGetRoutesDedupesByEndpoint(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	store := coordination.NewClient(backend, []byte("host1"))
	r := New(store, nil)

	if err := r.AddRoute(ctx, "svc.a", "jobs", fabrictypes.Default); err != nil {
		t.Fatalf("AddRoute #1: %v", err)
	}
	if err := r.AddRoute(ctx, "svc.a", "jobs", fabrictypes.Default); err != nil {
		t.Fatalf("AddRoute #2 (repeat): %v", err)
	}

	targets, err := r.GetRoutes(ctx, "jobs")
	if err != nil {
		t.Fatalf("GetRoutes: %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("GetRoutes = %+v, want exactly one entry for svc.a", targets)
	}
}

func TestMultipleEndpointsOnOneRoute(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	store1 := coordination.NewClient(backend, []byte("host1"))
	store2 := coordination.NewClient(backend, []byte("host2"))
	r1 := New(store1, nil)
	r2 := New(store2, nil)

	if err := r1.AddRoute(ctx, "svc.a", "jobs", fabrictypes.Default); err != nil {
		t.Fatalf("AddRoute svc.a: %v", err)
	}
	if err := r2.AddRoute(ctx, "svc.b", "jobs", fabrictypes.PublishOnly); err != nil {
		t.Fatalf("AddRoute svc.b: %v", err)
	}

	targets, err := r1.GetRoutes(ctx, "jobs")
	if err != nil {
		t.Fatalf("GetRoutes: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("GetRoutes = %+v, want 2 targets", targets)
	}
	byEndpoint := map[fabrictypes.EndpointAddress]fabrictypes.RegistrationOptions{}
	for _, tgt := range targets {
		byEndpoint[tgt.Endpoint] = tgt.Options
	}
	if !byEndpoint["svc.b"].IsPublishOnly() {
		t.Fatalf("expected svc.b to be publish-only, got %+v", byEndpoint)
	}
}

func TestSessionCrashCleansTransientRegistrations(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	store := coordination.NewClient(backend, []byte("host1"))
	r := New(store, nil)

	if err := r.AddRoute(ctx, "svc.a", "jobs", fabrictypes.Transient); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}

	sess, err := store.Session(ctx)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	backend.ExpireSession(string(sess.Prefix))

	// Read with a fresh client so the dead session's own cached handle
	// doesn't mask the cleanup.
	reader := coordination.NewClient(backend, []byte("host2"))
	targets, err := New(reader, nil).GetRoutes(ctx, "jobs")
	if err != nil {
		t.Fatalf("GetRoutes: %v", err)
	}
	if len(targets) != 0 {
		t.Fatalf("GetRoutes after session crash = %+v, want empty (I3)", targets)
	}
}

func TestRemoveRoutesFiltersByTransientFlag(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	store := coordination.NewClient(backend, []byte("host1"))
	r := New(store, nil)

	if err := r.AddRoute(ctx, "svc.a", "transient-route", fabrictypes.Transient); err != nil {
		t.Fatalf("AddRoute transient: %v", err)
	}
	if err := r.AddRoute(ctx, "svc.a", "persistent-route", fabrictypes.Default); err != nil {
		t.Fatalf("AddRoute persistent: %v", err)
	}

	if err := r.RemoveRoutes(ctx, "svc.a", false); err != nil {
		t.Fatalf("RemoveRoutes(removePersistent=false): %v", err)
	}

	transientTargets, err := r.GetRoutes(ctx, "transient-route")
	if err != nil {
		t.Fatalf("GetRoutes transient-route: %v", err)
	}
	if len(transientTargets) != 0 {
		t.Fatalf("transient-route targets = %+v, want empty after RemoveRoutes", transientTargets)
	}

	persistentTargets, err := r.GetRoutes(ctx, "persistent-route")
	if err != nil {
		t.Fatalf("GetRoutes persistent-route: %v", err)
	}
	if len(persistentTargets) != 1 {
		t.Fatalf("persistent-route targets = %+v, want svc.a still registered", persistentTargets)
	}

	if err := r.RemoveRoutes(ctx, "svc.a", true); err != nil {
		t.Fatalf("RemoveRoutes(removePersistent=true): %v", err)
	}
	persistentTargets, err = r.GetRoutes(ctx, "persistent-route")
	if err != nil {
		t.Fatalf("GetRoutes persistent-route after full removal: %v", err)
	}
	if len(persistentTargets) != 0 {
		t.Fatalf("persistent-route targets = %+v, want empty after removePersistent=true", persistentTargets)
	}
}

func TestRemoveRouteOfMissingEntryIsNotAnError(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	store := coordination.NewClient(backend, nil)
	r := New(store, nil)

	if err := r.RemoveRoute(ctx, "nope", "nowhere"); err != nil {
		t.Fatalf("RemoveRoute of missing entry should not error, got %v", err)
	}
}

func TestAddRouteRejectsZeroEndpoint(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	store := coordination.NewClient(backend, nil)
	r := New(store, nil)

	if err := r.AddRoute(ctx, "", "jobs", fabrictypes.Default); err == nil {
		t.Fatal("AddRoute with empty endpoint should fail")
	}
}
