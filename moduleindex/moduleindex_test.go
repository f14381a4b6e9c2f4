// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package moduleindex

import (
	"context"
	"errors"
	"testing"

	"github.com/routefabric/routefabric/coordination"
	"github.com/routefabric/routefabric/ferrors"
)

func TestAnnounceThenGetPrefixEndpoints(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	store := coordination.NewClient(backend, []byte("10.0.0.1:7000"))
	x := New(store, nil)

	if err := x.AnnouncePrefix(ctx, "billing.", "billing-worker"); err != nil {
		t.Fatalf("AnnouncePrefix: %v", err)
	}

	endpoints, err := x.GetPrefixEndpoints(ctx, "billing.")
	if err != nil {
		t.Fatalf("GetPrefixEndpoints: %v", err)
	}
	if len(endpoints) != 1 || endpoints[0] != "billing-worker" {
		t.Fatalf("GetPrefixEndpoints = %v, want [billing-worker]", endpoints)
	}
}

func TestAnnouncePrefixValidation(t *testing.T) {
	ctx := context.Background()
	store := coordination.NewClient(coordination.NewBackend(), []byte("10.0.0.1:7000"))
	x := New(store, nil)

	if err := x.AnnouncePrefix(ctx, "  ", "billing"); !errors.Is(err, ferrors.ErrArgumentInvalid) {
		t.Fatalf("AnnouncePrefix(whitespace prefix) = %v, want ErrArgumentInvalid", err)
	}
	if err := x.AnnouncePrefix(ctx, "billing.", ""); !errors.Is(err, ferrors.ErrArgumentInvalid) {
		t.Fatalf("AnnouncePrefix(empty endpoint) = %v, want ErrArgumentInvalid", err)
	}
}

func TestWithdrawPrefix(t *testing.T) {
	ctx := context.Background()
	store := coordination.NewClient(coordination.NewBackend(), []byte("10.0.0.1:7000"))
	x := New(store, nil)

	if err := x.AnnouncePrefix(ctx, "billing.", "billing-worker"); err != nil {
		t.Fatalf("AnnouncePrefix: %v", err)
	}
	if err := x.WithdrawPrefix(ctx, "billing.", "billing-worker"); err != nil {
		t.Fatalf("WithdrawPrefix: %v", err)
	}
	endpoints, err := x.GetPrefixEndpoints(ctx, "billing.")
	if err != nil {
		t.Fatalf("GetPrefixEndpoints: %v", err)
	}
	if len(endpoints) != 0 {
		t.Fatalf("GetPrefixEndpoints after withdraw = %v, want empty", endpoints)
	}

	// Withdrawing again is not an error.
	if err := x.WithdrawPrefix(ctx, "billing.", "billing-worker"); err != nil {
		t.Fatalf("WithdrawPrefix (already gone): %v", err)
	}
}

func TestPrefixDedupAcrossSessions(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	store1 := coordination.NewClient(backend, []byte("host1:7000"))
	store2 := coordination.NewClient(backend, []byte("host2:7000"))

	if err := New(store1, nil).AnnouncePrefix(ctx, "billing.", "billing-worker"); err != nil {
		t.Fatalf("announce from session 1: %v", err)
	}
	if err := New(store2, nil).AnnouncePrefix(ctx, "billing.", "billing-worker"); err != nil {
		t.Fatalf("announce from session 2: %v", err)
	}

	endpoints, err := New(store1, nil).GetPrefixEndpoints(ctx, "billing.")
	if err != nil {
		t.Fatalf("GetPrefixEndpoints: %v", err)
	}
	if len(endpoints) != 1 {
		t.Fatalf("GetPrefixEndpoints = %v, want the same endpoint deduplicated", endpoints)
	}
}

func TestMarkRunningAndRunning(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	store1 := coordination.NewClient(backend, []byte("host1:7000"))
	store2 := coordination.NewClient(backend, []byte("host2:7000"))

	if err := New(store1, nil).MarkRunning(ctx, "billing"); err != nil {
		t.Fatalf("MarkRunning session 1: %v", err)
	}
	if err := New(store2, nil).MarkRunning(ctx, "billing"); err != nil {
		t.Fatalf("MarkRunning session 2: %v", err)
	}

	x := New(store1, nil)
	instances, err := x.Running(ctx, "billing")
	if err != nil {
		t.Fatalf("Running: %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("Running = %d instances, want 2", len(instances))
	}
	addrs := map[string]bool{}
	for _, inst := range instances {
		addrs[inst.PhysicalAddress.String()] = true
	}
	if !addrs["host1:7000"] || !addrs["host2:7000"] {
		t.Fatalf("Running addresses = %v, want both hosts", addrs)
	}

	running, err := x.IsRunning(ctx, "billing")
	if err != nil || !running {
		t.Fatalf("IsRunning = (%t, %v), want (true, nil)", running, err)
	}
}

func TestUnmarkRunning(t *testing.T) {
	ctx := context.Background()
	store := coordination.NewClient(coordination.NewBackend(), []byte("10.0.0.1:7000"))
	x := New(store, nil)

	if err := x.MarkRunning(ctx, "billing"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := x.UnmarkRunning(ctx, "billing"); err != nil {
		t.Fatalf("UnmarkRunning: %v", err)
	}
	running, err := x.IsRunning(ctx, "billing")
	if err != nil || running {
		t.Fatalf("IsRunning after unmark = (%t, %v), want (false, nil)", running, err)
	}
}

func TestSessionCrashClearsModuleState(t *testing.T) {
	ctx := context.Background()
	backend := coordination.NewBackend()
	crashing := coordination.NewClient(backend, []byte("host1:7000"))
	surviving := coordination.NewClient(backend, []byte("host2:7000"))

	cx := New(crashing, nil)
	if err := cx.AnnouncePrefix(ctx, "billing.", "billing-worker"); err != nil {
		t.Fatalf("AnnouncePrefix: %v", err)
	}
	if err := cx.MarkRunning(ctx, "billing"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := crashing.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sx := New(surviving, nil)
	endpoints, err := sx.GetPrefixEndpoints(ctx, "billing.")
	if err != nil {
		t.Fatalf("GetPrefixEndpoints: %v", err)
	}
	if len(endpoints) != 0 {
		t.Fatalf("GetPrefixEndpoints after crash = %v, want empty", endpoints)
	}
	running, err := sx.IsRunning(ctx, "billing")
	if err != nil || running {
		t.Fatalf("IsRunning after crash = (%t, %v), want (false, nil)", running, err)
	}
}
