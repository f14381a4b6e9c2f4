// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coordination

import (
	"context"
	"errors"
	"testing"

	"github.com/routefabric/routefabric/ferrors"
)

func TestMemStoreCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	backend := NewBackend()
	c := NewClient(backend, []byte("10.0.0.1:7000"))

	if _, err := c.Create(ctx, "/maps/A/s1", []byte("addr"), ModeEphemeral); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := c.Create(ctx, "/maps/A/s1", []byte("addr2"), ModeEphemeral)
	if !errors.Is(err, ferrors.ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}
}

func TestMemStoreGetOrCreateIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := NewBackend()
	c := NewClient(backend, nil)

	e1, err := c.GetOrCreate(ctx, "/routes/r/id1", []byte("v1"), ModeDefault)
	if err != nil {
		t.Fatalf("GetOrCreate #1: %v", err)
	}
	e2, err := c.GetOrCreate(ctx, "/routes/r/id1", []byte("v2"), ModeDefault)
	if err != nil {
		t.Fatalf("GetOrCreate #2: %v", err)
	}
	if string(e1.Value) != string(e2.Value) {
		t.Errorf("GetOrCreate should be a no-op after first success: got %q then %q", e1.Value, e2.Value)
	}
}

func TestMemStoreSessionCrashCleansEphemeral(t *testing.T) {
	ctx := context.Background()
	backend := NewBackend()
	c := NewClient(backend, []byte("addr"))

	if _, err := c.Create(ctx, "/routes/r1/id1", []byte("opts"), ModeEphemeral); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.Create(ctx, "/reverse-routes/s/A/r1", []byte("opts"), ModeEphemeral); err != nil {
		t.Fatalf("create reverse: %v", err)
	}

	sess, _ := c.Session(ctx)
	backend.ExpireSession(string(sess.Prefix))

	e, err := c.Get(ctx, "/routes/r1/id1")
	if err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if e != nil {
		t.Errorf("expected forward entry gone after session expiry, got %+v", e)
	}
	e, err = c.Get(ctx, "/reverse-routes/s/A/r1")
	if err != nil {
		t.Fatalf("get reverse after expiry: %v", err)
	}
	if e != nil {
		t.Errorf("expected reverse entry gone after session expiry, got %+v", e)
	}
}

func TestMemStoreDeleteVersionMismatch(t *testing.T) {
	ctx := context.Background()
	backend := NewBackend()
	c := NewClient(backend, nil)

	e, err := c.Create(ctx, "/maps/A/s1", []byte("x"), ModeDefault)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.Delete(ctx, "/maps/A/s1", e.Version+1, false); err == nil {
		t.Fatal("expected version mismatch error")
	}
	if _, err := c.Delete(ctx, "/maps/A/s1", e.Version, false); err != nil {
		t.Fatalf("delete with correct version: %v", err)
	}
}

func TestMemStoreDeleteMissingIsEntryNotFound(t *testing.T) {
	ctx := context.Background()
	backend := NewBackend()
	c := NewClient(backend, nil)

	_, err := c.Delete(ctx, "/does/not/exist", AnyVersion, false)
	if !errors.Is(err, ferrors.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestMemStoreChildren(t *testing.T) {
	ctx := context.Background()
	backend := NewBackend()
	c := NewClient(backend, nil)

	for _, seg := range []string{"s1", "s2", "s3"} {
		if _, err := c.Create(ctx, "/maps/A/"+seg, []byte("x"), ModeEphemeral); err != nil {
			t.Fatalf("create %s: %v", seg, err)
		}
	}
	children, err := c.Children(ctx, "/maps/A")
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("got %d children, want 3: %v", len(children), children)
	}
}
