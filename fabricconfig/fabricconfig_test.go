// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fabricconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.CoordinationBackend != "memory" {
		t.Fatalf("CoordinationBackend = %q, want memory", cfg.Node.CoordinationBackend)
	}
	if cfg.Timeouts.ReplicaTimeout().Seconds() != 5 {
		t.Fatalf("ReplicaTimeout = %v, want 5s", cfg.Timeouts.ReplicaTimeout())
	}
}

func TestLoadMissingOverrideIsNotError(t *testing.T) {
	cfg, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load with missing override: %v", err)
	}
	if cfg.Node.TransportBackend != "loopback" {
		t.Fatalf("TransportBackend = %q, want loopback", cfg.Node.TransportBackend)
	}
}

func TestLoadOverrideMerges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "override.yaml")
	content := []byte("node:\n  transport_backend: websocket\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.TransportBackend != "websocket" {
		t.Fatalf("TransportBackend = %q, want websocket", cfg.Node.TransportBackend)
	}
	if cfg.Node.CoordinationBackend != "memory" {
		t.Fatalf("CoordinationBackend = %q, want memory (unset fields keep defaults' zero, not override)", cfg.Node.CoordinationBackend)
	}
}

func TestLoadRequiresContext(t *testing.T) {
	if _, err := Load(nil, ""); err == nil { //nolint:staticcheck // deliberately exercising the nil-ctx guard
		t.Fatal("Load(nil, ...) should fail")
	}
}
