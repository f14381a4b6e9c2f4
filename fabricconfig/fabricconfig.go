// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fabricconfig holds node-level configuration for a routefabric
// process: coordination-store backend selection, transport backend
// selection, backoff/timeout constants, and scheduler policy (SPEC_FULL
// §4.9 "Configuration"). An embedded defaults.yaml is merged with an
// optional on-disk override, matching the teacher's
// services/trace/config/prefilter_config.go embed-plus-override pattern.
package fabricconfig

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config is a routefabric node's full configuration surface.
//
// Thread Safety: Immutable after Load returns; safe for concurrent use.
type Config struct {
	Node      NodeConfig     `yaml:"node"`
	Timeouts  TimeoutsConfig `yaml:"timeouts"`
	SessionCf SessionConfig  `yaml:"session"`
}

// NodeConfig selects the backends a node wires up at startup.
type NodeConfig struct {
	// CoordinationBackend is "memory" or "badger".
	CoordinationBackend string `yaml:"coordination_backend"`
	// TransportBackend is "loopback", "websocket", or "nats".
	TransportBackend string `yaml:"transport_backend"`
	// SchedulerPolicy is "shuffle" or "round_robin".
	SchedulerPolicy string `yaml:"scheduler_policy"`
}

// TimeoutsConfig holds the routing layer's bounded-retry constants (spec
// §4.6.2: 20ms/12s resolve backoff, 5s replica timeout).
type TimeoutsConfig struct {
	ResolveBackoffStartMs int `yaml:"resolve_backoff_start_ms"`
	ResolveBackoffCapMs   int `yaml:"resolve_backoff_cap_ms"`
	ReplicaTimeoutMs      int `yaml:"replica_timeout_ms"`
	DrainGraceMs          int `yaml:"drain_grace_ms"`
}

// SessionConfig holds the keep-alive loop's cadence (SPEC_FULL §4.11
// supplement).
type SessionConfig struct {
	KeepaliveIntervalMs  int `yaml:"keepalive_interval_ms"`
	KeepaliveMaxFailures int `yaml:"keepalive_max_failures"`
}

// ResolveBackoffStart returns the configured start duration.
func (t TimeoutsConfig) ResolveBackoffStart() time.Duration {
	return time.Duration(t.ResolveBackoffStartMs) * time.Millisecond
}

// ResolveBackoffCap returns the configured cap duration.
func (t TimeoutsConfig) ResolveBackoffCap() time.Duration {
	return time.Duration(t.ResolveBackoffCapMs) * time.Millisecond
}

// ReplicaTimeout returns the configured per-replica timeout.
func (t TimeoutsConfig) ReplicaTimeout() time.Duration {
	return time.Duration(t.ReplicaTimeoutMs) * time.Millisecond
}

// DrainGrace returns the configured endpoint-close drain grace period.
func (t TimeoutsConfig) DrainGrace() time.Duration {
	return time.Duration(t.DrainGraceMs) * time.Millisecond
}

// KeepaliveInterval returns the configured session lease-renewal interval.
func (s SessionConfig) KeepaliveInterval() time.Duration {
	return time.Duration(s.KeepaliveIntervalMs) * time.Millisecond
}

// Load reads the embedded defaults, then merges overridePath on top if it
// is non-empty and the file exists. A missing override path is not an
// error: every field already has a default from the embedded document.
func Load(ctx context.Context, overridePath string) (*Config, error) {
	if ctx == nil {
		return nil, fmt.Errorf("fabricconfig: Load requires a non-nil context")
	}

	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		return nil, fmt.Errorf("fabricconfig: parsing embedded defaults: %w", err)
	}

	if overridePath == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(overridePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("fabricconfig: reading %s: %w", overridePath, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("fabricconfig: parsing %s: %w", overridePath, err)
	}
	return &cfg, nil
}
