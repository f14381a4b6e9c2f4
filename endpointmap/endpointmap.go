// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package endpointmap implements C3 from the component design: the
// coordination-tree index mapping a logical endpoint to the set of
// physical addresses that currently host it (spec §4.3).
//
// Every mapping is ephemeral: it disappears automatically when the
// session that created it ends (spec I1, I3), so a crashed node's
// addresses are never returned to a caller resolving a live endpoint.
package endpointmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/routefabric/routefabric/coordination"
	"github.com/routefabric/routefabric/fabricmetrics"
	"github.com/routefabric/routefabric/fabrictypes"
	"github.com/routefabric/routefabric/ferrors"
	"github.com/routefabric/routefabric/pathcodec"
)

const rootSegment = "maps"

// Map is the C3 endpoint-map index over a coordination.Store.
//
// Thread Safety: Safe for concurrent use; all state lives in the store.
type Map struct {
	store  coordination.Store
	logger *slog.Logger
}

// New wraps store as an endpoint map. logger may be nil.
func New(store coordination.Store, logger *slog.Logger) *Map {
	if logger == nil {
		logger = slog.Default()
	}
	return &Map{store: store, logger: logger}
}

func entryPath(endpoint fabrictypes.EndpointAddress, sessionSegment string) string {
	p := pathcodec.JoinRaw("/"+rootSegment, string(endpoint))
	return pathcodec.JoinRaw(p, sessionSegment)
}

func endpointRoot(endpoint fabrictypes.EndpointAddress) string {
	return pathcodec.JoinRaw("/"+rootSegment, string(endpoint))
}

// Map announces that endpoint is reachable at address via this session.
// Repeated calls with the same (endpoint, address) are a no-op after the
// first success (spec §4.3 idempotence) because the underlying path is
// keyed by this session, which can only ever hold one address value here;
// GetOrCreate absorbs the race with a concurrent first call from the same
// session.
func (m *Map) Map(ctx context.Context, endpoint fabrictypes.EndpointAddress, address fabrictypes.PhysicalAddress) (err error) {
	defer func() {
		fabricmetrics.EndpointMapOpTotal.WithLabelValues("map", outcomeLabel(err)).Inc()
	}()
	if endpoint.IsZero() {
		return fmt.Errorf("endpointmap: Map requires a non-empty endpoint")
	}
	sess, err := m.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("endpointmap: resolving session: %w", err)
	}
	path := entryPath(endpoint, sess.String())
	if _, err := m.store.GetOrCreate(ctx, path, address, coordination.ModeEphemeral); err != nil {
		return fmt.Errorf("endpointmap: map %s -> %s: %w", endpoint, address, err)
	}
	return nil
}

// Unmap removes this session's mapping of endpoint to address. Missing
// entries are not an error.
func (m *Map) Unmap(ctx context.Context, endpoint fabrictypes.EndpointAddress, address fabrictypes.PhysicalAddress) (err error) {
	defer func() {
		fabricmetrics.EndpointMapOpTotal.WithLabelValues("unmap", outcomeLabel(err)).Inc()
	}()
	sess, err := m.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("endpointmap: resolving session: %w", err)
	}
	path := entryPath(endpoint, sess.String())
	if _, err := m.store.Delete(ctx, path, coordination.AnyVersion, false); err != nil && !isNotFound(err) {
		return fmt.Errorf("endpointmap: unmap %s -> %s: %w", endpoint, address, err)
	}
	return nil
}

// UnmapAll recursively removes every address announced for endpoint by any
// session. Intended for local administrative clearing only (spec §4.3).
func (m *Map) UnmapAll(ctx context.Context, endpoint fabrictypes.EndpointAddress) error {
	path := endpointRoot(endpoint)
	// Map never creates the endpoint node itself, so each session's child
	// is deleted explicitly before the (usually absent) root.
	sessions, err := m.store.Children(ctx, path)
	if err != nil {
		return fmt.Errorf("endpointmap: unmap all %s: %w", endpoint, err)
	}
	for _, seg := range sessions {
		if _, err := m.store.Delete(ctx, pathcodec.Join(path, seg), coordination.AnyVersion, true); err != nil && !isNotFound(err) {
			return fmt.Errorf("endpointmap: unmap all %s: %w", endpoint, err)
		}
	}
	if _, err := m.store.Delete(ctx, path, coordination.AnyVersion, true); err != nil && !isNotFound(err) {
		return fmt.Errorf("endpointmap: unmap all %s: %w", endpoint, err)
	}
	return nil
}

// GetMaps returns every physical address currently announced for endpoint,
// across all sessions (i.e. all replicas, spec §3 "Replica").
func (m *Map) GetMaps(ctx context.Context, endpoint fabrictypes.EndpointAddress) (addrs []fabrictypes.PhysicalAddress, err error) {
	defer func() {
		fabricmetrics.EndpointMapOpTotal.WithLabelValues("get_maps", outcomeLabel(err)).Inc()
	}()
	root := endpointRoot(endpoint)
	children, err := m.store.Children(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("endpointmap: listing %s: %w", endpoint, err)
	}
	addrs = make([]fabrictypes.PhysicalAddress, 0, len(children))
	for _, child := range children {
		e, err := m.store.Get(ctx, pathcodec.Join(root, child))
		if err != nil {
			m.logger.Warn("endpointmap: reading child failed", "endpoint", endpoint, "error", err)
			continue
		}
		if e == nil {
			continue
		}
		addrs = append(addrs, fabrictypes.PhysicalAddress(e.Value))
	}
	return addrs, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ferrors.ErrEntryNotFound)
}

// outcomeLabel renders err as the "outcome" label recorded alongside every
// fabricmetrics.EndpointMapOpTotal increment.
func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
