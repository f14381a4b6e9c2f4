// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routingsystem implements C7: the process-wide owner of local
// Route Endpoints (spec §4.7). It holds the one mutex-guarded map of
// endpoint → *routeendpoint.RouteEndpoint for the whole process, creates
// and deletes entries, and exposes the node's local physical address.
package routingsystem

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/routefabric/routefabric/coordination"
	"github.com/routefabric/routefabric/fabricmetrics"
	"github.com/routefabric/routefabric/fabrictypes"
	"github.com/routefabric/routefabric/ferrors"
	"github.com/routefabric/routefabric/routeendpoint"
	"github.com/routefabric/routefabric/transport"
)

// System owns every Route Endpoint hosted by this process (spec §4.7).
//
// Thread Safety: Safe for concurrent use; the endpoint map is guarded by a
// single mutex, matching spec §5's "Routing System's endpoint map is
// mutated under one process-local mutex."
type System struct {
	store  coordination.Store
	mux    *transport.Multiplexer
	logger *slog.Logger

	opts []routeendpoint.Option

	mu        sync.Mutex
	endpoints map[fabrictypes.EndpointAddress]*routeendpoint.RouteEndpoint
	disposed  bool
}

// New constructs a routing system over store and mux. opts are applied to
// every Route Endpoint created through CreateEndpoint.
func New(store coordination.Store, mux *transport.Multiplexer, logger *slog.Logger, opts ...routeendpoint.Option) *System {
	if logger == nil {
		logger = slog.Default()
	}
	routeendpoint.InstallMisrouteReplier(mux, logger)
	return &System{
		store:     store,
		mux:       mux,
		logger:    logger,
		opts:      opts,
		endpoints: make(map[fabrictypes.EndpointAddress]*routeendpoint.RouteEndpoint),
	}
}

// CreateEndpoint creates and registers a new Route Endpoint for address,
// failing with ferrors.ErrAlreadyExists if one is already hosted locally
// (spec §4.7).
func (s *System) CreateEndpoint(ctx context.Context, address fabrictypes.EndpointAddress) (*routeendpoint.RouteEndpoint, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, fmt.Errorf("routingsystem: CreateEndpoint on disposed system: %w", ferrors.ErrDisposed)
	}
	if _, exists := s.endpoints[address]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("routingsystem: endpoint %s: %w", address, ferrors.ErrAlreadyExists)
	}
	s.mu.Unlock()

	ep, err := routeendpoint.New(ctx, address, s.store, s.mux, s.opts...)
	if err != nil {
		return nil, fmt.Errorf("routingsystem: creating endpoint %s: %w", address, err)
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		_ = ep.Close(ctx)
		return nil, fmt.Errorf("routingsystem: CreateEndpoint on disposed system: %w", ferrors.ErrDisposed)
	}
	if _, exists := s.endpoints[address]; exists {
		s.mu.Unlock()
		_ = ep.Close(ctx)
		return nil, fmt.Errorf("routingsystem: endpoint %s: %w", address, ferrors.ErrAlreadyExists)
	}
	s.endpoints[address] = ep
	s.mu.Unlock()
	fabricmetrics.LocalEndpointGauge.Inc()
	return ep, nil
}

// GetEndpoint returns the locally hosted Route Endpoint for address, or
// nil if none is registered.
func (s *System) GetEndpoint(address fabrictypes.EndpointAddress) *routeendpoint.RouteEndpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoints[address]
}

// DeleteEndpoint closes and unregisters the local Route Endpoint for
// address, if any.
func (s *System) DeleteEndpoint(ctx context.Context, address fabrictypes.EndpointAddress) error {
	s.mu.Lock()
	ep, ok := s.endpoints[address]
	if ok {
		delete(s.endpoints, address)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	fabricmetrics.LocalEndpointGauge.Dec()
	return ep.Close(ctx)
}

// LocalAddress returns the node's physical transport address.
func (s *System) LocalAddress() fabrictypes.PhysicalAddress { return s.mux.LocalAddress() }

// Close disposes every hosted Route Endpoint and clears the map (spec §4.7).
func (s *System) Close(ctx context.Context) error {
	s.mu.Lock()
	s.disposed = true
	endpoints := s.endpoints
	s.endpoints = make(map[fabrictypes.EndpointAddress]*routeendpoint.RouteEndpoint)
	s.mu.Unlock()

	var firstErr error
	for addr, ep := range endpoints {
		fabricmetrics.LocalEndpointGauge.Dec()
		if err := ep.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("routingsystem: closing endpoint %s: %w", addr, err)
		}
	}
	return firstErr
}

// EndpointCount reports how many Route Endpoints are currently hosted
// locally, used by the admin/observability surface (spec §4.11 supplement).
func (s *System) EndpointCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.endpoints)
}
