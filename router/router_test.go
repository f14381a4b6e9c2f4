// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"context"
	"testing"
	"time"

	"github.com/routefabric/routefabric/coordination"
	"github.com/routefabric/routefabric/fabrictypes"
	"github.com/routefabric/routefabric/routeendpoint"
	"github.com/routefabric/routefabric/routeregistry"
	"github.com/routefabric/routefabric/transport"
)

// fixture wires a LocalRouter over its own coordination backend and loopback
// network, with one sender endpoint ("caller") and any number of receiver
// endpoints that simply ack every request they see.
type fixture struct {
	router   *LocalRouter
	registry *routeregistry.Registry
	net      *transport.LoopbackNetwork
	backend  *coordination.Backend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	net := transport.NewLoopbackNetwork()
	backend := coordination.NewBackend()

	callerStore := coordination.NewClient(backend, []byte("10.0.0.1:7000"))
	callerMux := transport.NewMultiplexer(net.NewTransport(fabrictypes.PhysicalAddress("10.0.0.1:7000")), nil)
	caller, err := routeendpoint.New(ctx, "caller", callerStore, callerMux, routeendpoint.WithReplicaTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("New(caller): %v", err)
	}
	t.Cleanup(func() { _ = caller.Close(context.Background()) })

	registryStore := coordination.NewClient(backend, []byte("10.0.0.1:7000"))
	registry := routeregistry.New(registryStore, nil)

	return &fixture{
		router:   NewLocalRouter(registry, caller),
		registry: registry,
		net:      net,
		backend:  backend,
	}
}

// newAckEndpoint adds a new physical peer hosting a single endpoint that
// replies handled=true to every request it receives.
func (f *fixture) newAckEndpoint(t *testing.T, address fabrictypes.EndpointAddress, physical string) *routeendpoint.RouteEndpoint {
	t.Helper()
	ctx := context.Background()
	store := coordination.NewClient(f.backend, []byte(physical))
	mux := transport.NewMultiplexer(f.net.NewTransport(fabrictypes.PhysicalAddress(physical)), nil)
	ep, err := routeendpoint.New(ctx, address, store, mux, routeendpoint.WithReplicaTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("New(%s): %v", address, err)
	}
	t.Cleanup(func() { _ = ep.Close(context.Background()) })
	go func() {
		for {
			req, err := ep.Receive(context.Background())
			if err != nil {
				return
			}
			_ = req.Reply.SendResult(context.Background(), true, []byte("ack:"+string(address)))
		}
	}()
	return ep
}

func TestRouteToSkipsRegistry(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f := newFixture(t)
	f.newAckEndpoint(t, "svcA", "10.0.0.2:7000")

	res, err := f.router.RouteTo(ctx, "unused-route", []byte("ping"), "svcA")
	if err != nil {
		t.Fatalf("RouteTo: %v", err)
	}
	if !res.Handled() || string(res.Payload) != "ack:svcA" {
		t.Fatalf("RouteTo = %+v, want Handled ack:svcA", res)
	}
}

func TestRouteToEmptyEndpointIsInvalid(t *testing.T) {
	f := newFixture(t)
	_, err := f.router.RouteTo(context.Background(), "r", []byte("x"), "")
	if err == nil {
		t.Fatal("RouteTo with an empty endpoint should fail")
	}
}

// TestRoutePublishFansOutToEveryTarget covers spec §4.8 publish=true: every
// registered target, including PublishOnly ones, receives the payload.
func TestRoutePublishFansOutToEveryTarget(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f := newFixture(t)
	f.newAckEndpoint(t, "svcA", "10.0.0.2:7000")
	f.newAckEndpoint(t, "svcB", "10.0.0.3:7000")

	if err := f.router.RegisterRoute(ctx, "svcA", "topic.events", fabrictypes.Default); err != nil {
		t.Fatalf("RegisterRoute(svcA): %v", err)
	}
	if err := f.router.RegisterRoute(ctx, "svcB", "topic.events", fabrictypes.PublishOnly); err != nil {
		t.Fatalf("RegisterRoute(svcB): %v", err)
	}

	results, err := f.router.Route(ctx, []fabrictypes.Route{"topic.events"}, []byte("evt"), true)
	if err != nil {
		t.Fatalf("Route(publish): %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Route(publish) returned %d results, want 2", len(results))
	}
	for _, res := range results {
		if !res.Handled() {
			t.Fatalf("Route(publish) result %+v, want Handled", res)
		}
	}
}

// TestRoutePointToPointPicksOneEligibleTarget covers spec §4.8 publish=false:
// PublishOnly targets are excluded and only the first eligible survivor by
// endpoint byte order is sent to.
func TestRoutePointToPointPicksOneEligibleTarget(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f := newFixture(t)
	f.newAckEndpoint(t, "svcA", "10.0.0.2:7000")
	f.newAckEndpoint(t, "svcZ", "10.0.0.3:7000")

	if err := f.router.RegisterRoute(ctx, "svcZ", "topic.jobs", fabrictypes.PublishOnly); err != nil {
		t.Fatalf("RegisterRoute(svcZ, PublishOnly): %v", err)
	}
	if err := f.router.RegisterRoute(ctx, "svcA", "topic.jobs", fabrictypes.Default); err != nil {
		t.Fatalf("RegisterRoute(svcA): %v", err)
	}

	results, err := f.router.Route(ctx, []fabrictypes.Route{"topic.jobs"}, []byte("job"), false)
	if err != nil {
		t.Fatalf("Route(point-to-point): %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Route(point-to-point) returned %d results, want 1", len(results))
	}
	if !results[0].Handled() || string(results[0].Payload) != "ack:svcA" {
		t.Fatalf("Route(point-to-point) = %+v, want the ack from svcA (PublishOnly svcZ excluded)", results[0])
	}
}

// TestRoutePointToPointWithNoEligibleTargetsIsNoop covers the case where
// every registered target is PublishOnly: Route returns (nil, nil) rather
// than an error.
func TestRoutePointToPointWithNoEligibleTargetsIsNoop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f := newFixture(t)

	if err := f.router.RegisterRoute(ctx, "svcZ", "topic.jobs", fabrictypes.PublishOnly); err != nil {
		t.Fatalf("RegisterRoute(svcZ, PublishOnly): %v", err)
	}

	results, err := f.router.Route(ctx, []fabrictypes.Route{"topic.jobs"}, []byte("job"), false)
	if err != nil {
		t.Fatalf("Route(point-to-point, no eligible targets): %v", err)
	}
	if results != nil {
		t.Fatalf("Route(point-to-point, no eligible targets) = %v, want nil", results)
	}
}

func TestUnregisterRouteThenRouteFindsNothing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f := newFixture(t)
	f.newAckEndpoint(t, "svcA", "10.0.0.2:7000")

	if err := f.router.RegisterRoute(ctx, "svcA", "topic.solo", fabrictypes.Default); err != nil {
		t.Fatalf("RegisterRoute: %v", err)
	}
	if err := f.router.UnregisterRoute(ctx, "svcA", "topic.solo"); err != nil {
		t.Fatalf("UnregisterRoute: %v", err)
	}

	results, err := f.router.Route(ctx, []fabrictypes.Route{"topic.solo"}, []byte("x"), false)
	if err != nil {
		t.Fatalf("Route after unregister: %v", err)
	}
	if results != nil {
		t.Fatalf("Route after unregister = %v, want nil", results)
	}
}
