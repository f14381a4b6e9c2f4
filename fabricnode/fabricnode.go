// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fabricnode wires the C1-C8 components into one running node,
// the way cmd/trace/main.go assembles a trace.Service out of its
// sub-packages before handing it to gin. cmd/fabricd and cmd/fabricctl
// both call Bootstrap rather than repeating the construction order.
package fabricnode

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/routefabric/routefabric/coordination"
	"github.com/routefabric/routefabric/endpointmap"
	"github.com/routefabric/routefabric/fabricconfig"
	"github.com/routefabric/routefabric/fabrictypes"
	"github.com/routefabric/routefabric/httproutes"
	"github.com/routefabric/routefabric/moduleindex"
	"github.com/routefabric/routefabric/router"
	"github.com/routefabric/routefabric/routeendpoint"
	"github.com/routefabric/routefabric/routeregistry"
	"github.com/routefabric/routefabric/routingsystem"
	"github.com/routefabric/routefabric/scheduler"
	"github.com/routefabric/routefabric/transport"
)

// RegistryEndpoint is the well-known logical endpoint every node maps a
// Route Registry server to, matching the reserved-name convention spec
// §6.5 assumes for remote registry dispatch.
const RegistryEndpoint fabrictypes.EndpointAddress = "routefabric.registry"

// Node is one bootstrapped routefabric process: a coordination store, a
// physical transport multiplexed by logical endpoint, the routing system
// hosting local Route Endpoints, and a Router ready to accept
// application traffic.
type Node struct {
	Config      *fabricconfig.Config
	Store       coordination.Store
	Mux         *transport.Multiplexer
	System      *routingsystem.System
	Registry    *routeregistry.Registry
	EndpointMap *endpointmap.Map
	HTTPRoutes  *httproutes.Registry
	Modules     *moduleindex.Index
	Router      *router.LocalRouter

	badger *coordination.BadgerBackend
}

// Bootstrap loads cfg (or its defaults, if configPath is empty) and
// constructs a Node whose default registry endpoint is already hosted and
// serves as the sending endpoint of the node's LocalRouter.
func Bootstrap(ctx context.Context, configPath string, local fabrictypes.PhysicalAddress, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := fabricconfig.Load(ctx, configPath)
	if err != nil {
		return nil, fmt.Errorf("fabricnode: loading config: %w", err)
	}

	store, badgerBackend, err := newStore(cfg.Node.CoordinationBackend, local, logger)
	if err != nil {
		return nil, err
	}

	xport, err := newTransport(cfg.Node.TransportBackend, local, logger)
	if err != nil {
		return nil, err
	}
	mux := transport.NewMultiplexer(xport, logger)

	policy := newSchedulerPolicy(cfg.Node.SchedulerPolicy)
	sys := routingsystem.New(store, mux, logger,
		routeendpoint.WithScheduler(policy),
		routeendpoint.WithDrainGracePeriod(cfg.Timeouts.DrainGrace()),
	)
	registry := routeregistry.New(store, logger)
	maps := endpointmap.New(store, logger)

	registryEP, err := sys.CreateEndpoint(ctx, RegistryEndpoint)
	if err != nil {
		return nil, fmt.Errorf("fabricnode: creating registry endpoint: %w", err)
	}

	return &Node{
		Config:      cfg,
		Store:       store,
		Mux:         mux,
		System:      sys,
		Registry:    registry,
		EndpointMap: maps,
		HTTPRoutes:  httproutes.New(store, logger),
		Modules:     moduleindex.New(store, logger),
		Router:      router.NewLocalRouter(registry, registryEP),
		badger:      badgerBackend,
	}, nil
}

func newStore(backend string, local fabrictypes.PhysicalAddress, logger *slog.Logger) (coordination.Store, *coordination.BadgerBackend, error) {
	switch backend {
	case "", "memory":
		return coordination.NewClient(coordination.NewBackend(), local), nil, nil
	case "badger":
		b, err := coordination.OpenBadgerBackend(coordination.InMemoryDir, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("fabricnode: opening badger backend: %w", err)
		}
		return coordination.NewBadgerClient(b, local), b, nil
	default:
		return nil, nil, fmt.Errorf("fabricnode: unknown coordination backend %q", backend)
	}
}

func newTransport(backend string, local fabrictypes.PhysicalAddress, logger *slog.Logger) (transport.Transport, error) {
	switch backend {
	case "", "loopback":
		return transport.NewLoopbackNetwork().NewTransport(local), nil
	case "websocket":
		return transport.NewWebSocketTransport(local, logger), nil
	default:
		return nil, fmt.Errorf("fabricnode: unknown transport backend %q (nats requires a server URL, construct it directly)", backend)
	}
}

func newSchedulerPolicy(name string) scheduler.Policy {
	if name == "round_robin" {
		return &scheduler.RoundRobin{}
	}
	return scheduler.Shuffle{}
}

// Close releases every resource the node opened.
func (n *Node) Close(ctx context.Context) error {
	if err := n.System.Close(ctx); err != nil {
		return err
	}
	if err := n.Store.Close(); err != nil {
		return err
	}
	if err := n.Mux.Close(); err != nil {
		return err
	}
	if n.badger != nil {
		return n.badger.Close()
	}
	return nil
}
