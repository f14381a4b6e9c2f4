// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"context"
	"fmt"
	"sort"

	"github.com/routefabric/routefabric/fabrictypes"
	"github.com/routefabric/routefabric/ferrors"
	"github.com/routefabric/routefabric/routeendpoint"
	"github.com/routefabric/routefabric/routeregistry"
)

// Router is the C8 contract: turn route(route-set, payload)/register/
// unregister calls into Route-Endpoint operations (spec §4.8). Local and
// remote implementations both satisfy it.
type Router interface {
	Route(ctx context.Context, routes []fabrictypes.Route, payload []byte, publish bool) ([]routeendpoint.RouteResult, error)
	RouteTo(ctx context.Context, route fabrictypes.Route, payload []byte, endpoint fabrictypes.EndpointAddress) (routeendpoint.RouteResult, error)
	RegisterRoute(ctx context.Context, endpoint fabrictypes.EndpointAddress, route fabrictypes.Route, opts fabrictypes.RegistrationOptions) error
	UnregisterRoute(ctx context.Context, endpoint fabrictypes.EndpointAddress, route fabrictypes.Route) error
	UnregisterRoutes(ctx context.Context, endpoint fabrictypes.EndpointAddress, removePersistent bool) error
}

// LocalRouter is the in-process variant: it calls the Route Registry (C4)
// directly rather than marshalling requests to a remote registry endpoint
// (spec §4.8, "Message Router implementations may be local").
type LocalRouter struct {
	registry *routeregistry.Registry
	sender   *routeendpoint.RouteEndpoint
}

// NewLocalRouter builds a Router over registry that sends through sender's
// Route Endpoint.
func NewLocalRouter(registry *routeregistry.Registry, sender *routeendpoint.RouteEndpoint) *LocalRouter {
	return &LocalRouter{registry: registry, sender: sender}
}

var _ Router = (*LocalRouter)(nil)

// Route resolves every route in routes via C4, then sends according to
// publish (spec §4.8 step 2-3):
//   - publish=true: send to every target across every route (PublishOnly
//     targets included), results in target enumeration order.
//   - publish=false: dedupe targets by endpoint across the whole set,
//     drop PublishOnly targets, and send to only the first eligible one.
func (r *LocalRouter) Route(ctx context.Context, routes []fabrictypes.Route, payload []byte, publish bool) ([]routeendpoint.RouteResult, error) {
	var all []fabrictypes.RouteTarget
	for _, route := range routes {
		targets, err := r.registry.GetRoutes(ctx, route)
		if err != nil {
			return nil, fmt.Errorf("router: resolving route %s: %w", route, err)
		}
		all = append(all, targets...)
	}

	if publish {
		results := make([]routeendpoint.RouteResult, 0, len(all))
		for _, t := range all {
			res, err := r.sender.Send(ctx, payload, t.Endpoint)
			if err != nil {
				return results, fmt.Errorf("router: publishing to %s: %w", t.Endpoint, err)
			}
			results = append(results, res)
		}
		return results, nil
	}

	eligible := firstEligibleTarget(all)
	if eligible == nil {
		return nil, nil
	}
	res, err := r.sender.Send(ctx, payload, eligible.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("router: routing to %s: %w", eligible.Endpoint, err)
	}
	return []routeendpoint.RouteResult{res}, nil
}

// firstEligibleTarget dedupes targets by endpoint (first occurrence wins),
// drops PublishOnly targets, and returns the first survivor, breaking any
// remaining tie by endpoint byte order (spec §4.8 "deterministic by
// enumeration order then endpoint byte order").
func firstEligibleTarget(all []fabrictypes.RouteTarget) *fabrictypes.RouteTarget {
	seen := make(map[fabrictypes.EndpointAddress]bool, len(all))
	var eligible []fabrictypes.RouteTarget
	for _, t := range all {
		if seen[t.Endpoint] {
			continue
		}
		seen[t.Endpoint] = true
		if t.Options.IsPublishOnly() {
			continue
		}
		eligible = append(eligible, t)
	}
	if len(eligible) == 0 {
		return nil
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Endpoint < eligible[j].Endpoint
	})
	return &eligible[0]
}

// RouteTo skips route resolution (and C4 entirely) and sends directly to
// endpoint (spec §4.8).
func (r *LocalRouter) RouteTo(ctx context.Context, route fabrictypes.Route, payload []byte, endpoint fabrictypes.EndpointAddress) (routeendpoint.RouteResult, error) {
	if endpoint.IsZero() {
		return routeendpoint.RouteResult{}, fmt.Errorf("router: RouteTo requires a non-empty endpoint: %w", ferrors.ErrArgumentInvalid)
	}
	return r.sender.Send(ctx, payload, endpoint)
}

// RegisterRoute delegates to the Route Registry (C4).
func (r *LocalRouter) RegisterRoute(ctx context.Context, endpoint fabrictypes.EndpointAddress, route fabrictypes.Route, opts fabrictypes.RegistrationOptions) error {
	return r.registry.AddRoute(ctx, endpoint, route, opts)
}

// UnregisterRoute delegates to the Route Registry (C4).
func (r *LocalRouter) UnregisterRoute(ctx context.Context, endpoint fabrictypes.EndpointAddress, route fabrictypes.Route) error {
	return r.registry.RemoveRoute(ctx, endpoint, route)
}

// UnregisterRoutes delegates to the Route Registry (C4), with the
// removePersistent extension named in spec §4.8.
func (r *LocalRouter) UnregisterRoutes(ctx context.Context, endpoint fabrictypes.EndpointAddress, removePersistent bool) error {
	return r.registry.RemoveRoutes(ctx, endpoint, removePersistent)
}

// GetRoutes exposes C4's read path directly; it has no remote-dispatch
// equivalent in spec §6.5, so only LocalRouter offers it.
func (r *LocalRouter) GetRoutes(ctx context.Context, route fabrictypes.Route) ([]fabrictypes.RouteTarget, error) {
	return r.registry.GetRoutes(ctx, route)
}
