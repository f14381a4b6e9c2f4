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

	"github.com/routefabric/routefabric/fabrictypes"
	"github.com/routefabric/routefabric/routeendpoint"
)

// RemoteRouter is the remote Message Router variant (spec §4.8, §6.5): it
// encodes each operation as a frame and sends it via C6 to a well-known
// registry endpoint, rather than calling the Route Registry (C4) directly.
type RemoteRouter struct {
	sender   *routeendpoint.RouteEndpoint
	registry fabrictypes.EndpointAddress
}

// NewRemoteRouter builds a Router that dispatches through sender to the
// registry service hosted at registryEndpoint.
func NewRemoteRouter(sender *routeendpoint.RouteEndpoint, registryEndpoint fabrictypes.EndpointAddress) *RemoteRouter {
	return &RemoteRouter{sender: sender, registry: registryEndpoint}
}

var _ Router = (*RemoteRouter)(nil)

// Route marshals a messageType 0 Route frame and decodes the multi-target
// reply format (spec §6.5).
func (r *RemoteRouter) Route(ctx context.Context, routes []fabrictypes.Route, payload []byte, publish bool) ([]routeendpoint.RouteResult, error) {
	names := make([]string, len(routes))
	for i, route := range routes {
		names[i] = string(route)
	}
	body := encodeRouteBody(names, publish, payload)
	frame := encodeRemoteFrame(remoteFrame{Type: remoteRoute, Body: body})

	res, err := r.sender.Send(ctx, frame, r.registry)
	if err != nil {
		return nil, fmt.Errorf("router: remote Route: %w", err)
	}
	if !res.Handled() {
		return nil, nil
	}
	frames, err := decodeMultiTargetReply(res.Payload)
	if err != nil {
		return nil, fmt.Errorf("router: decoding remote Route reply: %w", err)
	}
	results := make([]routeendpoint.RouteResult, len(frames))
	for i, f := range frames {
		results[i] = decodeInnerResult(f)
	}
	return results, nil
}

// RouteTo marshals a messageType 1 RouteToEndPoint frame.
func (r *RemoteRouter) RouteTo(ctx context.Context, route fabrictypes.Route, payload []byte, endpoint fabrictypes.EndpointAddress) (routeendpoint.RouteResult, error) {
	body := encodeRouteToBody(string(route), string(endpoint), false, payload)
	frame := encodeRemoteFrame(remoteFrame{Type: remoteRouteToEndpoint, Body: body})
	res, err := r.sender.Send(ctx, frame, r.registry)
	if err != nil {
		return routeendpoint.RouteResult{}, fmt.Errorf("router: remote RouteTo: %w", err)
	}
	return res, nil
}

// RegisterRoute marshals a messageType 2 RegisterRoute frame.
func (r *RemoteRouter) RegisterRoute(ctx context.Context, endpoint fabrictypes.EndpointAddress, route fabrictypes.Route, opts fabrictypes.RegistrationOptions) error {
	body := encodeRegisterBody(uint8(opts), string(route))
	frame := encodeRemoteFrame(remoteFrame{Type: remoteRegisterRoute, Body: body})
	_, err := r.sender.Send(ctx, frame, r.registry)
	if err != nil {
		return fmt.Errorf("router: remote RegisterRoute: %w", err)
	}
	return nil
}

// UnregisterRoute marshals a messageType 3 UnregisterRoute frame.
func (r *RemoteRouter) UnregisterRoute(ctx context.Context, endpoint fabrictypes.EndpointAddress, route fabrictypes.Route) error {
	body := encodeRouteBytes(string(route))
	frame := encodeRemoteFrame(remoteFrame{Type: remoteUnregisterRoute, Body: body})
	_, err := r.sender.Send(ctx, frame, r.registry)
	if err != nil {
		return fmt.Errorf("router: remote UnregisterRoute: %w", err)
	}
	return nil
}

// UnregisterRoutes marshals a messageType 4 UnregisterRoutes frame.
func (r *RemoteRouter) UnregisterRoutes(ctx context.Context, endpoint fabrictypes.EndpointAddress, removePersistent bool) error {
	body := encodeUnregisterRoutesBody(removePersistent)
	frame := encodeRemoteFrame(remoteFrame{Type: remoteUnregisterRoutes, Body: body})
	_, err := r.sender.Send(ctx, frame, r.registry)
	if err != nil {
		return fmt.Errorf("router: remote UnregisterRoutes: %w", err)
	}
	return nil
}

// encodeInnerResult/decodeInnerResult pack one RouteResult as a tiny
// self-contained frame for the multi-target Route reply's inner entries
// (spec §6.5 "each inner bytes is a whole recursive message"): 1 byte
// handled flag followed by the raw payload.
func encodeInnerResult(res routeendpoint.RouteResult) []byte {
	buf := make([]byte, 1+len(res.Payload))
	if res.Handled() {
		buf[0] = 1
	}
	copy(buf[1:], res.Payload)
	return buf
}

func decodeInnerResult(frame []byte) routeendpoint.RouteResult {
	if len(frame) == 0 {
		return routeendpoint.RouteResult{Outcome: routeendpoint.OutcomeUnhandled}
	}
	res := routeendpoint.RouteResult{Payload: frame[1:]}
	if frame[0] != 0 {
		res.Outcome = routeendpoint.OutcomeHandled
	} else {
		res.Outcome = routeendpoint.OutcomeUnhandled
	}
	return res
}
