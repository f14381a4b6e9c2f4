// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routeendpoint implements C6, the per-logical-endpoint
// request/reply state machine (spec §4.6): sequence/correlation numbering,
// multi-replica fan-out with timeout/failover, cancellation propagation,
// and misroute detection, over a multiplexed physical endpoint.
package routeendpoint

import (
	"github.com/routefabric/routefabric/fabrictypes"
)

// Outcome classifies how a Send/SendTo call concluded (spec §9,
// "Exceptions used as result carriers" redesign: a sum-typed result
// instead of a typed-exception hierarchy).
type Outcome int

const (
	// OutcomeHandled means a peer returned a Response with handled=true.
	OutcomeHandled Outcome = iota
	// OutcomeUnhandled means every reached replica answered handled=false,
	// or a Misrouted response was received, or every replica's window
	// elapsed without any reply. (When no replica is ever mapped, Send keeps
	// retrying resolution until the context ends and reports OutcomeCancelled.)
	OutcomeUnhandled
	// OutcomeCancelled means the caller's context was cancelled before a
	// handled response arrived.
	OutcomeCancelled
	// OutcomeDisposed means the local endpoint was closed during the call.
	OutcomeDisposed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHandled:
		return "Handled"
	case OutcomeUnhandled:
		return "Unhandled"
	case OutcomeCancelled:
		return "Cancelled"
	case OutcomeDisposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// RouteResult is the outcome of Send/SendTo (spec §4.6.2, §9).
type RouteResult struct {
	Outcome Outcome
	Payload []byte
}

// Handled reports whether Outcome is OutcomeHandled, for callers that only
// care about the boolean distinction spec §8's scenarios describe.
func (r RouteResult) Handled() bool { return r.Outcome == OutcomeHandled }

// InboundRequest is one dequeued Request (spec §4.6.2 Receive). Cancel
// fires when a matching CancellationRequest arrives from the same peer.
type InboundRequest struct {
	Payload        []byte
	RemoteEndpoint fabrictypes.EndpointAddress
	RemoteAddress  fabrictypes.PhysicalAddress
	Cancel         <-chan struct{}
	Reply          *ReplyHandle
}
