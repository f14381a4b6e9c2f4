// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fabrictypes holds the small, shared data-model values used across
// every layer of the routing fabric (spec §3): endpoint addresses, routes,
// registration options, and the opaque physical-address wire form. None of
// these types carry behavior beyond equality and (de)serialization, so
// keeping them in one leaf package avoids import cycles between
// endpointmap, routeregistry, routeendpoint, and router.
package fabrictypes

// EndpointAddress identifies a logical endpoint. Equality is byte equality;
// the empty value denotes "unknown" (spec §3 "EndpointAddress").
type EndpointAddress string

// IsZero reports whether a is the reserved "unknown" endpoint address.
func (a EndpointAddress) IsZero() bool { return a == "" }

// Route is a string tag with no structural interpretation (spec §3 "Route").
type Route string

// PhysicalAddress is an opaque, per-transport byte value (spec §3
// "PhysicalAddress<T>"). Concrete transports decode it into their own
// address representation (net.Addr, a WebSocket peer key, a NATS subject).
type PhysicalAddress []byte

func (a PhysicalAddress) String() string { return string(a) }

// RegistrationOptions is the flag set recognized by route registration
// (spec §3 "RouteRegistrationOptions").
type RegistrationOptions uint8

const (
	// Default is persistent and reachable via both point-to-point and publish.
	Default RegistrationOptions = 0
	// Transient marks a registration as session-scoped: removed when the
	// owning session dies.
	Transient RegistrationOptions = 1 << iota
	// PublishOnly marks a target as reachable only via publish, never
	// point-to-point routing.
	PublishOnly
)

// IsTransient reports whether the Transient flag is set.
func (o RegistrationOptions) IsTransient() bool { return o&Transient != 0 }

// IsPublishOnly reports whether the PublishOnly flag is set.
func (o RegistrationOptions) IsPublishOnly() bool { return o&PublishOnly != 0 }

// RouteTarget is one registered (endpoint, options) pair. Set semantics are
// keyed by Endpoint only (spec §3 "RouteTarget").
type RouteTarget struct {
	Endpoint EndpointAddress
	Options  RegistrationOptions
}
