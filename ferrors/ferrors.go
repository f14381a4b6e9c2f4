// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ferrors defines the sentinel error taxonomy shared across the
// routing and registry layers (spec §7). Logical errors are surfaced to
// callers synchronously via errors.Is/errors.As. Transient errors met while
// Send resolves replicas are retried with backoff by routeendpoint until
// the caller's context ends; the coordination, registry and map packages
// do not retry and return them to their callers.
package ferrors

import "errors"

// Sentinel errors. Wrap with fmt.Errorf("...: %w", Err*) to attach context;
// callers match with errors.Is.
var (
	// ErrArgumentInvalid is returned for a default-valued endpoint, an
	// empty route, or any other malformed request rejected before I/O.
	ErrArgumentInvalid = errors.New("routefabric: argument invalid")

	// ErrDuplicateEntry is returned when a coordination-store Create call
	// observes a path that already exists.
	ErrDuplicateEntry = errors.New("routefabric: duplicate entry")

	// ErrEntryNotFound is returned when SetValue/Delete targets a missing
	// coordination entry. Registry cleanup paths treat this as success.
	ErrEntryNotFound = errors.New("routefabric: entry not found")

	// ErrMisrouted is surfaced to a Send/SendTo caller as an unhandled
	// result when the reached replica does not host the target endpoint.
	ErrMisrouted = errors.New("routefabric: misrouted")

	// ErrCancelled means a user-supplied context was cancelled.
	ErrCancelled = errors.New("routefabric: cancelled")

	// ErrDisposed means the call targets an endpoint or routing system
	// that has already been closed.
	ErrDisposed = errors.New("routefabric: disposed")

	// ErrStoreUnavailable marks a transient coordination-store failure.
	// Send's replica resolution retries it with backoff; other store
	// operations return it to their callers.
	ErrStoreUnavailable = errors.New("routefabric: coordination store unavailable")

	// ErrTransportError marks a transient physical-transport I/O failure.
	ErrTransportError = errors.New("routefabric: transport error")

	// ErrAlreadyExists is returned by RoutingSystem.CreateEndpoint when the
	// endpoint address is already hosted locally.
	ErrAlreadyExists = errors.New("routefabric: endpoint already exists")
)
