// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routeregistry implements C4: the coordination-tree index mapping
// routes to the set of registered (endpoint, options) targets, with a
// reverse index per session for crash cleanup (spec §4.4, §3 "Route
// registry tree").
//
// Every forward entry /routes/<route>/<id> is mirrored by a reverse entry
// /reverse-routes/<session>/<endpoint>/<route> carrying the same options
// (spec I2). The reverse entry exists solely so RemoveRoutes can enumerate
// and delete a session's own registrations without scanning the forward
// tree.
package routeregistry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/routefabric/routefabric/coordination"
	"github.com/routefabric/routefabric/fabricmetrics"
	"github.com/routefabric/routefabric/fabrictypes"
	"github.com/routefabric/routefabric/ferrors"
	"github.com/routefabric/routefabric/pathcodec"
)

const (
	forwardRoot = "routes"
	reverseRoot = "reverse-routes"
)

// Registry is the C4 route registry over a coordination.Store.
//
// Thread Safety: Safe for concurrent use; all state lives in the store.
type Registry struct {
	store  coordination.Store
	logger *slog.Logger
}

// New wraps store as a route registry. logger may be nil.
func New(store coordination.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, logger: logger}
}

// registrationID derives the forward-tree id for (endpoint, session),
// matching §6.4's "id = hash(endpoint,session)".
func registrationID(endpoint fabrictypes.EndpointAddress, sessionStr string) string {
	h := sha256.Sum256([]byte(string(endpoint) + "\x00" + sessionStr))
	return hex.EncodeToString(h[:])[:16]
}

func forwardPath(route fabrictypes.Route, id string) string {
	p := pathcodec.JoinRaw("/"+forwardRoot, string(route))
	return pathcodec.JoinRaw(p, id)
}

func forwardRouteRoot(route fabrictypes.Route) string {
	return pathcodec.JoinRaw("/"+forwardRoot, string(route))
}

func reversePath(sessionStr string, endpoint fabrictypes.EndpointAddress, route fabrictypes.Route) string {
	p := pathcodec.JoinRaw("/"+reverseRoot, sessionStr)
	p = pathcodec.JoinRaw(p, string(endpoint))
	return pathcodec.JoinRaw(p, string(route))
}

func reverseEndpointRoot(sessionStr string, endpoint fabrictypes.EndpointAddress) string {
	p := pathcodec.JoinRaw("/"+reverseRoot, sessionStr)
	return pathcodec.JoinRaw(p, string(endpoint))
}

func encodeOptions(endpoint fabrictypes.EndpointAddress, opts fabrictypes.RegistrationOptions) []byte {
	v := make([]byte, 1+len(endpoint))
	v[0] = byte(opts)
	copy(v[1:], endpoint)
	return v
}

func decodeOptions(v []byte) (fabrictypes.EndpointAddress, fabrictypes.RegistrationOptions, error) {
	if len(v) < 1 {
		return "", 0, errors.New("routeregistry: truncated forward entry value")
	}
	return fabrictypes.EndpointAddress(v[1:]), fabrictypes.RegistrationOptions(v[0]), nil
}

func modeFor(opts fabrictypes.RegistrationOptions) coordination.Mode {
	if opts.IsTransient() {
		return coordination.ModeEphemeral
	}
	return coordination.ModeDefault
}

// AddRoute registers endpoint for route with opts. The reverse entry is
// created first, then the forward entry (spec §4.4), so a crash between the
// two always leaves the reverse entry as the source of truth for the next
// AddRoute or RemoveRoutes by the same session to heal from.
//
// If the forward entry already exists with different options, this
// implementation's policy is last-writer-wins: it overwrites the forward
// value with the new options via SetValue (DESIGN.md "open question:
// duplicate registration with differing options").
func (r *Registry) AddRoute(ctx context.Context, endpoint fabrictypes.EndpointAddress, route fabrictypes.Route, opts fabrictypes.RegistrationOptions) (err error) {
	ctx, span := fabricmetrics.StartClientSpan(ctx, "routeregistry.AddRoute")
	defer func() {
		span.End()
		fabricmetrics.RegistryOpTotal.WithLabelValues("add_route", outcomeLabel(err)).Inc()
	}()
	if endpoint.IsZero() {
		return fmt.Errorf("routeregistry: AddRoute requires a non-empty endpoint: %w", ferrors.ErrArgumentInvalid)
	}
	if route == "" {
		return fmt.Errorf("routeregistry: AddRoute requires a non-empty route: %w", ferrors.ErrArgumentInvalid)
	}
	sess, err := r.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("routeregistry: resolving session: %w", err)
	}
	sessStr := sess.String()
	mode := modeFor(opts)

	rPath := reversePath(sessStr, endpoint, route)
	rEntry, err := r.store.GetOrCreate(ctx, rPath, []byte{byte(opts)}, mode)
	if err != nil {
		return fmt.Errorf("routeregistry: AddRoute reverse entry: %w", err)
	}
	// Last-writer-wins applies to both trees: a pre-existing reverse entry
	// with different options is overwritten so forward and reverse never
	// disagree (I2).
	if len(rEntry.Value) != 1 || rEntry.Value[0] != byte(opts) {
		if _, err := r.store.SetValue(ctx, rPath, []byte{byte(opts)}, rEntry.Version); err != nil {
			return fmt.Errorf("routeregistry: AddRoute overwriting differing reverse entry: %w", err)
		}
	}

	id := registrationID(endpoint, sessStr)
	fPath := forwardPath(route, id)
	value := encodeOptions(endpoint, opts)
	if _, err := r.store.Create(ctx, fPath, value, mode); err != nil {
		if !errors.Is(err, ferrors.ErrDuplicateEntry) {
			return fmt.Errorf("routeregistry: AddRoute forward entry: %w", err)
		}
		existing, getErr := r.store.Get(ctx, fPath)
		if getErr != nil {
			return fmt.Errorf("routeregistry: AddRoute re-reading forward entry: %w", getErr)
		}
		if existing != nil && string(existing.Value) != string(value) {
			if _, setErr := r.store.SetValue(ctx, fPath, value, existing.Version); setErr != nil {
				return fmt.Errorf("routeregistry: AddRoute overwriting differing forward entry: %w", setErr)
			}
		}
	}
	return nil
}

// RemoveRoute deletes both the forward and reverse entries for
// (endpoint, route) created by this session. Missing entries are not
// errors (spec §4.4).
func (r *Registry) RemoveRoute(ctx context.Context, endpoint fabrictypes.EndpointAddress, route fabrictypes.Route) (err error) {
	ctx, span := fabricmetrics.StartClientSpan(ctx, "routeregistry.RemoveRoute")
	defer func() {
		span.End()
		fabricmetrics.RegistryOpTotal.WithLabelValues("remove_route", outcomeLabel(err)).Inc()
	}()
	sess, err := r.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("routeregistry: resolving session: %w", err)
	}
	sessStr := sess.String()

	id := registrationID(endpoint, sessStr)
	fPath := forwardPath(route, id)
	if _, err := r.store.Delete(ctx, fPath, coordination.AnyVersion, false); err != nil && !isNotFound(err) {
		return fmt.Errorf("routeregistry: RemoveRoute forward entry: %w", err)
	}

	rPath := reversePath(sessStr, endpoint, route)
	if _, err := r.store.Delete(ctx, rPath, coordination.AnyVersion, false); err != nil && !isNotFound(err) {
		return fmt.Errorf("routeregistry: RemoveRoute reverse entry: %w", err)
	}
	return nil
}

// RemoveRoutes enumerates this session's reverse-index entries for
// endpoint and deletes the matching forward/reverse pairs. Only entries
// whose Transient flag equals !removePersistent are removed: removePersistent
// false removes transient registrations, true removes persistent ones. If
// removePersistent is true, the parent reverse-index node for endpoint is
// additionally removed recursively. Deletions proceed concurrently; the
// first error observed is returned after every deletion has been attempted
// (spec §4.4).
func (r *Registry) RemoveRoutes(ctx context.Context, endpoint fabrictypes.EndpointAddress, removePersistent bool) (err error) {
	ctx, span := fabricmetrics.StartClientSpan(ctx, "routeregistry.RemoveRoutes")
	defer func() {
		span.End()
		fabricmetrics.RegistryOpTotal.WithLabelValues("remove_routes", outcomeLabel(err)).Inc()
	}()
	sess, err := r.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("routeregistry: resolving session: %w", err)
	}
	sessStr := sess.String()
	root := reverseEndpointRoot(sessStr, endpoint)

	routes, err := r.store.Children(ctx, root)
	if err != nil {
		return fmt.Errorf("routeregistry: RemoveRoutes listing reverse entries: %w", err)
	}

	errCh := make(chan error, len(routes))
	for _, routeSeg := range routes {
		routeSeg := routeSeg
		go func() {
			route, err := pathcodec.Unescape(routeSeg)
			if err != nil {
				errCh <- fmt.Errorf("routeregistry: RemoveRoutes decoding route segment: %w", err)
				return
			}
			rPath := pathcodec.Join(root, routeSeg)
			entry, err := r.store.Get(ctx, rPath)
			if err != nil {
				errCh <- fmt.Errorf("routeregistry: RemoveRoutes reading reverse entry: %w", err)
				return
			}
			if entry == nil {
				errCh <- nil
				return
			}
			opts := fabrictypes.RegistrationOptions(0)
			if len(entry.Value) > 0 {
				opts = fabrictypes.RegistrationOptions(entry.Value[0])
			}
			if opts.IsTransient() == removePersistent {
				// Transient flag doesn't match what we're removing this pass.
				errCh <- nil
				return
			}

			id := registrationID(endpoint, sessStr)
			fPath := forwardPath(fabrictypes.Route(route), id)
			if _, err := r.store.Delete(ctx, fPath, coordination.AnyVersion, false); err != nil && !isNotFound(err) {
				errCh <- fmt.Errorf("routeregistry: RemoveRoutes forward entry %s: %w", fPath, err)
				return
			}
			if _, err := r.store.Delete(ctx, rPath, coordination.AnyVersion, false); err != nil && !isNotFound(err) {
				errCh <- fmt.Errorf("routeregistry: RemoveRoutes reverse entry %s: %w", rPath, err)
				return
			}
			errCh <- nil
		}()
	}

	var firstErr error
	for range routes {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if removePersistent {
		if _, err := r.store.Delete(ctx, root, coordination.AnyVersion, true); err != nil && !isNotFound(err) && firstErr == nil {
			firstErr = fmt.Errorf("routeregistry: RemoveRoutes removing reverse root: %w", err)
		}
	}
	return firstErr
}

// GetRoutes enumerates every forward entry for route and deduplicates by
// endpoint, first occurrence wins within enumeration order (spec §4.4).
func (r *Registry) GetRoutes(ctx context.Context, route fabrictypes.Route) (targets []fabrictypes.RouteTarget, err error) {
	ctx, span := fabricmetrics.StartClientSpan(ctx, "routeregistry.GetRoutes")
	defer func() {
		span.End()
		fabricmetrics.RegistryOpTotal.WithLabelValues("get_routes", outcomeLabel(err)).Inc()
	}()
	root := forwardRouteRoot(route)
	ids, err := r.store.Children(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("routeregistry: GetRoutes listing %s: %w", route, err)
	}
	sort.Strings(ids)

	seen := make(map[fabrictypes.EndpointAddress]bool, len(ids))
	targets = make([]fabrictypes.RouteTarget, 0, len(ids))
	for _, id := range ids {
		entry, err := r.store.Get(ctx, pathcodec.Join(root, id))
		if err != nil {
			r.logger.Warn("routeregistry: reading forward entry failed", "route", route, "id", id, "error", err)
			continue
		}
		if entry == nil {
			continue
		}
		endpoint, opts, err := decodeOptions(entry.Value)
		if err != nil {
			r.logger.Warn("routeregistry: malformed forward entry", "route", route, "id", id, "error", err)
			continue
		}
		if seen[endpoint] {
			continue
		}
		seen[endpoint] = true
		targets = append(targets, fabrictypes.RouteTarget{Endpoint: endpoint, Options: opts})
	}
	return targets, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ferrors.ErrEntryNotFound)
}

// outcomeLabel renders err as the "outcome" label recorded alongside every
// fabricmetrics.RegistryOpTotal increment.
func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
