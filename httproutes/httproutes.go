// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package httproutes implements the HTTP-prefix-dispatch variant of the
// route registry (spec §6.4 "/http-routes"): a coordination-tree index
// mapping an HTTP path prefix to the logical endpoints that serve it.
//
// Unlike the general route registry, where deduplication is
// first-in-enumeration-order, prefix dispatch is earliest-created-wins
// (spec §4.4 "Ordering & tie-breaks"): a later virtual endpoint can never
// shadow one already registered for the same prefix. Entries are always
// ephemeral; a prefix binding has no meaning once the process serving it
// is gone.
package httproutes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/routefabric/routefabric/coordination"
	"github.com/routefabric/routefabric/fabricmetrics"
	"github.com/routefabric/routefabric/fabrictypes"
	"github.com/routefabric/routefabric/ferrors"
	"github.com/routefabric/routefabric/pathcodec"
)

const root = "http-routes"

// idSeparator joins the escaped endpoint and session halves of a child
// segment, matching §6.4's "<endpoint>->-<session>" template. The escaped
// endpoint half can itself contain "->-" (an endpoint "a->-b" escapes to
// "a-->--b"), but the session half is base64url text and never contains
// '>', so the last occurrence of the separator is always the real one.
const idSeparator = "->-"

// Registry is the HTTP-prefix-dispatch index over a coordination.Store.
//
// Thread Safety: Safe for concurrent use; all state lives in the store.
type Registry struct {
	store  coordination.Store
	logger *slog.Logger
}

// New wraps store as an HTTP-prefix registry. logger may be nil.
func New(store coordination.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, logger: logger}
}

func prefixRoot(prefix string) string {
	return pathcodec.JoinRaw("/"+root, prefix)
}

func childSegment(endpoint fabrictypes.EndpointAddress, sessionStr string) string {
	return pathcodec.Escape(string(endpoint)) + idSeparator + pathcodec.Escape(sessionStr)
}

// reserved reports whether prefix names a reserved binding. Reserved
// prefixes are rejected on Add and read as empty on Get (spec §8).
func reserved(prefix string) bool {
	return strings.HasPrefix(prefix, "_")
}

func validPrefix(prefix string) bool {
	return strings.TrimSpace(prefix) != ""
}

// Add registers endpoint as a server of prefix under this session. The
// entry is ephemeral: it dies with the session. Repeated Add with the same
// (prefix, endpoint, session) is a no-op after the first success.
func (r *Registry) Add(ctx context.Context, prefix string, endpoint fabrictypes.EndpointAddress) (err error) {
	ctx, span := fabricmetrics.StartClientSpan(ctx, "httproutes.Add")
	defer func() {
		span.End()
		fabricmetrics.HTTPRouteOpTotal.WithLabelValues("add", outcomeLabel(err)).Inc()
	}()
	if !validPrefix(prefix) {
		return fmt.Errorf("httproutes: Add requires a non-empty prefix: %w", ferrors.ErrArgumentInvalid)
	}
	if reserved(prefix) {
		return fmt.Errorf("httproutes: prefix %q is reserved: %w", prefix, ferrors.ErrArgumentInvalid)
	}
	if endpoint.IsZero() {
		return fmt.Errorf("httproutes: Add requires a non-empty endpoint: %w", ferrors.ErrArgumentInvalid)
	}
	sess, err := r.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("httproutes: resolving session: %w", err)
	}
	path := pathcodec.Join(prefixRoot(prefix), childSegment(endpoint, sess.String()))
	if _, err := r.store.GetOrCreate(ctx, path, []byte(endpoint), coordination.ModeEphemeral); err != nil {
		return fmt.Errorf("httproutes: Add %s: %w", path, err)
	}
	return nil
}

// Remove deletes this session's binding of endpoint to prefix. A missing
// entry is not an error.
func (r *Registry) Remove(ctx context.Context, prefix string, endpoint fabrictypes.EndpointAddress) (err error) {
	ctx, span := fabricmetrics.StartClientSpan(ctx, "httproutes.Remove")
	defer func() {
		span.End()
		fabricmetrics.HTTPRouteOpTotal.WithLabelValues("remove", outcomeLabel(err)).Inc()
	}()
	if !validPrefix(prefix) {
		return fmt.Errorf("httproutes: Remove requires a non-empty prefix: %w", ferrors.ErrArgumentInvalid)
	}
	sess, err := r.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("httproutes: resolving session: %w", err)
	}
	path := pathcodec.Join(prefixRoot(prefix), childSegment(endpoint, sess.String()))
	if _, err := r.store.Delete(ctx, path, coordination.AnyVersion, false); err != nil && !errors.Is(err, ferrors.ErrEntryNotFound) {
		return fmt.Errorf("httproutes: Remove %s: %w", path, err)
	}
	return nil
}

// binding is one prefix registration with its creation order key.
type binding struct {
	endpoint fabrictypes.EndpointAddress
	created  time.Time
	segment  string
}

// GetEndpoints returns every endpoint registered for prefix, ordered by
// entry creation time ascending and deduplicated by endpoint with the
// earliest creation winning. An empty or whitespace-only prefix is
// rejected; a reserved prefix reads as empty (spec §8).
func (r *Registry) GetEndpoints(ctx context.Context, prefix string) (endpoints []fabrictypes.EndpointAddress, err error) {
	ctx, span := fabricmetrics.StartServerSpan(ctx, "httproutes.GetEndpoints")
	defer func() {
		span.End()
		fabricmetrics.HTTPRouteOpTotal.WithLabelValues("get_endpoints", outcomeLabel(err)).Inc()
	}()
	if !validPrefix(prefix) {
		return nil, fmt.Errorf("httproutes: GetEndpoints requires a non-empty prefix: %w", ferrors.ErrArgumentInvalid)
	}
	if reserved(prefix) {
		return nil, nil
	}
	rootPath := prefixRoot(prefix)
	segments, err := r.store.Children(ctx, rootPath)
	if err != nil {
		return nil, fmt.Errorf("httproutes: GetEndpoints listing %s: %w", rootPath, err)
	}

	bindings := make([]binding, 0, len(segments))
	for _, seg := range segments {
		entry, err := r.store.Get(ctx, pathcodec.Join(rootPath, seg))
		if err != nil {
			r.logger.Warn("httproutes: reading prefix entry failed", "prefix", prefix, "segment", seg, "error", err)
			continue
		}
		if entry == nil {
			continue
		}
		endpoint := fabrictypes.EndpointAddress(entry.Value)
		if endpoint.IsZero() {
			endpoint = endpointFromSegment(seg)
		}
		if endpoint.IsZero() {
			r.logger.Warn("httproutes: malformed prefix entry", "prefix", prefix, "segment", seg)
			continue
		}
		bindings = append(bindings, binding{endpoint: endpoint, created: entry.CreationTime, segment: seg})
	}

	// Earliest-created wins; segment order breaks creation-time ties so the
	// selection is deterministic even when the store's clock is coarse.
	sort.Slice(bindings, func(i, j int) bool {
		if !bindings[i].created.Equal(bindings[j].created) {
			return bindings[i].created.Before(bindings[j].created)
		}
		return bindings[i].segment < bindings[j].segment
	})

	seen := make(map[fabrictypes.EndpointAddress]bool, len(bindings))
	endpoints = make([]fabrictypes.EndpointAddress, 0, len(bindings))
	for _, b := range bindings {
		if seen[b.endpoint] {
			continue
		}
		seen[b.endpoint] = true
		endpoints = append(endpoints, b.endpoint)
	}
	return endpoints, nil
}

// ResolveEndpoint returns the dispatch winner for prefix: the endpoint
// whose registration was created earliest. ok is false when no endpoint
// is registered.
func (r *Registry) ResolveEndpoint(ctx context.Context, prefix string) (endpoint fabrictypes.EndpointAddress, ok bool, err error) {
	endpoints, err := r.GetEndpoints(ctx, prefix)
	if err != nil {
		return "", false, err
	}
	if len(endpoints) == 0 {
		return "", false, nil
	}
	return endpoints[0], true, nil
}

// endpointFromSegment recovers the endpoint half of a child segment for
// entries written with an empty value by older writers.
func endpointFromSegment(segment string) fabrictypes.EndpointAddress {
	idx := strings.LastIndex(segment, idSeparator)
	if idx < 0 {
		return ""
	}
	raw, err := pathcodec.Unescape(segment[:idx])
	if err != nil {
		return ""
	}
	return fabrictypes.EndpointAddress(raw)
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
