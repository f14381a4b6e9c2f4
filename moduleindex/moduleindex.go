// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package moduleindex maintains the two module-level coordination trees
// (spec §6.4): /modules/prefixes/<prefix>/<hash(endpoint,session)> maps a
// module's address prefix to the endpoints announcing it, and
// /modules/running/<module-name>/<session> marks which sessions currently
// run a named module. Both trees are ephemeral: a crashed session's
// announcements vanish with its lease (spec I3).
package moduleindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/routefabric/routefabric/coordination"
	"github.com/routefabric/routefabric/fabricmetrics"
	"github.com/routefabric/routefabric/fabrictypes"
	"github.com/routefabric/routefabric/ferrors"
	"github.com/routefabric/routefabric/pathcodec"
)

const (
	prefixesRoot = "/modules/prefixes"
	runningRoot  = "/modules/running"
)

// Index is the module prefix/running registry over a coordination.Store.
//
// Thread Safety: Safe for concurrent use; all state lives in the store.
type Index struct {
	store  coordination.Store
	logger *slog.Logger
}

// New wraps store as a module index. logger may be nil.
func New(store coordination.Store, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{store: store, logger: logger}
}

// announcementID derives the prefix-tree child id for (endpoint, session),
// the same "id = hash(endpoint,session)" form the route registry uses for
// its forward entries (spec §6.4).
func announcementID(endpoint fabrictypes.EndpointAddress, sessionStr string) string {
	h := sha256.Sum256([]byte(string(endpoint) + "\x00" + sessionStr))
	return hex.EncodeToString(h[:])[:16]
}

func prefixPath(prefix string, id string) string {
	return pathcodec.Join(pathcodec.JoinRaw(prefixesRoot, prefix), id)
}

func prefixTreeRoot(prefix string) string {
	return pathcodec.JoinRaw(prefixesRoot, prefix)
}

func runningPath(module string, sessionStr string) string {
	return pathcodec.Join(pathcodec.JoinRaw(runningRoot, module), pathcodec.Escape(sessionStr))
}

func runningModuleRoot(module string) string {
	return pathcodec.JoinRaw(runningRoot, module)
}

// AnnouncePrefix registers endpoint under prefix in the module prefix
// tree. The entry is ephemeral. Repeated announcement by the same session
// is a no-op after the first success.
func (x *Index) AnnouncePrefix(ctx context.Context, prefix string, endpoint fabrictypes.EndpointAddress) (err error) {
	ctx, span := fabricmetrics.StartClientSpan(ctx, "moduleindex.AnnouncePrefix")
	defer func() {
		span.End()
		fabricmetrics.ModuleIndexOpTotal.WithLabelValues("announce_prefix", outcomeLabel(err)).Inc()
	}()
	if strings.TrimSpace(prefix) == "" {
		return fmt.Errorf("moduleindex: AnnouncePrefix requires a non-empty prefix: %w", ferrors.ErrArgumentInvalid)
	}
	if endpoint.IsZero() {
		return fmt.Errorf("moduleindex: AnnouncePrefix requires a non-empty endpoint: %w", ferrors.ErrArgumentInvalid)
	}
	sess, err := x.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("moduleindex: resolving session: %w", err)
	}
	path := prefixPath(prefix, announcementID(endpoint, sess.String()))
	if _, err := x.store.GetOrCreate(ctx, path, []byte(endpoint), coordination.ModeEphemeral); err != nil {
		return fmt.Errorf("moduleindex: AnnouncePrefix %s: %w", path, err)
	}
	return nil
}

// WithdrawPrefix removes this session's announcement of endpoint under
// prefix. A missing entry is not an error.
func (x *Index) WithdrawPrefix(ctx context.Context, prefix string, endpoint fabrictypes.EndpointAddress) (err error) {
	ctx, span := fabricmetrics.StartClientSpan(ctx, "moduleindex.WithdrawPrefix")
	defer func() {
		span.End()
		fabricmetrics.ModuleIndexOpTotal.WithLabelValues("withdraw_prefix", outcomeLabel(err)).Inc()
	}()
	sess, err := x.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("moduleindex: resolving session: %w", err)
	}
	path := prefixPath(prefix, announcementID(endpoint, sess.String()))
	if _, err := x.store.Delete(ctx, path, coordination.AnyVersion, false); err != nil && !errors.Is(err, ferrors.ErrEntryNotFound) {
		return fmt.Errorf("moduleindex: WithdrawPrefix %s: %w", path, err)
	}
	return nil
}

// GetPrefixEndpoints returns every endpoint announced under prefix,
// deduplicated by endpoint, first occurrence wins in sorted child-id
// order so the result is deterministic for a stable tree.
func (x *Index) GetPrefixEndpoints(ctx context.Context, prefix string) (endpoints []fabrictypes.EndpointAddress, err error) {
	ctx, span := fabricmetrics.StartServerSpan(ctx, "moduleindex.GetPrefixEndpoints")
	defer func() {
		span.End()
		fabricmetrics.ModuleIndexOpTotal.WithLabelValues("get_prefix_endpoints", outcomeLabel(err)).Inc()
	}()
	if strings.TrimSpace(prefix) == "" {
		return nil, fmt.Errorf("moduleindex: GetPrefixEndpoints requires a non-empty prefix: %w", ferrors.ErrArgumentInvalid)
	}
	root := prefixTreeRoot(prefix)
	ids, err := x.store.Children(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("moduleindex: GetPrefixEndpoints listing %s: %w", root, err)
	}
	sort.Strings(ids)

	seen := make(map[fabrictypes.EndpointAddress]bool, len(ids))
	endpoints = make([]fabrictypes.EndpointAddress, 0, len(ids))
	for _, id := range ids {
		entry, err := x.store.Get(ctx, pathcodec.Join(root, id))
		if err != nil {
			x.logger.Warn("moduleindex: reading prefix entry failed", "prefix", prefix, "id", id, "error", err)
			continue
		}
		if entry == nil || len(entry.Value) == 0 {
			continue
		}
		endpoint := fabrictypes.EndpointAddress(entry.Value)
		if seen[endpoint] {
			continue
		}
		seen[endpoint] = true
		endpoints = append(endpoints, endpoint)
	}
	return endpoints, nil
}

// MarkRunning records this session as running module. The entry's value is
// the session's physical address so operators can see where each module
// instance lives. Ephemeral; repeated marks are no-ops.
func (x *Index) MarkRunning(ctx context.Context, module string) (err error) {
	ctx, span := fabricmetrics.StartClientSpan(ctx, "moduleindex.MarkRunning")
	defer func() {
		span.End()
		fabricmetrics.ModuleIndexOpTotal.WithLabelValues("mark_running", outcomeLabel(err)).Inc()
	}()
	if strings.TrimSpace(module) == "" {
		return fmt.Errorf("moduleindex: MarkRunning requires a module name: %w", ferrors.ErrArgumentInvalid)
	}
	sess, err := x.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("moduleindex: resolving session: %w", err)
	}
	path := runningPath(module, sess.String())
	if _, err := x.store.GetOrCreate(ctx, path, sess.PhysicalAddress, coordination.ModeEphemeral); err != nil {
		return fmt.Errorf("moduleindex: MarkRunning %s: %w", path, err)
	}
	return nil
}

// UnmarkRunning removes this session's running mark for module. A missing
// entry is not an error.
func (x *Index) UnmarkRunning(ctx context.Context, module string) (err error) {
	ctx, span := fabricmetrics.StartClientSpan(ctx, "moduleindex.UnmarkRunning")
	defer func() {
		span.End()
		fabricmetrics.ModuleIndexOpTotal.WithLabelValues("unmark_running", outcomeLabel(err)).Inc()
	}()
	sess, err := x.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("moduleindex: resolving session: %w", err)
	}
	path := runningPath(module, sess.String())
	if _, err := x.store.Delete(ctx, path, coordination.AnyVersion, false); err != nil && !errors.Is(err, ferrors.ErrEntryNotFound) {
		return fmt.Errorf("moduleindex: UnmarkRunning %s: %w", path, err)
	}
	return nil
}

// RunningInstance is one live (session, physical address) pair for a module.
type RunningInstance struct {
	Session         coordination.Session
	PhysicalAddress fabrictypes.PhysicalAddress
}

// Running returns the live instances of module, one per session that has
// marked itself running, in sorted session order.
func (x *Index) Running(ctx context.Context, module string) (instances []RunningInstance, err error) {
	ctx, span := fabricmetrics.StartServerSpan(ctx, "moduleindex.Running")
	defer func() {
		span.End()
		fabricmetrics.ModuleIndexOpTotal.WithLabelValues("running", outcomeLabel(err)).Inc()
	}()
	if strings.TrimSpace(module) == "" {
		return nil, fmt.Errorf("moduleindex: Running requires a module name: %w", ferrors.ErrArgumentInvalid)
	}
	root := runningModuleRoot(module)
	segments, err := x.store.Children(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("moduleindex: Running listing %s: %w", root, err)
	}
	sort.Strings(segments)

	instances = make([]RunningInstance, 0, len(segments))
	for _, seg := range segments {
		entry, err := x.store.Get(ctx, pathcodec.Join(root, seg))
		if err != nil {
			x.logger.Warn("moduleindex: reading running entry failed", "module", module, "segment", seg, "error", err)
			continue
		}
		if entry == nil {
			continue
		}
		sessStr, err := pathcodec.Unescape(seg)
		if err != nil {
			x.logger.Warn("moduleindex: malformed running segment", "module", module, "segment", seg, "error", err)
			continue
		}
		sess, err := coordination.ParseSession(sessStr)
		if err != nil {
			x.logger.Warn("moduleindex: undecodable running session", "module", module, "segment", seg, "error", err)
			continue
		}
		instances = append(instances, RunningInstance{
			Session:         sess,
			PhysicalAddress: fabrictypes.PhysicalAddress(entry.Value),
		})
	}
	return instances, nil
}

// IsRunning reports whether at least one session currently runs module.
func (x *Index) IsRunning(ctx context.Context, module string) (bool, error) {
	instances, err := x.Running(ctx, module)
	if err != nil {
		return false, err
	}
	return len(instances) > 0, nil
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
