// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coordination

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/routefabric/routefabric/ferrors"
)

// node is the internal representation of one entry in the in-memory tree.
type node struct {
	value         []byte
	version       int64
	mode          Mode
	sessionID     string
	creationTime  time.Time
	lastWriteTime time.Time
}

// Backend is the shared, process-wide state behind one or more MemStore
// client handles (spec §4.2: many Store connections, one coordination
// service). Use NewBackend once per test/process and hand out client
// handles with NewClient.
//
// Thread Safety: Safe for concurrent use.
type Backend struct {
	mu      sync.Mutex
	nodes   map[string]*node
	nextVer int64
}

// NewBackend creates an empty in-memory coordination tree.
func NewBackend() *Backend {
	return &Backend{nodes: make(map[string]*node)}
}

// ExpireSession deletes every entry owned by sessionID, simulating a
// session crash and restoring invariants I1/I2 per I3.
func (b *Backend) ExpireSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for p, n := range b.nodes {
		if n.mode == ModeEphemeral && n.sessionID == sessionID {
			delete(b.nodes, p)
		}
	}
}

// MemStore is an in-memory Store implementation suitable for unit tests and
// single-process demos. Each MemStore represents one session-scoped client
// connection over a shared Backend.
type MemStore struct {
	backend   *Backend
	session   Session
	sessionID string
}

// NewClient returns a new session-scoped Store handle over backend. addr is
// the physical address this session will announce via the endpoint map.
func NewClient(backend *Backend, physicalAddress []byte) *MemStore {
	id := uuid.NewString()
	return &MemStore{
		backend:   backend,
		sessionID: id,
		session:   Session{Prefix: []byte(id), PhysicalAddress: physicalAddress},
	}
}

func (m *MemStore) Create(_ context.Context, path string, value []byte, mode Mode) (*Entry, error) {
	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()
	if _, exists := m.backend.nodes[path]; exists {
		return nil, fmt.Errorf("create %s: %w", path, ferrors.ErrDuplicateEntry)
	}
	now := time.Now()
	m.backend.nextVer++
	n := &node{value: append([]byte(nil), value...), version: m.backend.nextVer, mode: mode, sessionID: m.sessionID, creationTime: now, lastWriteTime: now}
	m.backend.nodes[path] = n
	return entryFromNode(path, n, m.backend.childrenLocked(path)), nil
}

func (m *MemStore) GetOrCreate(ctx context.Context, path string, value []byte, mode Mode) (*Entry, error) {
	e, err := m.Create(ctx, path, value, mode)
	if err == nil {
		return e, nil
	}
	if !isDuplicate(err) {
		return nil, err
	}
	return m.Get(ctx, path)
}

func (m *MemStore) Get(_ context.Context, path string) (*Entry, error) {
	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()
	n, ok := m.backend.nodes[path]
	if !ok {
		return nil, nil
	}
	return entryFromNode(path, n, m.backend.childrenLocked(path)), nil
}

func (m *MemStore) SetValue(_ context.Context, path string, value []byte, expectedVersion int64) (int64, error) {
	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()
	n, ok := m.backend.nodes[path]
	if !ok {
		return 0, fmt.Errorf("set %s: %w", path, ferrors.ErrEntryNotFound)
	}
	if expectedVersion != AnyVersion && n.version != expectedVersion {
		return 0, fmt.Errorf("set %s: version mismatch (have %d, want %d)", path, n.version, expectedVersion)
	}
	prior := n.version
	m.backend.nextVer++
	n.value = append([]byte(nil), value...)
	n.version = m.backend.nextVer
	n.lastWriteTime = time.Now()
	return prior, nil
}

func (m *MemStore) Delete(_ context.Context, path string, expectedVersion int64, recursive bool) (int64, error) {
	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()
	n, ok := m.backend.nodes[path]
	if !ok {
		return 0, fmt.Errorf("delete %s: %w", path, ferrors.ErrEntryNotFound)
	}
	if expectedVersion != AnyVersion && n.version != expectedVersion {
		return 0, fmt.Errorf("delete %s: version mismatch (have %d, want %d)", path, n.version, expectedVersion)
	}
	prior := n.version
	delete(m.backend.nodes, path)
	if recursive {
		prefix := path + "/"
		for p := range m.backend.nodes {
			if strings.HasPrefix(p, prefix) {
				delete(m.backend.nodes, p)
			}
		}
	}
	return prior, nil
}

func (m *MemStore) Children(_ context.Context, path string) ([]string, error) {
	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()
	return m.backend.childrenLocked(path), nil
}

func (m *MemStore) Session(_ context.Context) (Session, error) {
	return m.session, nil
}

func (m *MemStore) Close() error {
	m.backend.ExpireSession(m.sessionID)
	return nil
}

func (b *Backend) childrenLocked(path string) []string {
	prefix := strings.TrimRight(path, "/") + "/"
	seen := map[string]bool{}
	for p := range b.nodes {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if seg, _, found := strings.Cut(rest, "/"); found {
			seen[seg] = true
		} else if rest != "" {
			seen[rest] = true
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func entryFromNode(path string, n *node, children []string) *Entry {
	return &Entry{
		Path:          path,
		Value:         append([]byte(nil), n.value...),
		Version:       n.version,
		Mode:          n.mode,
		CreationTime:  n.creationTime,
		LastWriteTime: n.lastWriteTime,
		Children:      children,
	}
}

func isDuplicate(err error) bool {
	return errors.Is(err, ferrors.ErrDuplicateEntry)
}

var _ Store = (*MemStore)(nil)
