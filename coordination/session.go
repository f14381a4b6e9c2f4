// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coordination

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Session is this process's liveness-scoped identity in the coordination
// service (spec §3 "Session", §4.2 "Session Handle").
type Session struct {
	Prefix          []byte
	PhysicalAddress []byte
}

// Bytes serializes the session as len(prefix) || prefix || physicalAddress.
func (s Session) Bytes() []byte {
	out := make([]byte, 4+len(s.Prefix)+len(s.PhysicalAddress))
	binary.BigEndian.PutUint32(out[:4], uint32(len(s.Prefix)))
	copy(out[4:], s.Prefix)
	copy(out[4+len(s.Prefix):], s.PhysicalAddress)
	return out
}

// String renders the session as a stable, path-segment-safe base64 string.
func (s Session) String() string {
	return base64.RawURLEncoding.EncodeToString(s.Bytes())
}

// ParseSession inverts Session.String: it decodes the base64 path-segment
// form back into a Session.
func ParseSession(s string) (Session, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Session{}, fmt.Errorf("coordination: undecodable session string: %w", err)
	}
	return DecodeSession(raw)
}

// DecodeSession parses the wire form produced by Session.Bytes.
func DecodeSession(b []byte) (Session, error) {
	if len(b) < 4 {
		return Session{}, errors.New("coordination: truncated session")
	}
	n := binary.BigEndian.Uint32(b[:4])
	if uint64(4+n) > uint64(len(b)) {
		return Session{}, errors.New("coordination: truncated session prefix")
	}
	prefix := append([]byte(nil), b[4:4+n]...)
	addr := append([]byte(nil), b[4+n:]...)
	return Session{Prefix: prefix, PhysicalAddress: addr}, nil
}

// LeaseRenewer is implemented by Store backends that require an explicit
// heartbeat to keep a session's lease (and therefore its ephemeral entries)
// alive. Backends that don't need one (e.g. the in-memory Store) simply
// don't implement it.
type LeaseRenewer interface {
	RenewLease(ctx context.Context) error
}

// SessionManager obtains a Store's Session once, under a single-winner
// compare-and-set, and caches it forever (spec §4.2, §9 "Session as
// module-level cache"). It also drives the keep-alive loop that renews the
// session's lease for as long as the manager is running (SPEC_FULL §4.11).
//
// Thread Safety: Safe for concurrent use.
type SessionManager struct {
	store  Store
	logger *slog.Logger

	once    sync.Once
	session Session
	sessErr error

	mu      sync.Mutex
	expired bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSessionManager wraps store. logger may be nil, in which case
// slog.Default() is used.
func NewSessionManager(store Store, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{store: store, logger: logger}
}

// Get returns the cached Session, obtaining it from the store on first call.
func (m *SessionManager) Get(ctx context.Context) (Session, error) {
	m.once.Do(func() {
		m.session, m.sessErr = m.store.Session(ctx)
	})
	return m.session, m.sessErr
}

// Expired reports whether the keep-alive loop has given up renewing the
// lease, meaning the session (and this process's ephemeral entries) should
// be considered gone from the coordination service's point of view.
func (m *SessionManager) Expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expired
}

// StartKeepAlive launches the lease-renewal loop at the given interval. It
// is a no-op if the store does not implement LeaseRenewer. maxFailures
// consecutive renewal errors mark the session Expired and stop the loop.
// Call the returned stop function (or cancel ctx) to shut the loop down
// cleanly on normal Close.
func (m *SessionManager) StartKeepAlive(ctx context.Context, interval time.Duration, maxFailures int) (stop func()) {
	renewer, ok := m.store.(LeaseRenewer)
	if !ok {
		return func() {}
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		failures := 0
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if err := renewer.RenewLease(loopCtx); err != nil {
					failures++
					m.logger.Warn("session lease renewal failed", "error", err, "consecutive_failures", failures)
					if failures >= maxFailures {
						m.mu.Lock()
						m.expired = true
						m.mu.Unlock()
						m.logger.Error("session lease expired after repeated renewal failures")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
