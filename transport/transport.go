// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package transport defines the physical-transport contract (spec §6.2)
// consumed by the routing layer, and a multiplexer that lets many Route
// Endpoints in the same process share one physical connection by demuxing
// on a path-like key (spec §4.6, "end-points/<endpoint>").
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/routefabric/routefabric/fabrictypes"
	"github.com/routefabric/routefabric/ferrors"
)

// Transport is the narrow physical-transport contract (spec §6.2):
// fire-and-forget Send and blocking Receive of opaque frames.
//
// Thread Safety: Implementations must support concurrent Send calls;
// Receive is called from exactly one goroutine (the Multiplexer's pump).
type Transport interface {
	// Send transmits frame to remoteAddress on a best-effort basis: the
	// transport itself does not guarantee delivery or acknowledge it.
	Send(ctx context.Context, remoteAddress fabrictypes.PhysicalAddress, frame []byte) error

	// Receive blocks until one frame arrives, returning it along with the
	// address it arrived from.
	Receive(ctx context.Context) (frame []byte, remoteAddress fabrictypes.PhysicalAddress, err error)

	// LocalAddress returns this transport's own address, as seen by peers.
	LocalAddress() fabrictypes.PhysicalAddress

	// Close releases the transport's resources; Receive unblocks with
	// ferrors.ErrDisposed.
	Close() error
}

// Multiplexer demultiplexes one shared Transport into per-key sub-endpoints
// so several Route Endpoints can coexist on one physical connection (spec
// §6.2 "A multiplexer on this transport yields a sub-endpoint by key").
//
// Thread Safety: Open/Close/pump are all safe for concurrent use.
type Multiplexer struct {
	transport Transport
	logger    *slog.Logger

	mu         sync.Mutex
	routes     map[string]*Endpoint
	unroutable func(key string, frame []byte, remote fabrictypes.PhysicalAddress)
	closed     bool
	done       chan struct{}
}

// NewMultiplexer wraps transport and immediately starts its demux pump.
func NewMultiplexer(transport Transport, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Multiplexer{
		transport: transport,
		logger:    logger,
		routes:    make(map[string]*Endpoint),
		done:      make(chan struct{}),
	}
	go m.pump()
	return m
}

// Open registers key as a demultiplexer key and returns the Endpoint that
// sends/receives frames tagged with it. Opening the same key twice replaces
// the previous registration's inbound channel.
func (m *Multiplexer) Open(key string) *Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep := &Endpoint{
		mux:    m,
		key:    key,
		inbox:  make(chan inboundFrame, 64),
		closed: make(chan struct{}),
	}
	m.routes[key] = ep
	return ep
}

// SetUnroutableHandler installs fn to be called with any inbound frame
// whose demux key matches no open Endpoint. Only the pump sees such
// frames: once a key matches, the frame goes to that Endpoint and fn is
// never involved. The routing layer uses this to answer misdirected
// requests (spec §4.6.3 step 1); without a handler the frame is dropped.
func (m *Multiplexer) SetUnroutableHandler(fn func(key string, frame []byte, remote fabrictypes.PhysicalAddress)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unroutable = fn
}

// Send transmits payload to remoteAddress tagged with remoteKey, outside
// any Endpoint. Used by the unroutable handler, which has no Endpoint of
// its own to reply through.
func (m *Multiplexer) Send(ctx context.Context, remoteAddress fabrictypes.PhysicalAddress, remoteKey string, payload []byte) error {
	return m.transport.Send(ctx, remoteAddress, encodeDemuxFrame(remoteKey, payload))
}

// LocalAddress returns the underlying transport's address.
func (m *Multiplexer) LocalAddress() fabrictypes.PhysicalAddress { return m.transport.LocalAddress() }

// Close closes the underlying transport and every open Endpoint.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	routes := m.routes
	m.routes = nil
	m.mu.Unlock()

	for _, ep := range routes {
		close(ep.closed)
	}
	close(m.done)
	return m.transport.Close()
}

func (m *Multiplexer) unregister(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.routes, key)
}

func (m *Multiplexer) pump() {
	ctx := context.Background()
	for {
		frame, remote, err := m.transport.Receive(ctx)
		if err != nil {
			m.logger.Debug("transport: pump stopping", "error", err)
			return
		}
		key, payload, err := decodeDemuxFrame(frame)
		if err != nil {
			m.logger.Warn("transport: dropping malformed demux frame", "error", err)
			continue
		}
		m.mu.Lock()
		ep, ok := m.routes[key]
		unroutable := m.unroutable
		m.mu.Unlock()
		if !ok {
			if unroutable != nil {
				go unroutable(key, payload, remote)
			} else {
				m.logger.Debug("transport: dropping frame for unknown local key", "key", key)
			}
			continue
		}
		select {
		case ep.inbox <- inboundFrame{payload: payload, remote: remote}:
		case <-ep.closed:
		default:
			m.logger.Warn("transport: inbox full, dropping frame", "key", key)
		}
	}
}

// Endpoint is one demultiplexed sub-endpoint of a Multiplexer.
type Endpoint struct {
	mux    *Multiplexer
	key    string
	inbox  chan inboundFrame
	closed chan struct{}
}

type inboundFrame struct {
	payload []byte
	remote  fabrictypes.PhysicalAddress
}

// Send transmits payload to remoteAddress, tagged with remoteKey — the
// demultiplexer key the *receiving* side opened (spec §4.6, typically
// "end-points/<rxEndpoint>"). This is deliberately not e.key: the sender's
// own key only governs where its replies are delivered.
func (e *Endpoint) Send(ctx context.Context, remoteAddress fabrictypes.PhysicalAddress, remoteKey string, payload []byte) error {
	return e.mux.Send(ctx, remoteAddress, remoteKey, payload)
}

// Receive blocks until a frame tagged with this Endpoint's key arrives, the
// context is cancelled, or the Endpoint/Multiplexer is closed.
func (e *Endpoint) Receive(ctx context.Context) ([]byte, fabrictypes.PhysicalAddress, error) {
	select {
	case f := <-e.inbox:
		return f.payload, f.remote, nil
	case <-e.closed:
		return nil, nil, ferrors.ErrDisposed
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// Close unregisters this Endpoint from its Multiplexer; the underlying
// transport and other Endpoints are unaffected.
func (e *Endpoint) Close() error {
	e.mux.unregister(e.key)
	select {
	case <-e.closed:
	default:
		close(e.closed)
	}
	return nil
}

func encodeDemuxFrame(key string, payload []byte) []byte {
	buf := make([]byte, 4+len(key)+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(key)))
	off := 4
	copy(buf[off:off+len(key)], key)
	off += len(key)
	copy(buf[off:], payload)
	return buf
}

func decodeDemuxFrame(frame []byte) (key string, payload []byte, err error) {
	if len(frame) < 4 {
		return "", nil, fmt.Errorf("transport: demux frame too short: %d bytes", len(frame))
	}
	klen := binary.BigEndian.Uint32(frame[0:4])
	if int(klen) > len(frame)-4 {
		return "", nil, fmt.Errorf("transport: demux key length %d exceeds frame", klen)
	}
	key = string(frame[4 : 4+klen])
	payload = frame[4+klen:]
	return key, payload, nil
}
