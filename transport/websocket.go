// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/routefabric/routefabric/fabrictypes"
	"github.com/routefabric/routefabric/ferrors"
)

// WebSocketTransport is a Transport backed by one long-lived WebSocket
// connection per peer node (spec §6.2, the production alternative to
// LoopbackTransport). Each connected peer announces its PhysicalAddress in
// a single handshake frame immediately after the socket opens, so a
// connection accepted by ServeHTTP can be indexed the same way an
// outbound Dial is.
//
// Thread Safety: Safe for concurrent use; each peer connection is guarded
// by its own write mutex since gorilla/websocket connections may not be
// written to concurrently.
type WebSocketTransport struct {
	local    fabrictypes.PhysicalAddress
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[string]*wsPeer
	inbox chan inboundFrame

	closeOnce sync.Once
	closed    chan struct{}
}

type wsPeer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	address fabrictypes.PhysicalAddress
}

// NewWebSocketTransport creates a transport that identifies itself as
// local to peers during the handshake.
func NewWebSocketTransport(local fabrictypes.PhysicalAddress, logger *slog.Logger) *WebSocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketTransport{
		local:  local,
		logger: logger,
		peers:  make(map[string]*wsPeer),
		inbox:  make(chan inboundFrame, 256),
		closed: make(chan struct{}),
	}
}

var _ Transport = (*WebSocketTransport)(nil)

// Dial opens an outbound connection to url, announces the local address,
// and registers the peer under remoteAddress.
func (t *WebSocketTransport) Dial(ctx context.Context, remoteAddress fabrictypes.PhysicalAddress, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("transport: dialing %s: %w", url, err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte(t.local)); err != nil {
		conn.Close()
		return fmt.Errorf("transport: sending handshake to %s: %w", url, err)
	}
	t.registerPeer(remoteAddress, conn)
	return nil
}

// ServeHTTP upgrades an inbound HTTP connection and reads the peer's
// handshake frame to learn its address, then registers it for Send.
// Intended to be mounted on a node's status/transport HTTP server.
func (t *WebSocketTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("transport: websocket upgrade failed", "error", err)
		return
	}
	_, handshake, err := conn.ReadMessage()
	if err != nil {
		t.logger.Warn("transport: websocket handshake read failed", "error", err)
		conn.Close()
		return
	}
	t.registerPeer(fabrictypes.PhysicalAddress(handshake), conn)
}

func (t *WebSocketTransport) registerPeer(address fabrictypes.PhysicalAddress, conn *websocket.Conn) {
	peer := &wsPeer{conn: conn, address: address}
	t.mu.Lock()
	t.peers[address.String()] = peer
	t.mu.Unlock()
	go t.readPump(peer)
}

func (t *WebSocketTransport) readPump(peer *wsPeer) {
	defer func() {
		t.mu.Lock()
		delete(t.peers, peer.address.String())
		t.mu.Unlock()
		peer.conn.Close()
	}()
	for {
		_, payload, err := peer.conn.ReadMessage()
		if err != nil {
			t.logger.Debug("transport: websocket peer disconnected", "peer", peer.address, "error", err)
			return
		}
		select {
		case t.inbox <- inboundFrame{payload: payload, remote: peer.address}:
		case <-t.closed:
			return
		}
	}
}

// Send writes frame as a single binary WebSocket message to remoteAddress.
func (t *WebSocketTransport) Send(ctx context.Context, remoteAddress fabrictypes.PhysicalAddress, frame []byte) error {
	t.mu.Lock()
	peer, ok := t.peers[remoteAddress.String()]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: no websocket connection to %s: %w", remoteAddress, ferrors.ErrTransportError)
	}
	peer.writeMu.Lock()
	defer peer.writeMu.Unlock()
	if err := peer.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("transport: writing to %s: %w", remoteAddress, ferrors.ErrTransportError)
	}
	return nil
}

// Receive blocks for the next frame from any connected peer.
func (t *WebSocketTransport) Receive(ctx context.Context) ([]byte, fabrictypes.PhysicalAddress, error) {
	select {
	case f := <-t.inbox:
		return f.payload, f.remote, nil
	case <-t.closed:
		return nil, nil, ferrors.ErrDisposed
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// LocalAddress returns the address this transport announces during the handshake.
func (t *WebSocketTransport) LocalAddress() fabrictypes.PhysicalAddress { return t.local }

// Close closes every peer connection.
func (t *WebSocketTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	t.mu.Lock()
	peers := t.peers
	t.peers = make(map[string]*wsPeer)
	t.mu.Unlock()
	for _, peer := range peers {
		peer.conn.Close()
	}
	return nil
}
