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
	"sync"

	"github.com/routefabric/routefabric/fabrictypes"
	"github.com/routefabric/routefabric/ferrors"
)

// LoopbackNetwork is a shared, in-memory switch connecting LoopbackTransport
// peers by address. It exists so unit and integration tests can exercise
// the routing layer without a real network, matching the teacher's
// in-memory-backend-over-a-real-interface testing style.
//
// Thread Safety: Safe for concurrent use.
type LoopbackNetwork struct {
	mu    sync.Mutex
	peers map[string]*LoopbackTransport
}

// NewLoopbackNetwork returns an empty switch.
func NewLoopbackNetwork() *LoopbackNetwork {
	return &LoopbackNetwork{peers: make(map[string]*LoopbackTransport)}
}

// NewTransport registers and returns a new peer at address on net.
func (n *LoopbackNetwork) NewTransport(address fabrictypes.PhysicalAddress) *LoopbackTransport {
	t := &LoopbackTransport{
		net:     n,
		address: address,
		inbox:   make(chan inboundFrame, 256),
		closed:  make(chan struct{}),
	}
	n.mu.Lock()
	n.peers[address.String()] = t
	n.mu.Unlock()
	return t
}

func (n *LoopbackNetwork) deliver(to fabrictypes.PhysicalAddress, from fabrictypes.PhysicalAddress, frame []byte) error {
	n.mu.Lock()
	peer, ok := n.peers[to.String()]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: no loopback peer registered at %q: %w", to, ferrors.ErrTransportError)
	}
	select {
	case peer.inbox <- inboundFrame{payload: frame, remote: from}:
		return nil
	case <-peer.closed:
		return fmt.Errorf("transport: peer %q is closed: %w", to, ferrors.ErrTransportError)
	}
}

func (n *LoopbackNetwork) forget(address fabrictypes.PhysicalAddress) {
	n.mu.Lock()
	delete(n.peers, address.String())
	n.mu.Unlock()
}

// LoopbackTransport is a Transport backed entirely by in-process channels.
type LoopbackTransport struct {
	net     *LoopbackNetwork
	address fabrictypes.PhysicalAddress
	inbox   chan inboundFrame
	closed  chan struct{}
}

var _ Transport = (*LoopbackTransport)(nil)

// Send delivers frame to remoteAddress synchronously via the shared network.
func (t *LoopbackTransport) Send(ctx context.Context, remoteAddress fabrictypes.PhysicalAddress, frame []byte) error {
	select {
	case <-t.closed:
		return ferrors.ErrDisposed
	default:
	}
	return t.net.deliver(remoteAddress, t.address, frame)
}

// Receive blocks for the next frame addressed to this transport.
func (t *LoopbackTransport) Receive(ctx context.Context) ([]byte, fabrictypes.PhysicalAddress, error) {
	select {
	case f := <-t.inbox:
		return f.payload, f.remote, nil
	case <-t.closed:
		return nil, nil, ferrors.ErrDisposed
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// LocalAddress returns this transport's registered address.
func (t *LoopbackTransport) LocalAddress() fabrictypes.PhysicalAddress { return t.address }

// Close unregisters this transport from the network and unblocks Receive.
func (t *LoopbackTransport) Close() error {
	select {
	case <-t.closed:
		return nil
	default:
	}
	close(t.closed)
	t.net.forget(t.address)
	return nil
}
