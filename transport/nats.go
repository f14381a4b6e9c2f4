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

	"github.com/nats-io/nats.go"

	"github.com/routefabric/routefabric/fabrictypes"
	"github.com/routefabric/routefabric/ferrors"
)

// NATSTransport implements Transport over a NATS subject per physical
// address: each node subscribes to a subject keyed by its own address and
// publishes directly to a peer's subject to send. This demonstrates that
// the routing layer is transport-agnostic (spec §9, "Dynamic dispatch"
// redesign note) — Route Endpoint never depends on WebSocketTransport or
// LoopbackTransport specifically, only on the Transport interface.
//
// Thread Safety: Safe for concurrent use; nats.Conn itself is goroutine-safe.
type NATSTransport struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	local   fabrictypes.PhysicalAddress
	logger  *slog.Logger
	inbox   chan inboundFrame
	subject func(fabrictypes.PhysicalAddress) string
}

// DefaultNATSSubject maps a physical address to a NATS subject by
// prefixing it; addresses must not themselves contain NATS subject
// wildcards ('*', '>') for this to round-trip unambiguously.
func DefaultNATSSubject(address fabrictypes.PhysicalAddress) string {
	return "routefabric.endpoints." + address.String()
}

// NewNATSTransport connects to url and subscribes to local's subject.
func NewNATSTransport(url string, local fabrictypes.PhysicalAddress, logger *slog.Logger) (*NATSTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("transport: connecting to NATS at %s: %w", url, err)
	}
	t := &NATSTransport{
		conn:    conn,
		local:   local,
		logger:  logger,
		inbox:   make(chan inboundFrame, 256),
		subject: DefaultNATSSubject,
	}
	sub, err := conn.Subscribe(t.subject(local), t.onMessage)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: subscribing to %s: %w", t.subject(local), err)
	}
	t.sub = sub
	return t, nil
}

func (t *NATSTransport) onMessage(msg *nats.Msg) {
	remote, payload, err := decodeDemuxFrame(msg.Data)
	if err != nil {
		t.logger.Warn("transport: dropping malformed NATS payload", "error", err)
		return
	}
	select {
	case t.inbox <- inboundFrame{payload: []byte(payload), remote: fabrictypes.PhysicalAddress(remote)}:
	default:
		t.logger.Warn("transport: NATS inbox full, dropping frame")
	}
}

var _ Transport = (*NATSTransport)(nil)

// Send publishes frame to remoteAddress's subject, tagging it with the
// local address so the receiver's onMessage can report a remote address
// without relying on NATS's own (often absent) sender identity.
func (t *NATSTransport) Send(ctx context.Context, remoteAddress fabrictypes.PhysicalAddress, frame []byte) error {
	payload := encodeDemuxFrame(t.local.String(), frame)
	if err := t.conn.Publish(t.subject(remoteAddress), payload); err != nil {
		return fmt.Errorf("transport: publishing to %s: %w", remoteAddress, ferrors.ErrTransportError)
	}
	return nil
}

// Receive blocks for the next frame delivered to this transport's subject.
func (t *NATSTransport) Receive(ctx context.Context) ([]byte, fabrictypes.PhysicalAddress, error) {
	select {
	case f := <-t.inbox:
		return f.payload, f.remote, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// LocalAddress returns the address this transport subscribes under.
func (t *NATSTransport) LocalAddress() fabrictypes.PhysicalAddress { return t.local }

// Close unsubscribes and drains the underlying connection.
func (t *NATSTransport) Close() error {
	if t.sub != nil {
		_ = t.sub.Unsubscribe()
	}
	return t.conn.Drain()
}
