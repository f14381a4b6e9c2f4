// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/routefabric/routefabric/fabrictypes"
)

func TestLoopbackSendReceive(t *testing.T) {
	net := NewLoopbackNetwork()
	a := net.NewTransport(fabrictypes.PhysicalAddress("a"))
	b := net.NewTransport(fabrictypes.PhysicalAddress("b"))
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	if err := a.Send(ctx, fabrictypes.PhysicalAddress("b"), []byte("hi")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	frame, from, err := b.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(frame) != "hi" || from.String() != "a" {
		t.Fatalf("Receive = (%q, %q)", frame, from)
	}
}

func TestLoopbackSendToUnknownPeer(t *testing.T) {
	net := NewLoopbackNetwork()
	a := net.NewTransport(fabrictypes.PhysicalAddress("a"))
	defer a.Close()
	if err := a.Send(context.Background(), fabrictypes.PhysicalAddress("ghost"), []byte("x")); err == nil {
		t.Fatal("expected error sending to an unregistered peer")
	}
}

func TestLoopbackReceiveUnblocksOnClose(t *testing.T) {
	net := NewLoopbackNetwork()
	a := net.NewTransport(fabrictypes.PhysicalAddress("a"))

	done := make(chan error, 1)
	go func() {
		_, _, err := a.Receive(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	a.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected Receive to return an error after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not unblock after Close")
	}
}

func TestMultiplexerRoutesByKey(t *testing.T) {
	net := NewLoopbackNetwork()
	a := net.NewTransport(fabrictypes.PhysicalAddress("a"))
	b := net.NewTransport(fabrictypes.PhysicalAddress("b"))

	muxA := NewMultiplexer(a, nil)
	muxB := NewMultiplexer(b, nil)
	defer muxA.Close()
	defer muxB.Close()

	epA := muxA.Open("end-points/svc.a")
	epB1 := muxB.Open("end-points/svc.b1")
	epB2 := muxB.Open("end-points/svc.b2")

	ctx := context.Background()
	if err := epA.Send(ctx, fabrictypes.PhysicalAddress("b"), "end-points/svc.b1", []byte("for-b1")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// epB1 should see it; epB2 must not.
	payload, _, err := epB1.Receive(ctx)
	if err != nil {
		t.Fatalf("epB1.Receive: %v", err)
	}
	if string(payload) != "for-b1" {
		t.Fatalf("payload = %q", payload)
	}

	select {
	case f := <-epB2.inbox:
		t.Fatalf("epB2 unexpectedly received a frame: %v", f)
	case <-time.After(20 * time.Millisecond):
	}
}
