// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registryrpc

import (
	"context"
	"errors"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/routefabric/routefabric/coordination"
	"github.com/routefabric/routefabric/ferrors"
)

func dialServer(t *testing.T, store coordination.Store) (*Client, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	grpcServer := grpc.NewServer()
	Register(grpcServer, NewServer(store))
	go func() {
		_ = grpcServer.Serve(lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	client := NewClient(conn)
	return client, func() {
		_ = conn.Close()
		grpcServer.Stop()
	}
}

func TestClientCreateGetRoundTrip(t *testing.T) {
	backend := coordination.NewBackend()
	store := coordination.NewClient(backend, []byte("node-a"))
	client, closeFn := dialServer(t, store)
	defer closeFn()

	ctx := context.Background()
	if _, err := client.Create(ctx, "/maps/endpoint-a/session-1", []byte("10.0.0.1:7000"), coordination.ModeEphemeral); err != nil {
		t.Fatalf("Create: %v", err)
	}

	entry, err := client.Get(ctx, "/maps/endpoint-a/session-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry == nil || string(entry.Value) != "10.0.0.1:7000" {
		t.Fatalf("Get returned %+v, want value 10.0.0.1:7000", entry)
	}

	children, err := client.Children(ctx, "/maps/endpoint-a")
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 1 || children[0] != "session-1" {
		t.Fatalf("Children = %v, want [session-1]", children)
	}
}

func TestClientDuplicateCreateFails(t *testing.T) {
	backend := coordination.NewBackend()
	store := coordination.NewClient(backend, []byte("node-a"))
	client, closeFn := dialServer(t, store)
	defer closeFn()

	ctx := context.Background()
	if _, err := client.Create(ctx, "/routes/r1/id1", []byte("opts+endpoint"), coordination.ModeDefault); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := client.Create(ctx, "/routes/r1/id1", []byte("opts+endpoint"), coordination.ModeDefault); err == nil {
		t.Fatal("second Create with same path should fail")
	}
}

func TestClientSessionCachedAcrossCalls(t *testing.T) {
	backend := coordination.NewBackend()
	store := coordination.NewClient(backend, []byte("node-a"))
	client, closeFn := dialServer(t, store)
	defer closeFn()

	ctx := context.Background()
	s1, err := client.Session(ctx)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	s2, err := client.Session(ctx)
	if err != nil {
		t.Fatalf("Session (cached): %v", err)
	}
	if s1.String() != s2.String() {
		t.Fatalf("Session not cached: %s != %s", s1.String(), s2.String())
	}
}

func TestClientDeleteMissingIsNotFound(t *testing.T) {
	backend := coordination.NewBackend()
	store := coordination.NewClient(backend, []byte("node-a"))
	client, closeFn := dialServer(t, store)
	defer closeFn()

	if _, err := client.Delete(context.Background(), "/maps/absent/none", coordination.AnyVersion, false); !errors.Is(err, ferrors.ErrEntryNotFound) {
		t.Fatalf("Delete of missing entry = %v, want ferrors.ErrEntryNotFound", err)
	}
}
