// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registryrpc

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/routefabric/routefabric/coordination"
)

// Client implements coordination.Store by calling a remote
// CoordinationService over an existing *grpc.ClientConn (SPEC_FULL §4.10).
// Session is obtained once (via the Execute RPC) and cached forever, the
// same contract coordination.Store promises for any other backend.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	conn *grpc.ClientConn

	once    sync.Once
	session coordination.Session
	sessErr error
}

// NewClient wraps an already-dialed connection to a registryrpc server.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

var _ coordination.Store = (*Client)(nil)

func (c *Client) call(ctx context.Context, op opcode, body []byte) ([]byte, error) {
	in := wrapperspb.Bytes(encodeEnvelope(op, body))
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/Execute", in, out); err != nil {
		return nil, fmt.Errorf("registryrpc: Execute(%d): %w", op, fromGRPCStatus(err))
	}
	return out.GetValue(), nil
}

func (c *Client) Create(ctx context.Context, path string, value []byte, mode coordination.Mode) (*coordination.Entry, error) {
	out, err := c.call(ctx, opCreate, encodeCreateRequest(path, value, mode))
	if err != nil {
		return nil, err
	}
	return decodeEntryResponse(out)
}

func (c *Client) GetOrCreate(ctx context.Context, path string, value []byte, mode coordination.Mode) (*coordination.Entry, error) {
	out, err := c.call(ctx, opGetOrCreate, encodeCreateRequest(path, value, mode))
	if err != nil {
		return nil, err
	}
	return decodeEntryResponse(out)
}

func (c *Client) Get(ctx context.Context, path string) (*coordination.Entry, error) {
	out, err := c.call(ctx, opGet, encodePathRequest(path))
	if err != nil {
		return nil, err
	}
	return decodeEntryResponse(out)
}

func (c *Client) SetValue(ctx context.Context, path string, value []byte, expectedVersion int64) (int64, error) {
	out, err := c.call(ctx, opSetValue, encodeSetValueRequest(path, value, expectedVersion))
	if err != nil {
		return 0, err
	}
	return decodeInt64Response(out)
}

func (c *Client) Delete(ctx context.Context, path string, expectedVersion int64, recursive bool) (int64, error) {
	out, err := c.call(ctx, opDelete, encodeDeleteRequest(path, expectedVersion, recursive))
	if err != nil {
		return 0, err
	}
	return decodeInt64Response(out)
}

func (c *Client) Children(ctx context.Context, path string) ([]string, error) {
	out, err := c.call(ctx, opChildren, encodePathRequest(path))
	if err != nil {
		return nil, err
	}
	return decodeChildrenResponse(out)
}

// Session obtains and caches the session once, per spec §4.2.
func (c *Client) Session(ctx context.Context) (coordination.Session, error) {
	c.once.Do(func() {
		out, err := c.call(ctx, opSession, nil)
		if err != nil {
			c.sessErr = err
			return
		}
		c.session, c.sessErr = decodeSessionResponse(out)
	})
	return c.session, c.sessErr
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
