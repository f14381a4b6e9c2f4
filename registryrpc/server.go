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

	"google.golang.org/grpc"

	"github.com/routefabric/routefabric/coordination"
)

// Server adapts a coordination.Store to the gRPC CoordinationService so a
// coordination service can run out-of-process from every routefabric node
// that talks to it (SPEC_FULL §4.10).
type Server struct {
	store coordination.Store
}

// NewServer wraps store for gRPC exposure.
func NewServer(store coordination.Store) *Server {
	return &Server{store: store}
}

// Register attaches the CoordinationService to s.
func Register(s *grpc.Server, srv *Server) {
	s.RegisterService(&serviceDesc, srv)
}

var _ serverHandler = (*Server)(nil)

func (s *Server) handle(ctx context.Context, op opcode, body []byte) ([]byte, error) {
	switch op {
	case opCreate:
		path, value, mode, err := decodeCreateRequest(body)
		if err != nil {
			return nil, err
		}
		entry, err := s.store.Create(ctx, path, value, mode)
		if err != nil {
			return nil, err
		}
		return encodeEntryResponse(entry), nil

	case opGetOrCreate:
		path, value, mode, err := decodeCreateRequest(body)
		if err != nil {
			return nil, err
		}
		entry, err := s.store.GetOrCreate(ctx, path, value, mode)
		if err != nil {
			return nil, err
		}
		return encodeEntryResponse(entry), nil

	case opGet:
		path, err := decodePathRequest(body)
		if err != nil {
			return nil, err
		}
		entry, err := s.store.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		return encodeEntryResponse(entry), nil

	case opSetValue:
		path, value, expectedVersion, err := decodeSetValueRequest(body)
		if err != nil {
			return nil, err
		}
		prior, err := s.store.SetValue(ctx, path, value, expectedVersion)
		if err != nil {
			return nil, err
		}
		return encodeInt64Response(prior), nil

	case opDelete:
		path, expectedVersion, recursive, err := decodeDeleteRequest(body)
		if err != nil {
			return nil, err
		}
		prior, err := s.store.Delete(ctx, path, expectedVersion, recursive)
		if err != nil {
			return nil, err
		}
		return encodeInt64Response(prior), nil

	case opChildren:
		path, err := decodePathRequest(body)
		if err != nil {
			return nil, err
		}
		children, err := s.store.Children(ctx, path)
		if err != nil {
			return nil, err
		}
		return encodeChildrenResponse(children), nil

	case opSession:
		sess, err := s.store.Session(ctx)
		if err != nil {
			return nil, err
		}
		return encodeSessionResponse(sess), nil

	default:
		return nil, fmt.Errorf("registryrpc: unknown opcode %d", op)
	}
}
