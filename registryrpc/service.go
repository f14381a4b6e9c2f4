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

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/routefabric/routefabric/ferrors"
)

// serviceName is the gRPC service path this registers under, matching the
// "<package>.<service>/<method>" convention protoc would otherwise derive
// from a .proto file (see codec.go for why no .proto is generated here).
const serviceName = "routefabric.registryrpc.CoordinationService"

// serverHandler is implemented by *Server, which a grpcServer dispatches
// opcode-tagged requests to and which forwards them to its
// coordination.Store.
type serverHandler interface {
	handle(ctx context.Context, op opcode, body []byte) ([]byte, error)
}

func execHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	h := srv.(serverHandler)
	if interceptor == nil {
		return execute(ctx, h, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Execute"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return execute(ctx, h, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func execute(ctx context.Context, h serverHandler, in *wrapperspb.BytesValue) (interface{}, error) {
	op, body, err := decodeEnvelope(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out, err := h.handle(ctx, op, body)
	if err != nil {
		return nil, toGRPCStatus(err)
	}
	return wrapperspb.Bytes(out), nil
}

// serviceDesc is the hand-authored equivalent of a protoc-gen-go-grpc
// _ServiceDesc: one unary method, "Execute", carrying every
// coordination.Store operation multiplexed by opcode (see codec.go).
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*serverHandler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: execHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "registryrpc/registryrpc.go",
}

func toGRPCStatus(err error) error {
	switch {
	case isErr(err, ferrors.ErrEntryNotFound):
		return status.Error(codes.NotFound, err.Error())
	case isErr(err, ferrors.ErrDuplicateEntry):
		return status.Error(codes.AlreadyExists, err.Error())
	case isErr(err, ferrors.ErrArgumentInvalid):
		return status.Error(codes.InvalidArgument, err.Error())
	case isErr(err, ferrors.ErrCancelled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}

func fromGRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	s, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch s.Code() {
	case codes.NotFound:
		return ferrors.ErrEntryNotFound
	case codes.AlreadyExists:
		return ferrors.ErrDuplicateEntry
	case codes.InvalidArgument:
		return ferrors.ErrArgumentInvalid
	case codes.Canceled:
		return ferrors.ErrCancelled
	default:
		return ferrors.ErrStoreUnavailable
	}
}

func isErr(err, target error) bool {
	return err != nil && errors.Is(err, target)
}
