// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package registryrpc exposes a coordination.Store over gRPC (SPEC_FULL
// §4.10 "DOMAIN STACK": "gRPC-based remote CoordinationStore client/server
// pair, used when the coordination service runs out-of-process"). Rather
// than generating message types with protoc (unavailable in this build),
// every RPC is carried as a single opaque byte payload wrapped in
// wrapperspb.BytesValue — a message type the protobuf module already ships
// fully generated — with an opcode-tagged binary body encoded the same way
// router/codec.go encodes the remote-router wire frames. This keeps both
// google.golang.org/grpc and google.golang.org/protobuf genuinely exercised
// without hand-authoring generated code (see DESIGN.md).
package registryrpc

import (
	"encoding/binary"
	"fmt"

	"github.com/routefabric/routefabric/coordination"
)

// opcode identifies which coordination.Store method a request body carries.
type opcode int16

const (
	opCreate      opcode = 0
	opGetOrCreate opcode = 1
	opGet         opcode = 2
	opSetValue    opcode = 3
	opDelete      opcode = 4
	opChildren    opcode = 5
	opSession     opcode = 6
)

// requestEnvelope is the body wrapped inside every request's
// wrapperspb.BytesValue: a 2-byte opcode followed by an opcode-specific
// payload.
func encodeEnvelope(op opcode, body []byte) []byte {
	buf := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(buf[0:2], uint16(op))
	copy(buf[2:], body)
	return buf
}

func decodeEnvelope(frame []byte) (opcode, []byte, error) {
	if len(frame) < 2 {
		return 0, nil, fmt.Errorf("registryrpc: envelope too short: %d bytes", len(frame))
	}
	return opcode(binary.BigEndian.Uint16(frame[0:2])), frame[2:], nil
}

func putUint32(buf []byte, off int, v uint32) int {
	binary.BigEndian.PutUint32(buf[off:off+4], v)
	return off + 4
}

func getUint32(buf []byte, off int) (uint32, int, error) {
	if off+4 > len(buf) {
		return 0, off, fmt.Errorf("registryrpc: truncated uint32 at offset %d", off)
	}
	return binary.BigEndian.Uint32(buf[off : off+4]), off + 4, nil
}

func putBytes(buf []byte, off int, b []byte) int {
	off = putUint32(buf, off, uint32(len(b)))
	copy(buf[off:], b)
	return off + len(b)
}

func getBytes(buf []byte, off int) ([]byte, int, error) {
	n, off, err := getUint32(buf, off)
	if err != nil {
		return nil, off, err
	}
	end := off + int(n)
	if end > len(buf) {
		return nil, off, fmt.Errorf("registryrpc: truncated bytes at offset %d (length %d)", off, n)
	}
	return buf[off:end], end, nil
}

func putString(buf []byte, off int, s string) int { return putBytes(buf, off, []byte(s)) }

func getString(buf []byte, off int) (string, int, error) {
	b, off, err := getBytes(buf, off)
	return string(b), off, err
}

func bytesSize(b []byte) int { return 4 + len(b) }

// --- Create / GetOrCreate request: path, value, mode ---

func encodeCreateRequest(path string, value []byte, mode coordination.Mode) []byte {
	buf := make([]byte, 4+len(path)+bytesSize(value)+4)
	off := putString(buf, 0, path)
	off = putBytes(buf, off, value)
	putUint32(buf, off, uint32(mode))
	return buf
}

func decodeCreateRequest(body []byte) (path string, value []byte, mode coordination.Mode, err error) {
	path, off, err := getString(body, 0)
	if err != nil {
		return "", nil, 0, err
	}
	value, off, err = getBytes(body, off)
	if err != nil {
		return "", nil, 0, err
	}
	m, _, err := getUint32(body, off)
	if err != nil {
		return "", nil, 0, err
	}
	return path, value, coordination.Mode(m), nil
}

// --- Entry response: present flag, path, value, version, mode, creation/write ns, children ---

func encodeEntryResponse(e *coordination.Entry) []byte {
	if e == nil {
		return []byte{0}
	}
	childrenSize := 4
	for _, c := range e.Children {
		childrenSize += bytesSize([]byte(c))
	}
	size := 1 + bytesSize([]byte(e.Path)) + bytesSize(e.Value) + 8 + 4 + 8 + 8 + childrenSize
	buf := make([]byte, size)
	buf[0] = 1
	off := 1
	off = putString(buf, off, e.Path)
	off = putBytes(buf, off, e.Value)
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(e.Version))
	off += 8
	off = putUint32(buf, off, uint32(e.Mode))
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(e.CreationTime.UnixNano()))
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(e.LastWriteTime.UnixNano()))
	off += 8
	off = putUint32(buf, off, uint32(len(e.Children)))
	for _, c := range e.Children {
		off = putString(buf, off, c)
	}
	return buf
}

func decodeEntryResponse(body []byte) (*coordination.Entry, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("registryrpc: empty entry response")
	}
	if body[0] == 0 {
		return nil, nil
	}
	off := 1
	path, off, err := getString(body, off)
	if err != nil {
		return nil, err
	}
	value, off, err := getBytes(body, off)
	if err != nil {
		return nil, err
	}
	if off+8 > len(body) {
		return nil, fmt.Errorf("registryrpc: truncated entry version")
	}
	version := int64(binary.BigEndian.Uint64(body[off : off+8]))
	off += 8
	mode, off, err := getUint32(body, off)
	if err != nil {
		return nil, err
	}
	if off+16 > len(body) {
		return nil, fmt.Errorf("registryrpc: truncated entry timestamps")
	}
	creation := int64(binary.BigEndian.Uint64(body[off : off+8]))
	off += 8
	lastWrite := int64(binary.BigEndian.Uint64(body[off : off+8]))
	off += 8
	n, off, err := getUint32(body, off)
	if err != nil {
		return nil, err
	}
	children := make([]string, n)
	for i := range children {
		children[i], off, err = getString(body, off)
		if err != nil {
			return nil, err
		}
	}
	return &coordination.Entry{
		Path:          path,
		Value:         value,
		Version:       version,
		Mode:          coordination.Mode(mode),
		CreationTime:  nsToTime(creation),
		LastWriteTime: nsToTime(lastWrite),
		Children:      children,
	}, nil
}

// --- Get / Children / Session request: a single path (Get, Children) or nothing (Session) ---

func encodePathRequest(path string) []byte {
	buf := make([]byte, 4+len(path))
	putString(buf, 0, path)
	return buf
}

func decodePathRequest(body []byte) (string, error) {
	path, _, err := getString(body, 0)
	return path, err
}

// --- SetValue / Delete request: path, value|expectedVersion, recursive ---

func encodeSetValueRequest(path string, value []byte, expectedVersion int64) []byte {
	buf := make([]byte, bytesSize([]byte(path))+bytesSize(value)+8)
	off := putString(buf, 0, path)
	off = putBytes(buf, off, value)
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(expectedVersion))
	return buf
}

func decodeSetValueRequest(body []byte) (path string, value []byte, expectedVersion int64, err error) {
	path, off, err := getString(body, 0)
	if err != nil {
		return "", nil, 0, err
	}
	value, off, err = getBytes(body, off)
	if err != nil {
		return "", nil, 0, err
	}
	if off+8 > len(body) {
		return "", nil, 0, fmt.Errorf("registryrpc: truncated expectedVersion")
	}
	return path, value, int64(binary.BigEndian.Uint64(body[off : off+8])), nil
}

func encodeDeleteRequest(path string, expectedVersion int64, recursive bool) []byte {
	buf := make([]byte, bytesSize([]byte(path))+8+1)
	off := putString(buf, 0, path)
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(expectedVersion))
	off += 8
	if recursive {
		buf[off] = 1
	}
	return buf
}

func decodeDeleteRequest(body []byte) (path string, expectedVersion int64, recursive bool, err error) {
	path, off, err := getString(body, 0)
	if err != nil {
		return "", 0, false, err
	}
	if off+9 > len(body) {
		return "", 0, false, fmt.Errorf("registryrpc: truncated delete request")
	}
	expectedVersion = int64(binary.BigEndian.Uint64(body[off : off+8]))
	off += 8
	recursive = body[off] != 0
	return path, expectedVersion, recursive, nil
}

// --- int64 response, used by SetValue/Delete's priorVersion ---

func encodeInt64Response(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeInt64Response(body []byte) (int64, error) {
	if len(body) < 8 {
		return 0, fmt.Errorf("registryrpc: truncated int64 response")
	}
	return int64(binary.BigEndian.Uint64(body)), nil
}

// --- Children response ---

func encodeChildrenResponse(children []string) []byte {
	size := 4
	for _, c := range children {
		size += bytesSize([]byte(c))
	}
	buf := make([]byte, size)
	off := putUint32(buf, 0, uint32(len(children)))
	for _, c := range children {
		off = putString(buf, off, c)
	}
	return buf
}

func decodeChildrenResponse(body []byte) ([]string, error) {
	n, off, err := getUint32(body, 0)
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		out[i], off, err = getString(body, off)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// --- Session response ---

func encodeSessionResponse(s coordination.Session) []byte {
	return s.Bytes()
}

func decodeSessionResponse(body []byte) (coordination.Session, error) {
	return coordination.DecodeSession(body)
}
