// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package router implements C8, the Message Router: the application-facing
// fan-out over route-sets and direct endpoint targeting (spec §4.8). A
// Router may be local (talks to the Route Registry, C4, directly) or
// remote (marshals requests as frames sent via C6 to a well-known registry
// endpoint, spec §6.5) — both satisfy the same Router interface.
package router

import (
	"encoding/binary"
	"fmt"
)

// remoteMessageType identifies a remote-router wire frame (spec §6.5).
type remoteMessageType int16

const (
	remoteRoute            remoteMessageType = 0
	remoteRouteToEndpoint  remoteMessageType = 1
	remoteRegisterRoute    remoteMessageType = 2
	remoteUnregisterRoute  remoteMessageType = 3
	remoteUnregisterRoutes remoteMessageType = 4
	remoteHandle           remoteMessageType = 5
)

// remoteFrame is the top-frame format shared by every remote-router message
// (spec §6.5): `messageType: int16; reserved: int16; body`.
type remoteFrame struct {
	Type remoteMessageType
	Body []byte
}

func encodeRemoteFrame(f remoteFrame) []byte {
	buf := make([]byte, 4+len(f.Body))
	binary.BigEndian.PutUint16(buf[0:2], uint16(f.Type))
	// buf[2:4] reserved, left zero.
	copy(buf[4:], f.Body)
	return buf
}

func decodeRemoteFrame(frame []byte) (remoteFrame, error) {
	if len(frame) < 4 {
		return remoteFrame{}, fmt.Errorf("router: remote frame too short: %d bytes", len(frame))
	}
	return remoteFrame{
		Type: remoteMessageType(int16(binary.BigEndian.Uint16(frame[0:2]))),
		Body: frame[4:],
	}, nil
}

func putUint32(buf []byte, off int, v uint32) int {
	binary.BigEndian.PutUint32(buf[off:off+4], v)
	return off + 4
}

func getUint32(buf []byte, off int) (uint32, int, error) {
	if off+4 > len(buf) {
		return 0, off, fmt.Errorf("router: truncated uint32 at offset %d", off)
	}
	return binary.BigEndian.Uint32(buf[off : off+4]), off + 4, nil
}

func putString(buf []byte, off int, s string) int {
	off = putUint32(buf, off, uint32(len(s)))
	copy(buf[off:], s)
	return off + len(s)
}

func getString(buf []byte, off int) (string, int, error) {
	length, off, err := getUint32(buf, off)
	if err != nil {
		return "", off, err
	}
	end := off + int(length)
	if end > len(buf) {
		return "", off, fmt.Errorf("router: truncated string at offset %d (length %d)", off, length)
	}
	return string(buf[off:end]), end, nil
}

func stringsSize(ss []string) int {
	n := 0
	for _, s := range ss {
		n += 4 + len(s)
	}
	return n
}

// encodeRouteBody encodes the body of messageType 0 Route (spec §6.5):
// `count: int32; (len: int32, utf8-bytes)+; publish: bool`, followed by
// the application payload as a trailing byte run (spec §6.3 models
// messages as a stack of frames; the routing metadata here is the
// router-over-C6 frame's own content, with the user's message appended as
// its innermost frame rather than carried out-of-band).
func encodeRouteBody(routes []string, publish bool, payload []byte) []byte {
	buf := make([]byte, 4+stringsSize(routes)+1+len(payload))
	off := putUint32(buf, 0, uint32(len(routes)))
	for _, r := range routes {
		off = putString(buf, off, r)
	}
	if publish {
		buf[off] = 1
	}
	off++
	copy(buf[off:], payload)
	return buf
}

func decodeRouteBody(body []byte) (routes []string, publish bool, payload []byte, err error) {
	count, off, err := getUint32(body, 0)
	if err != nil {
		return nil, false, nil, err
	}
	routes = make([]string, count)
	for i := range routes {
		routes[i], off, err = getString(body, off)
		if err != nil {
			return nil, false, nil, err
		}
	}
	if off >= len(body) {
		return nil, false, nil, fmt.Errorf("router: missing publish flag")
	}
	publish = body[off] != 0
	return routes, publish, body[off+1:], nil
}

// encodeRouteToBody encodes messageType 1 RouteToEndPoint body:
// `len: int32, utf8-bytes; endpoint; publish: bool`, followed by the
// application payload (see encodeRouteBody).
func encodeRouteToBody(route, endpoint string, publish bool, payload []byte) []byte {
	buf := make([]byte, 4+len(route)+4+len(endpoint)+1+len(payload))
	off := putString(buf, 0, route)
	off = putString(buf, off, endpoint)
	if publish {
		buf[off] = 1
	}
	off++
	copy(buf[off:], payload)
	return buf
}

func decodeRouteToBody(body []byte) (route, endpoint string, publish bool, payload []byte, err error) {
	route, off, err := getString(body, 0)
	if err != nil {
		return "", "", false, nil, err
	}
	endpoint, off, err = getString(body, off)
	if err != nil {
		return "", "", false, nil, err
	}
	if off >= len(body) {
		return "", "", false, nil, fmt.Errorf("router: missing publish flag")
	}
	publish = body[off] != 0
	return route, endpoint, publish, body[off+1:], nil
}

// encodeRegisterBody encodes messageType 2 RegisterRoute body:
// `options: int32; len: int32, utf8-bytes`.
func encodeRegisterBody(options uint8, route string) []byte {
	buf := make([]byte, 4+4+len(route))
	off := putUint32(buf, 0, uint32(options))
	putString(buf, off, route)
	return buf
}

func decodeRegisterBody(body []byte) (options uint8, route string, err error) {
	opts, off, err := getUint32(body, 0)
	if err != nil {
		return 0, "", err
	}
	route, _, err = getString(body, off)
	if err != nil {
		return 0, "", err
	}
	return uint8(opts), route, nil
}

// encodeRouteBytes encodes messageType 3 UnregisterRoute body:
// `len: int32, utf8-bytes`.
func encodeRouteBytes(route string) []byte {
	buf := make([]byte, 4+len(route))
	putString(buf, 0, route)
	return buf
}

func decodeRouteBytes(body []byte) (string, error) {
	route, _, err := getString(body, 0)
	return route, err
}

// encodeUnregisterRoutesBody encodes messageType 4 UnregisterRoutes body:
// `removePersistent: bool`.
func encodeUnregisterRoutesBody(removePersistent bool) []byte {
	if removePersistent {
		return []byte{1}
	}
	return []byte{0}
}

func decodeUnregisterRoutesBody(body []byte) (bool, error) {
	if len(body) < 1 {
		return false, fmt.Errorf("router: empty UnregisterRoutes body")
	}
	return body[0] != 0, nil
}

// encodeMultiTargetReply encodes the multi-target Route reply payload
// (spec §6.5): `count: int32; (len: int64, bytes)+`, each inner bytes a
// whole recursive message (here, one wire.Header+payload frame per result).
func encodeMultiTargetReply(frames [][]byte) []byte {
	size := 4
	for _, f := range frames {
		size += 8 + len(f)
	}
	buf := make([]byte, size)
	off := putUint32(buf, 0, uint32(len(frames)))
	for _, f := range frames {
		binary.BigEndian.PutUint64(buf[off:off+8], uint64(len(f)))
		off += 8
		copy(buf[off:], f)
		off += len(f)
	}
	return buf
}

func decodeMultiTargetReply(body []byte) ([][]byte, error) {
	count, off, err := getUint32(body, 0)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, count)
	for i := range out {
		if off+8 > len(body) {
			return nil, fmt.Errorf("router: truncated multi-target reply at index %d", i)
		}
		length := binary.BigEndian.Uint64(body[off : off+8])
		off += 8
		end := off + int(length)
		if end > len(body) {
			return nil, fmt.Errorf("router: truncated multi-target reply body at index %d", i)
		}
		out[i] = body[off:end]
		off = end
	}
	return out, nil
}
