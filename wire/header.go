// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package wire encodes and decodes the routing layer's fixed header frame
// (spec §4.6.1) that is pushed as the top frame of every message before
// send and popped after receive (spec §6.3).
package wire

import (
	"encoding/binary"
	"fmt"
)

// MessageType identifies the purpose of a routed frame (spec §4.6.1).
type MessageType int32

const (
	// MessageRequest carries a caller's payload to a remote endpoint.
	MessageRequest MessageType = 1
	// MessageResponse carries a handler's reply, correlated by corr.
	MessageResponse MessageType = 2
	// MessageCancellationRequest asks the receiver to cancel an in-flight request.
	MessageCancellationRequest MessageType = 3
	// MessageCancellationResponse acknowledges a CancellationRequest.
	MessageCancellationResponse MessageType = 4
	// MessageProtocolNotSupported indicates the receiver cannot parse this frame version.
	MessageProtocolNotSupported MessageType = -1
	// MessageEndPointNotPresent indicates the addressed physical endpoint does not exist.
	MessageEndPointNotPresent MessageType = -2
	// MessageMisrouted indicates rxEndpoint does not match the receiver's hosted endpoint.
	MessageMisrouted MessageType = -3
)

func (t MessageType) String() string {
	switch t {
	case MessageRequest:
		return "Request"
	case MessageResponse:
		return "Response"
	case MessageCancellationRequest:
		return "CancellationRequest"
	case MessageCancellationResponse:
		return "CancellationResponse"
	case MessageProtocolNotSupported:
		return "ProtocolNotSupported"
	case MessageEndPointNotPresent:
		return "EndPointNotPresent"
	case MessageMisrouted:
		return "Misrouted"
	default:
		return fmt.Sprintf("MessageType(%d)", int32(t))
	}
}

// Header is the routing layer's fixed frame header (spec §4.6.1).
type Header struct {
	Type       MessageType
	Handled    bool
	SeqNum     int32
	Corr       int32
	TxEndpoint string
	RxEndpoint string
}

// Encode serializes h per the bit-exact layout in spec §4.6.1: a 4-byte
// messageType, a 1-byte handled flag, 3 reserved zero bytes, a 4-byte
// seqNum, a 4-byte corr, then txEndpoint and rxEndpoint each as a 4-byte
// length prefix followed by their UTF-8 bytes.
func Encode(h Header) []byte {
	tx := []byte(h.TxEndpoint)
	rx := []byte(h.RxEndpoint)
	buf := make([]byte, 16+4+len(tx)+4+len(rx))

	binary.BigEndian.PutUint32(buf[0:4], uint32(h.Type))
	if h.Handled {
		buf[4] = 1
	}
	// buf[5:8] reserved, left zero.
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.SeqNum))
	binary.BigEndian.PutUint32(buf[12:16], uint32(h.Corr))

	off := 16
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(tx)))
	off += 4
	copy(buf[off:off+len(tx)], tx)
	off += len(tx)

	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(rx)))
	off += 4
	copy(buf[off:off+len(rx)], rx)

	return buf
}

// Decode parses a Header from the front of frame and returns the number of
// bytes consumed, so the caller can slice off the remaining application
// payload (spec §6.3 "inner frames belong to the application").
func Decode(frame []byte) (Header, int, error) {
	if len(frame) < 16 {
		return Header{}, 0, fmt.Errorf("wire: header frame too short: %d bytes", len(frame))
	}
	h := Header{
		Type:    MessageType(int32(binary.BigEndian.Uint32(frame[0:4]))),
		Handled: frame[4] != 0,
		SeqNum:  int32(binary.BigEndian.Uint32(frame[8:12])),
		Corr:    int32(binary.BigEndian.Uint32(frame[12:16])),
	}

	off := 16
	tx, n, err := readLengthPrefixed(frame, off)
	if err != nil {
		return Header{}, 0, fmt.Errorf("wire: decoding txEndpoint: %w", err)
	}
	h.TxEndpoint = tx
	off += n

	rx, n, err := readLengthPrefixed(frame, off)
	if err != nil {
		return Header{}, 0, fmt.Errorf("wire: decoding rxEndpoint: %w", err)
	}
	h.RxEndpoint = rx
	off += n

	return h, off, nil
}

func readLengthPrefixed(buf []byte, off int) (string, int, error) {
	if off+4 > len(buf) {
		return "", 0, fmt.Errorf("truncated length prefix at offset %d", off)
	}
	length := binary.BigEndian.Uint32(buf[off : off+4])
	start := off + 4
	end := start + int(length)
	if end > len(buf) || end < start {
		return "", 0, fmt.Errorf("truncated value at offset %d (length %d)", off, length)
	}
	return string(buf[start:end]), end - off, nil
}
