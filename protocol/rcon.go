// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"encoding/binary"
)

// PacketType is the RCON packet type field.
type PacketType int32

const (
	PacketResponse PacketType = 0
	PacketCommand  PacketType = 2
	PacketLogin    PacketType = 3
)

func (t PacketType) String() string {
	switch t {
	case PacketResponse:
		return "response"
	case PacketCommand:
		return "command"
	case PacketLogin:
		return "login"
	default:
		return "unknown"
	}
}

const (
	// packetOverhead is the length field's count for an empty body:
	// request id, type, and the two terminating NULs.
	packetOverhead = 10

	// MaxPacketLength bounds the length field. Real servers stay far
	// below it (Minecraft caps responses at 4096 bytes of body); a
	// larger value means the stream is corrupt.
	MaxPacketLength = 1 << 20
)

// Packet is one RCON packet.
type Packet struct {
	ID   int32
	Type PacketType
	Body string
}

// Encode serializes the packet.
func (p Packet) Encode() ([]byte, error) {
	if bytes.IndexByte([]byte(p.Body), 0) >= 0 {
		return nil, rconError("packet %d body contains NUL", p.ID)
	}
	length := packetOverhead + len(p.Body)
	if length > MaxPacketLength {
		return nil, rconError("packet %d body of %d bytes exceeds limit", p.ID, len(p.Body))
	}

	encoded := make([]byte, 4+length)
	binary.LittleEndian.PutUint32(encoded[0:4], uint32(length))
	binary.LittleEndian.PutUint32(encoded[4:8], uint32(p.ID))
	binary.LittleEndian.PutUint32(encoded[8:12], uint32(p.Type))
	copy(encoded[12:], p.Body)
	return encoded, nil
}

// PacketDecoder reassembles packets from a byte stream. It is not safe
// for concurrent use; the connection's read loop owns it.
type PacketDecoder struct {
	buffer []byte
}

// Feed appends bytes read from the stream.
func (d *PacketDecoder) Feed(data []byte) {
	d.buffer = append(d.buffer, data...)
}

// Buffered returns the number of bytes waiting for a complete packet.
func (d *PacketDecoder) Buffered() int { return len(d.buffer) }

// Next returns the next complete packet. ok is false when more bytes are
// needed. A malformed length field returns an error and discards the
// buffer, since the stream has no resynchronization marker.
func (d *PacketDecoder) Next() (packet Packet, ok bool, err error) {
	if len(d.buffer) < 4 {
		return Packet{}, false, nil
	}
	length := int32(binary.LittleEndian.Uint32(d.buffer[0:4]))
	if length < packetOverhead || length > MaxPacketLength {
		d.buffer = nil
		return Packet{}, false, rconError("invalid packet length %d", length)
	}
	total := 4 + int(length)
	if len(d.buffer) < total {
		return Packet{}, false, nil
	}

	frame := d.buffer[:total]
	body := frame[12 : total-2]
	if terminator := bytes.IndexByte(body, 0); terminator >= 0 {
		body = body[:terminator]
	}
	packet = Packet{
		ID:   int32(binary.LittleEndian.Uint32(frame[4:8])),
		Type: PacketType(int32(binary.LittleEndian.Uint32(frame[8:12]))),
		Body: string(body),
	}

	remaining := len(d.buffer) - total
	if remaining == 0 {
		d.buffer = d.buffer[:0]
	} else {
		d.buffer = append(d.buffer[:0], d.buffer[total:]...)
	}
	return packet, true, nil
}
