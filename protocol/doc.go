// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol encodes and decodes the two framed wire formats
// gamefleet speaks.
//
// The bridge format is a JSON [Envelope], one per WebSocket text frame,
// exchanged with a cooperating plugin inside the game server. Requests
// carry a caller-generated id and responses echo it; correlation is by id
// equality only, so responses may arrive in any order. Timestamps are
// epoch milliseconds. Decoding also accepts RFC 3339 strings, which some
// older plugins send, and normalizes them.
//
// The RCON format is the little-endian binary [Packet] used by Source and
// Minecraft remote consoles:
//
//	int32 length     bytes after this field (10 + len(body))
//	int32 requestID
//	int32 type       3 login, 2 command, 0 response
//	body             no embedded NUL
//	0x00 0x00
//
// [PacketDecoder] accumulates bytes from a stream and yields packets as
// they complete, keeping any excess for the next packet.
//
// All decode failures are *[Error] values classified as
// failure.Protocol. They describe one bad frame; the connection that
// produced it stays usable.
package protocol
