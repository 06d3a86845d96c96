// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal is an append-only audit log of fleet lifecycle
// events.
//
// A journal file starts with a four-byte magic ("GFJ" plus a format
// version) followed by blocks. Each block is
//
//	tag (1 byte) | raw length (uvarint) | stored length (uvarint) | checksum (16 bytes) | payload
//
// where the checksum is a truncated keyed BLAKE3 of the uncompressed
// payload and the payload is a sequence of CBOR-encoded [Record] values,
// compressed as the tag says (none, lz4 block, or zstd). Blocks that
// do not shrink under compression are stored uncompressed. A [Writer]
// buffers records and writes a block when the buffer reaches the block
// size, on [Writer.Flush], and on [Writer.Close]; each block goes to
// the file in one write, so a crash loses at most the buffered records
// and possibly leaves one truncated block, which [Reader] reports as
// io.ErrUnexpectedEOF. A block whose payload does not match its checksum
// is reported as [ErrCorrupt].
//
// Reopening an existing journal appends to it. Blocks may use
// different compression, so changing the configured compression does
// not require a new file.
package journal
