// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// magic opens every journal file. The last byte is the format version.
var magic = [4]byte{'G', 'F', 'J', 1}

// Record is one journaled event.
type Record struct {
	// Timestamp is Unix nanoseconds.
	Timestamp int64  `cbor:"t"`
	Source    string `cbor:"src"`
	Kind      string `cbor:"kind"`
	Server    string `cbor:"server,omitempty"`
	Mode      string `cbor:"mode,omitempty"`
	// Detail holds event-specific fields, already formatted.
	Detail map[string]string `cbor:"detail,omitempty"`
	Error  string            `cbor:"error,omitempty"`
}

// Time returns Timestamp as a time.Time.
func (r Record) Time() time.Time { return time.Unix(0, r.Timestamp) }

// Compression identifies how a block payload is stored. Values are
// written to disk; changing them breaks existing journals.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression name.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown journal compression %q", name)
	}
}

// zstdEncoder and zstdDecoder are shared; both are safe for concurrent
// use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("journal: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("journal: zstd decoder initialization failed: " + err.Error())
	}
}

// checksumKey domain-separates block checksums from any other BLAKE3
// use. It is exactly 32 bytes.
var checksumKey = []byte("gamefleet journal block checksum")

const checksumSize = 16

// blockChecksum is a truncated keyed BLAKE3 of a block's raw payload.
func blockChecksum(raw []byte) [checksumSize]byte {
	hasher, err := blake3.NewKeyed(checksumKey)
	if err != nil {
		panic("journal: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(raw)
	var sum [checksumSize]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}

// compress returns the stored form of raw and the tag it was stored
// with.
func compress(raw []byte, compression Compression) ([]byte, Compression, error) {
	switch compression {
	case CompressionNone:
		return raw, CompressionNone, nil
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(raw)))
		written, err := lz4.CompressBlock(raw, destination, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(raw) {
			return raw, CompressionNone, nil
		}
		return destination[:written], CompressionLZ4, nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(raw, nil)
		if len(compressed) >= len(raw) {
			return raw, CompressionNone, nil
		}
		return compressed, CompressionZstd, nil
	default:
		return nil, 0, fmt.Errorf("unsupported compression %s", compression)
	}
}

func decompress(stored []byte, compression Compression, rawLength int) ([]byte, error) {
	switch compression {
	case CompressionNone:
		if len(stored) != rawLength {
			return nil, fmt.Errorf("stored block is %d bytes, header says %d", len(stored), rawLength)
		}
		return stored, nil
	case CompressionLZ4:
		destination := make([]byte, rawLength)
		read, err := lz4.UncompressBlock(stored, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != rawLength {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, rawLength)
		}
		return destination, nil
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, rawLength))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != rawLength {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), rawLength)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", compression)
	}
}
