// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/bureau-foundation/gamefleet/lib/codec"
)

// DefaultBlockSize is the buffered size at which a Writer writes a
// block.
const DefaultBlockSize = 64 * 1024

// ErrClosed is returned by Writer methods after Close.
var ErrClosed = errors.New("journal closed")

// WriterOptions configures Create.
type WriterOptions struct {
	Compression Compression

	// BlockSize is the buffered size that triggers a block write. Zero
	// means DefaultBlockSize.
	BlockSize int
}

// Writer appends records to a journal file. It is safe for concurrent
// use.
type Writer struct {
	path        string
	compression Compression
	blockSize   int

	mu      sync.Mutex
	file    *os.File
	buffer  bytes.Buffer
	encoder *codec.Encoder
	closed  bool
}

// Create opens the journal at path for appending, creating it (and
// writing the magic) if it does not exist. An existing file must start
// with the journal magic.
func Create(path string, options WriterOptions) (*Writer, error) {
	if options.Compression > CompressionZstd {
		return nil, fmt.Errorf("journal %s: unsupported compression %s", path, options.Compression)
	}
	blockSize := options.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat journal %s: %w", path, err)
	}
	if info.Size() == 0 {
		if _, err := file.Write(magic[:]); err != nil {
			file.Close()
			return nil, fmt.Errorf("writing journal header %s: %w", path, err)
		}
	} else if err := checkMagic(io.NewSectionReader(file, 0, int64(len(magic)))); err != nil {
		file.Close()
		return nil, fmt.Errorf("journal %s: %w", path, err)
	}

	writer := &Writer{
		path:        path,
		compression: options.Compression,
		blockSize:   blockSize,
		file:        file,
	}
	writer.encoder = codec.NewEncoder(&writer.buffer)
	return writer, nil
}

// Path returns the journal's file path.
func (w *Writer) Path() string { return w.path }

// Append buffers a record, writing a block once the buffer reaches the
// block size.
func (w *Writer) Append(record Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.encoder.Encode(record); err != nil {
		return fmt.Errorf("encoding journal record: %w", err)
	}
	if w.buffer.Len() >= w.blockSize {
		return w.flushLocked()
	}
	return nil
}

// Flush writes buffered records as a block.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.flushLocked()
}

// Close flushes buffered records and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	flushErr := w.flushLocked()
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	return errors.Join(flushErr, syncErr, closeErr)
}

func (w *Writer) flushLocked() error {
	if w.buffer.Len() == 0 {
		return nil
	}
	raw := w.buffer.Bytes()
	stored, tag, err := compress(raw, w.compression)
	if err != nil {
		return fmt.Errorf("journal %s: %w", w.path, err)
	}

	checksum := blockChecksum(raw)
	block := make([]byte, 0, 1+2*binary.MaxVarintLen64+checksumSize+len(stored))
	block = append(block, byte(tag))
	block = binary.AppendUvarint(block, uint64(len(raw)))
	block = binary.AppendUvarint(block, uint64(len(stored)))
	block = append(block, checksum[:]...)
	block = append(block, stored...)

	// One write per block; a partial write leaves a truncated tail the
	// reader detects.
	if _, err := w.file.Write(block); err != nil {
		return fmt.Errorf("writing journal block %s: %w", w.path, err)
	}
	w.buffer.Reset()
	return nil
}
