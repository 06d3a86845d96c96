// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/gamefleet/lib/codec"
)

// maxBlockLength bounds header lengths so a corrupt header cannot
// force a huge allocation.
const maxBlockLength = 64 << 20

// ErrBadMagic means the input is not a journal.
var ErrBadMagic = errors.New("not a gamefleet journal")

// ErrCorrupt means a block's payload does not match its checksum.
var ErrCorrupt = errors.New("journal block checksum mismatch")

func checkMagic(r io.Reader) error {
	var header [len(magic)]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrBadMagic
		}
		return err
	}
	if header != magic {
		return ErrBadMagic
	}
	return nil
}

// Reader iterates the records of a journal in append order.
type Reader struct {
	source  *bufio.Reader
	closer  io.Closer
	decoder *codec.Decoder
}

// NewReader reads a journal from r.
func NewReader(r io.Reader) (*Reader, error) {
	source := bufio.NewReader(r)
	if err := checkMagic(source); err != nil {
		return nil, err
	}
	return &Reader{source: source}, nil
}

// Open opens the journal file at path for reading.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	reader, err := NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("journal %s: %w", path, err)
	}
	reader.closer = file
	return reader, nil
}

// Next returns the next record, or io.EOF after the last one. A block
// cut short by a crash yields io.ErrUnexpectedEOF.
func (r *Reader) Next() (Record, error) {
	for {
		if r.decoder != nil {
			var record Record
			err := r.decoder.Decode(&record)
			if err == nil {
				return record, nil
			}
			if !errors.Is(err, io.EOF) {
				return Record{}, fmt.Errorf("decoding journal record: %w", err)
			}
			r.decoder = nil
		}
		block, err := r.nextBlock()
		if err != nil {
			return Record{}, err
		}
		r.decoder = codec.NewDecoder(bytes.NewReader(block))
	}
}

func (r *Reader) nextBlock() ([]byte, error) {
	tag, err := r.source.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	rawLength, err := r.readLength()
	if err != nil {
		return nil, err
	}
	storedLength, err := r.readLength()
	if err != nil {
		return nil, err
	}
	var checksum [checksumSize]byte
	if err := r.readFull(checksum[:]); err != nil {
		return nil, err
	}
	stored := make([]byte, storedLength)
	if err := r.readFull(stored); err != nil {
		return nil, err
	}
	raw, err := decompress(stored, Compression(tag), rawLength)
	if err != nil {
		return nil, err
	}
	if blockChecksum(raw) != checksum {
		return nil, ErrCorrupt
	}
	return raw, nil
}

func (r *Reader) readFull(buffer []byte) error {
	if _, err := io.ReadFull(r.source, buffer); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

func (r *Reader) readLength() (int, error) {
	length, err := binary.ReadUvarint(r.source)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.ErrUnexpectedEOF
		}
		return 0, fmt.Errorf("reading journal block header: %w", err)
	}
	if length > maxBlockLength {
		return 0, fmt.Errorf("journal block length %d exceeds %d", length, maxBlockLength)
	}
	return int(length), nil
}

// Close closes the underlying file when the Reader came from Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ReadAll returns every record in the journal at path.
func ReadAll(path string) ([]Record, error) {
	reader, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	var records []Record
	for {
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, record)
	}
}
