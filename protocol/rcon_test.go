// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"testing"

	"github.com/bureau-foundation/gamefleet/lib/failure"
)

func TestPacketLayout(t *testing.T) {
	encoded, err := Packet{ID: 7, Type: PacketCommand, Body: "list"}.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{
		14, 0, 0, 0, // length = 10 + 4
		7, 0, 0, 0, // id
		2, 0, 0, 0, // type
		'l', 'i', 's', 't',
		0, 0,
	}
	if !bytes.Equal(encoded, want) {
		t.Fatalf("encoded = %v\nwant      %v", encoded, want)
	}
}

func TestPacketRejectsNUL(t *testing.T) {
	_, err := Packet{ID: 1, Type: PacketCommand, Body: "say\x00hi"}.Encode()
	if !failure.Is(err, failure.Protocol) {
		t.Fatalf("err = %v, want protocol failure", err)
	}
}

func TestDecoderSplitReads(t *testing.T) {
	packets := []Packet{
		{ID: 1, Type: PacketLogin, Body: "hunter2"},
		{ID: 2, Type: PacketCommand, Body: "say hello world"},
		{ID: -1, Type: PacketResponse, Body: ""},
		{ID: 3, Type: PacketResponse, Body: "There are 2 of a max of 20 players online: alex, steve"},
	}
	var stream []byte
	for _, packet := range packets {
		encoded, err := packet.Encode()
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		stream = append(stream, encoded...)
	}

	for _, chunkSize := range []int{1, 3, 5, 13, 64, len(stream)} {
		var decoder PacketDecoder
		var decoded []Packet
		for offset := 0; offset < len(stream); offset += chunkSize {
			end := min(offset+chunkSize, len(stream))
			decoder.Feed(stream[offset:end])
			for {
				packet, ok, err := decoder.Next()
				if err != nil {
					t.Fatalf("chunk %d: Next: %v", chunkSize, err)
				}
				if !ok {
					break
				}
				decoded = append(decoded, packet)
			}
		}
		if len(decoded) != len(packets) {
			t.Fatalf("chunk %d: decoded %d packets, want %d", chunkSize, len(decoded), len(packets))
		}
		for i := range packets {
			if decoded[i] != packets[i] {
				t.Fatalf("chunk %d: packet %d = %+v, want %+v", chunkSize, i, decoded[i], packets[i])
			}
		}
		if decoder.Buffered() != 0 {
			t.Fatalf("chunk %d: %d bytes left over", chunkSize, decoder.Buffered())
		}
	}
}

func TestDecoderKeepsExcessBytes(t *testing.T) {
	first, _ := Packet{ID: 1, Type: PacketResponse, Body: "a"}.Encode()
	second, _ := Packet{ID: 2, Type: PacketResponse, Body: "bc"}.Encode()

	var decoder PacketDecoder
	decoder.Feed(append(append([]byte{}, first...), second[:6]...))

	packet, ok, err := decoder.Next()
	if err != nil || !ok || packet.ID != 1 {
		t.Fatalf("first: packet=%+v ok=%v err=%v", packet, ok, err)
	}
	if _, ok, _ := decoder.Next(); ok {
		t.Fatal("second packet decoded before it was complete")
	}
	if decoder.Buffered() != 6 {
		t.Fatalf("buffered = %d, want 6", decoder.Buffered())
	}
	decoder.Feed(second[6:])
	packet, ok, err = decoder.Next()
	if err != nil || !ok || packet.Body != "bc" {
		t.Fatalf("second: packet=%+v ok=%v err=%v", packet, ok, err)
	}
}

func TestDecoderMalformedLength(t *testing.T) {
	var decoder PacketDecoder
	decoder.Feed([]byte{3, 0, 0, 0, 1, 2, 3})
	_, ok, err := decoder.Next()
	if ok || !failure.Is(err, failure.Protocol) {
		t.Fatalf("ok=%v err=%v, want protocol failure", ok, err)
	}
	if decoder.Buffered() != 0 {
		t.Fatal("decoder kept a corrupt buffer")
	}

	valid, _ := Packet{ID: 4, Type: PacketResponse, Body: "ok"}.Encode()
	decoder.Feed(valid)
	packet, ok, err := decoder.Next()
	if err != nil || !ok || packet.ID != 4 {
		t.Fatalf("after reset: packet=%+v ok=%v err=%v", packet, ok, err)
	}
}
