// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode writes journal records with Core Deterministic Encoding
// (RFC 8949 §4.2).
var encMode cbor.EncMode

// decMode ignores unknown fields so an older reader accepts records
// from a newer writer.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Modes and kinds are text, never empty maps.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Record details decode as map[string]any, which encoding/json
		// accepts.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder and Decoder carry one journal record per CBOR item.
type (
	Encoder = cbor.Encoder
	Decoder = cbor.Decoder
)

// NewEncoder returns an Encoder writing deterministic CBOR to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}
