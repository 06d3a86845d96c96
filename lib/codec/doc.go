// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding configuration for gamefleet's
// on-disk formats.
//
// gamefleet uses two serialization formats with a clear boundary:
//
//   - JSON on the wire: bridge envelopes, the exec tool's --json output,
//     and JSONC configuration files.
//   - CBOR at rest: journal records written by lib/journal.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. The
// same record always produces identical bytes, so journals of identical
// runs compare equal.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For streams:
//
//	encoder := codec.NewEncoder(file)
//	decoder := codec.NewDecoder(file)
//
// Types that are only ever stored use `cbor` struct tags. Types that
// also travel as JSON use `json` tags, which fxamacker/cbor reads when
// `cbor` tags are absent. Never put both on one field.
package codec
