// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides deterministic CBOR encoding for vault records
// and escrow bundles. Core Deterministic Encoding (RFC 8949 §4.2) means
// the same logical record always produces identical ciphertext input,
// which keeps encrypted-record comparisons and escrow diffs meaningful.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Decoding into any must yield map[string]any, not
		// map[interface{}]interface{} — vault payloads only ever use
		// string keys, and downstream code expects the JSON-compatible
		// map type.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored for
// forward compatibility.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
