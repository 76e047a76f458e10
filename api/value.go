// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Value is a tagged union for ad hoc request bodies: a heterogeneous
// but known-shape parameter set (string/number/bool/array/object).
// It exists only at the request-serialization boundary — core domain
// types never carry it.
type Value struct {
	kind   valueKind
	str    string
	num    float64
	truth  bool
	items  []Value
	fields Object
}

type valueKind int

const (
	kindString valueKind = iota
	kindNumber
	kindBool
	kindArray
	kindObject
)

// String makes a string Value.
func String(s string) Value { return Value{kind: kindString, str: s} }

// Number makes a numeric Value.
func Number(f float64) Value { return Value{kind: kindNumber, num: f} }

// Bool makes a boolean Value.
func Bool(b bool) Value { return Value{kind: kindBool, truth: b} }

// Array makes an array Value.
func Array(items ...Value) Value { return Value{kind: kindArray, items: items} }

// Nested makes an object Value from an Object, for nesting objects
// inside arrays or other objects.
func Nested(fields Object) Value { return Value{kind: kindObject, fields: fields} }

// Object is an ad hoc request body: a map of parameter names to
// Values. It serializes with sorted keys so request logs and tests
// are stable.
type Object map[string]Value

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case kindString:
		return json.Marshal(v.str)
	case kindNumber:
		return json.Marshal(v.num)
	case kindBool:
		return json.Marshal(v.truth)
	case kindArray:
		if v.items == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.items)
	case kindObject:
		return v.fields.MarshalJSON()
	default:
		return nil, fmt.Errorf("api: unknown value kind %d", v.kind)
	}
}

// MarshalJSON implements json.Marshaler with deterministic key order.
func (o Object) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(o))
	for key := range o {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := []byte{'{'}
	for index, key := range keys {
		if index > 0 {
			result = append(result, ',')
		}
		encodedKey, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		encodedValue, err := o[key].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("api: encoding field %q: %w", key, err)
		}
		result = append(result, encodedKey...)
		result = append(result, ':')
		result = append(result, encodedValue...)
	}
	return append(result, '}'), nil
}
