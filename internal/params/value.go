// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package params

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNumber Kind = iota + 1
	KindBool
	KindString
	KindBytes
	KindArray
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindDict:
		return "dict"
	default:
		return "unknown"
	}
}

// typeByteArray marks base64 payloads on the wire.
const typeByteArray = "byte_array"

// Value is an immutable tagged parameter value.
type Value struct {
	kind Kind
	num  float64
	b    bool
	str  string
	raw  []byte
	arr  []Value
	dict map[string]Value
}

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bytes returns a byte-array value holding a copy of b.
func Bytes(b []byte) Value { return Value{kind: KindBytes, raw: append([]byte(nil), b...)} }

// Array returns an array value holding a copy of vs.
func Array(vs ...Value) Value { return Value{kind: KindArray, arr: append([]Value(nil), vs...)} }

// Dict returns a dictionary value holding a copy of m.
func Dict(m map[string]Value) Value {
	d := make(map[string]Value, len(m))
	for k, v := range m {
		d[k] = v
	}
	return Value{kind: KindDict, dict: d}
}

// Kind reports the variant.
func (v Value) Kind() Kind { return v.kind }

// AsNumber returns the number and whether v holds one.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsBool returns the bool and whether v holds one.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsString returns the string and whether v holds one.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsBytes returns a copy of the bytes and whether v holds them.
func (v Value) AsBytes() ([]byte, bool) {
	return append([]byte(nil), v.raw...), v.kind == KindBytes
}

// AsArray returns a copy of the elements and whether v is an array.
func (v Value) AsArray() ([]Value, bool) {
	return append([]Value(nil), v.arr...), v.kind == KindArray
}

// AsDict returns a copy of the entries and whether v is a dictionary.
func (v Value) AsDict() (map[string]Value, bool) {
	if v.kind != KindDict {
		return nil, false
	}
	return Dict(v.dict).dict, true
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.str == o.str
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindDict:
		if len(v.dict) != len(o.dict) {
			return false
		}
		for k, x := range v.dict {
			y, ok := o.dict[k]
			if !ok || !x.Equal(y) {
				return false
			}
		}
		return true
	}
	return true
}

// MarshalJSON encodes the value. Bytes are base64 strings; the enclosing
// Parameter carries the byte_array type tag.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindString:
		return json.Marshal(v.str)
	case KindBytes:
		return json.Marshal(base64.StdEncoding.EncodeToString(v.raw))
	case KindArray:
		return json.Marshal(v.arr)
	case KindDict:
		keys := make([]string, 0, len(v.dict))
		for k := range v.dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := v.dict[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes numbers, bools, strings, arrays and objects.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts decoded JSON or YAML data into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case []byte:
		return Bytes(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("params: invalid number %q: %w", t, err)
		}
		return Number(f), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case []any:
		out := make([]Value, 0, len(t))
		for _, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			out = append(out, ev)
		}
		return Value{kind: KindArray, arr: out}, nil
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			out[k] = ev
		}
		return Value{kind: KindDict, dict: out}, nil
	default:
		return Value{}, fmt.Errorf("params: unsupported value type %T", x)
	}
}
