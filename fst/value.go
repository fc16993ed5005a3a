// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package fst

import (
	"math"
	"strconv"

	"golang.org/x/exp/slices"
)

// ValueKind is the interpretation of a Value.
type ValueKind uint8

const (
	// ValueBits holds one character per bit,
	// most significant first: '0', '1', or one
	// of the four-state and strength characters
	// "xzhuwl-".
	ValueBits ValueKind = iota
	// ValueReal holds a floating-point number.
	ValueReal
	// ValueString holds an arbitrary byte string.
	ValueString
)

// Value is one signal value.
//
// Values passed to a ReadSignals callback share
// storage with the decoder and are only valid for
// the duration of the call; use Clone to keep one.
type Value struct {
	Kind ValueKind
	raw  []byte
	real float64
}

// Bits returns the characters of a
// ValueBits value, or the bytes of a
// ValueString value.
func (v Value) Bits() []byte { return v.raw }

// Real returns the number held by a ValueReal value.
func (v Value) Real() float64 { return v.real }

// Width returns the number of bits of a ValueBits value.
func (v Value) Width() int { return len(v.raw) }

// Uint64 interprets a ValueBits value of at most
// 64 bits as an unsigned integer. It returns false
// if any bit is not '0' or '1'.
func (v Value) Uint64() (uint64, bool) {
	if v.Kind != ValueBits || len(v.raw) > 64 {
		return 0, false
	}
	return parseBits(v.raw)
}

func parseBits(b []byte) (uint64, bool) {
	var u uint64
	for _, c := range b {
		switch c {
		case '0':
			u <<= 1
		case '1':
			u = u<<1 | 1
		default:
			return 0, false
		}
	}
	return u, true
}

func (v Value) String() string {
	if v.Kind == ValueReal {
		return strconv.FormatFloat(v.real, 'g', -1, 64)
	}
	return string(v.raw)
}

// Equal returns true if v and o hold the same value.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	if v.Kind == ValueReal {
		return v.real == o.real || (math.IsNaN(v.real) && math.IsNaN(o.real))
	}
	return string(v.raw) == string(o.raw)
}

// Clone returns a copy of v that does
// not share storage with the decoder.
func (v Value) Clone() Value {
	v.raw = slices.Clone(v.raw)
	return v
}

// BitsValue returns a ValueBits value
// holding the given characters.
func BitsValue(s string) Value { return Value{Kind: ValueBits, raw: []byte(s)} }

// RealValue returns a ValueReal value.
func RealValue(f float64) Value { return Value{Kind: ValueReal, real: f} }

// StringValue returns a ValueString value.
func StringValue(s string) Value { return Value{Kind: ValueString, raw: []byte(s)} }

// Record is one value change.
type Record struct {
	Handle Handle
	// TimeIndex is the position of Time
	// in the file's time table.
	TimeIndex int
	Time      uint64
	Value     Value
}

// Clone returns a copy of r that does
// not share storage with the decoder.
func (r *Record) Clone() Record {
	out := *r
	out.Value = r.Value.Clone()
	return out
}
