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

// Package bin implements the bounds-checked
// integer and string primitives used to decode
// FST containers.
//
// Nothing in this package panics on malformed
// input; every read that would run past the end
// of the buffer returns ErrTruncated instead.
package bin

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrTruncated is returned when a read
	// would extend past the end of the input.
	ErrTruncated = errors.New("truncated input")
	// ErrOverflow is returned when a varint
	// does not fit in the requested width.
	ErrOverflow = errors.New("varint overflow")
)

// Cursor is a forward-only reader over a byte slice.
// The zero value is an empty cursor.
type Cursor struct {
	buf []byte
	off int
}

// NewCursor returns a Cursor positioned at the start of b.
func NewCursor(b []byte) *Cursor { return &Cursor{buf: b} }

// Len returns the number of unread bytes.
func (c *Cursor) Len() int { return len(c.buf) - c.off }

// Offset returns the number of bytes consumed so far.
func (c *Cursor) Offset() int { return c.off }

// Rest returns the unread portion of the buffer
// without consuming it.
func (c *Cursor) Rest() []byte { return c.buf[c.off:] }

// Byte reads a single byte.
func (c *Cursor) Byte() (byte, error) {
	if c.off >= len(c.buf) {
		return 0, ErrTruncated
	}
	b := c.buf[c.off]
	c.off++
	return b, nil
}

// Bytes returns the next n bytes. The returned
// slice aliases the cursor's buffer.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	if n < 0 || n > c.Len() {
		return nil, ErrTruncated
	}
	b := c.buf[c.off : c.off+n : c.off+n]
	c.off += n
	return b, nil
}

// Skip advances the cursor by n bytes.
func (c *Cursor) Skip(n int) error {
	if n < 0 || n > c.Len() {
		return ErrTruncated
	}
	c.off += n
	return nil
}

// Uint64 reads a big-endian uint64.
func (c *Cursor) Uint64() (uint64, error) {
	b, err := c.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Uvarint reads an unsigned LEB128 integer.
func (c *Cursor) Uvarint() (uint64, error) {
	v, n, err := Uvarint(c.buf[c.off:])
	if err != nil {
		return 0, err
	}
	c.off += n
	return v, nil
}

// Uvarint32 reads an unsigned LEB128 integer
// that must fit in 32 bits.
func (c *Cursor) Uvarint32() (uint32, error) {
	v, err := c.Uvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, ErrOverflow
	}
	return uint32(v), nil
}

// Varint reads a signed LEB128 integer.
func (c *Cursor) Varint() (int64, error) {
	v, n, err := Varint(c.buf[c.off:])
	if err != nil {
		return 0, err
	}
	c.off += n
	return v, nil
}

// CString reads a NUL-terminated string.
// The terminator is consumed but not returned.
func (c *Cursor) CString() (string, error) {
	rest := c.buf[c.off:]
	for i := range rest {
		if rest[i] == 0 {
			c.off += i + 1
			return string(rest[:i]), nil
		}
	}
	return "", ErrTruncated
}

// Uvarint decodes an unsigned LEB128 integer
// from the front of b and returns the value
// and the number of bytes consumed.
func Uvarint(b []byte) (uint64, int, error) {
	v, n := binary.Uvarint(b)
	if n == 0 {
		return 0, 0, ErrTruncated
	}
	if n < 0 {
		return 0, 0, ErrOverflow
	}
	return v, n, nil
}

// Varint decodes a signed LEB128 integer
// (two's complement, sign-extended from bit 6
// of the final byte) from the front of b.
func Varint(b []byte) (int64, int, error) {
	var v int64
	var shift uint
	for i, c := range b {
		if i == binary.MaxVarintLen64 {
			return 0, 0, ErrOverflow
		}
		v |= int64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			if shift < 64 && c&0x40 != 0 {
				v |= -1 << shift
			}
			return v, i + 1, nil
		}
	}
	return 0, 0, ErrTruncated
}

// FixedCString interprets b as a fixed-size
// field holding a NUL-padded string.
func FixedCString(b []byte) string {
	for i := range b {
		if b[i] == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// maxRatio bounds the expansion of any codec
// used in FST containers (deflate tops out
// just above 1:1032).
const maxRatio = 1032

// CheckRatio reports whether a block declaring
// uncompressed bytes of output from compressed
// bytes of input is plausible. Declared lengths
// come from untrusted input and are used to size
// allocations, so implausible ones are rejected.
func CheckRatio(compressed, uncompressed uint64) error {
	if compressed > math.MaxUint64/maxRatio {
		return nil
	}
	if uncompressed > compressed*maxRatio+1024 {
		return errors.Errorf("declared length %d implausible for %d compressed bytes", uncompressed, compressed)
	}
	return nil
}
