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

	"github.com/SnellerInc/fst/compr"
	"github.com/SnellerInc/fst/internal/bin"
)

// SignalKind is the storage class of a signal.
type SignalKind uint8

const (
	// SignalBits signals store one character
	// ('0', '1', 'x', 'z', ...) per bit.
	SignalBits SignalKind = iota
	// SignalReal signals store an 8-byte double.
	SignalReal
	// SignalVarLen signals store byte strings
	// of varying length.
	SignalVarLen
)

func (k SignalKind) String() string {
	switch k {
	case SignalBits:
		return "bits"
	case SignalReal:
		return "real"
	case SignalVarLen:
		return "varlen"
	}
	return "SignalKind(?)"
}

// SignalInfo is the storage geometry of one handle.
type SignalInfo struct {
	Kind SignalKind
	// Width is the number of bits for SignalBits
	// and 8 (bytes) for SignalReal.
	Width uint32
}

func signalInfo(v uint32) SignalInfo {
	switch v {
	case 0:
		return SignalInfo{Kind: SignalReal, Width: 8}
	case math.MaxUint32:
		return SignalInfo{Kind: SignalVarLen}
	default:
		return SignalInfo{Kind: SignalBits, Width: v}
	}
}

// frameBytes is the space the signal
// occupies in a value-change frame.
func (s SignalInfo) frameBytes() int {
	if s.Kind == SignalVarLen {
		return 0
	}
	return int(s.Width)
}

// Geometry returns the storage geometry of every
// handle, indexed by Handle. It is decoded from the
// geometry blocks on first use.
func (r *Reader) Geometry() ([]SignalInfo, error) {
	if err := r.loadGeometry(); err != nil {
		return nil, err
	}
	return r.geometry, nil
}

func (r *Reader) loadGeometry() error {
	if r.geomOK {
		return nil
	}
	var out []SignalInfo
	for i := range r.blocks {
		e := &r.blocks[i]
		if e.Kind != BlockGeometry {
			continue
		}
		more, err := r.decodeGeometry(e)
		if err != nil {
			return err
		}
		out = append(out, more...)
	}
	if r.header.MaxHandle != 0 && uint64(len(out)) != r.header.MaxHandle {
		r.log.Warn().Int("geometry", len(out)).Uint64("header", r.header.MaxHandle).Msg("geometry and header disagree on handle count")
	}
	r.geometry = out
	r.geomOK = true
	return nil
}

func (r *Reader) decodeGeometry(e *BlockEntry) ([]SignalInfo, error) {
	raw, err := r.src.read("geometry", e.payload(), e.Length-8)
	if err != nil {
		return nil, err
	}
	c := bin.NewCursor(raw)
	ulen, _ := c.Uint64()
	count, _ := c.Uint64()
	data := c.Rest()
	if e.Codec != "" {
		if err := bin.CheckRatio(uint64(len(data)), ulen); err != nil {
			return nil, wrapFormat("geometry", e.Offset, err)
		}
		dst := make([]byte, ulen)
		if err := compr.Decompression(e.Codec).Decompress(data, dst); err != nil {
			return nil, wrapFormat("geometry", e.Offset, err)
		}
		data = dst
	}
	// every entry takes at least one byte
	if count > uint64(len(data)) {
		return nil, formatErrorf("geometry", e.Offset, "%d entries declared in %d bytes", count, len(data))
	}
	out := make([]SignalInfo, count)
	c = bin.NewCursor(data)
	for i := range out {
		v, err := c.Uvarint32()
		if err != nil {
			return nil, wrapFormat("geometry", e.Offset, err)
		}
		out[i] = signalInfo(v)
	}
	if c.Len() != 0 {
		return nil, formatErrorf("geometry", e.Offset, "%d trailing bytes after %d entries", c.Len(), count)
	}
	return out, nil
}

// Blackout marks a point where value dumping
// was switched off (Active == false) or back on.
type Blackout struct {
	Time   uint64
	Active bool
}

// Blackouts returns the dump on/off
// history recorded in the file.
func (r *Reader) Blackouts() ([]Blackout, error) {
	var out []Blackout
	for i := range r.blocks {
		e := &r.blocks[i]
		if e.Kind != BlockBlackout {
			continue
		}
		raw, err := r.src.read("blackout", e.payload(), e.Length-8)
		if err != nil {
			return nil, err
		}
		c := bin.NewCursor(raw)
		count, err := c.Uvarint()
		if err != nil {
			return nil, wrapFormat("blackout", e.Offset, err)
		}
		if count > uint64(c.Len())/2 {
			return nil, formatErrorf("blackout", e.Offset, "%d entries declared in %d bytes", count, c.Len())
		}
		var t uint64
		for j := uint64(0); j < count; j++ {
			active, err := c.Byte()
			if err != nil {
				return nil, wrapFormat("blackout", e.Offset, err)
			}
			delta, err := c.Uvarint()
			if err != nil {
				return nil, wrapFormat("blackout", e.Offset, err)
			}
			if t+delta < t {
				return nil, formatErrorf("blackout", e.Offset, "time overflows")
			}
			t += delta
			out = append(out, Blackout{Time: t, Active: active != 0})
		}
	}
	return out, nil
}
