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
	"encoding/binary"
	"math"

	"github.com/SnellerInc/fst/compr"
	"github.com/SnellerInc/fst/internal/bin"
)

// streamRef locates the value stream of one
// handle relative to the packtype byte.
// A zero length means the handle has no
// changes in the block.
type streamRef struct {
	off, n int64
	has    bool
	// alias is the handle whose stream this one
	// duplicates, or -1
	alias int
}

// vcLayout is the parsed fixed structure
// of one value-change block.
type vcLayout struct {
	entry *BlockEntry

	frameOff   int64
	frameUlen  uint64
	frameClen  uint64
	frameCount int

	vcCount int
	pack    byte
	// vcStart is the file offset of the packtype byte
	vcStart int64
	// chainOff is the file offset of the chain table
	chainOff int64
	streams  []streamRef
}

// maxVarintLen is the longest uvarint we accept.
const maxVarintLen = 10

// parseLayout reads everything in a value-change
// block except the frame and the value streams.
func (r *Reader) parseLayout(e *BlockEntry, ngeom int) (*vcLayout, error) {
	l := &vcLayout{entry: e}
	// the chain length sits just before the time section
	chainEnd := e.Times.Offset - 8
	raw, err := r.src.read("vcdata", chainEnd, 8)
	if err != nil {
		return nil, err
	}
	chainLen := binary.BigEndian.Uint64(raw)
	pos := e.payload() + vcFixed
	if chainLen > uint64(chainEnd-pos) {
		return nil, formatErrorf("vcdata", chainEnd, "chain table of %d bytes does not fit in block", chainLen)
	}
	l.chainOff = chainEnd - int64(chainLen)

	raw, err = r.src.read("vcdata", pos, min64(3*maxVarintLen, l.chainOff-pos))
	if err != nil {
		return nil, err
	}
	c := bin.NewCursor(raw)
	if l.frameUlen, err = c.Uvarint(); err != nil {
		return nil, wrapFormat("vcdata", pos, err)
	}
	if l.frameClen, err = c.Uvarint(); err != nil {
		return nil, wrapFormat("vcdata", pos, err)
	}
	fmax, err := c.Uvarint()
	if err != nil {
		return nil, wrapFormat("vcdata", pos, err)
	}
	if fmax > uint64(ngeom) {
		return nil, formatErrorf("vcdata", pos, "frame covers %d handles; geometry has %d", fmax, ngeom)
	}
	l.frameCount = int(fmax)
	l.frameOff = pos + int64(c.Offset())
	if l.frameClen > uint64(l.chainOff-l.frameOff) {
		return nil, formatErrorf("vcdata", l.frameOff, "frame of %d bytes does not fit in block", l.frameClen)
	}

	pos = l.frameOff + int64(l.frameClen)
	raw, err = r.src.read("vcdata", pos, min64(maxVarintLen+1, l.chainOff-pos))
	if err != nil {
		return nil, err
	}
	c = bin.NewCursor(raw)
	vmax, err := c.Uvarint()
	if err != nil {
		return nil, wrapFormat("vcdata", pos, err)
	}
	if vmax > uint64(ngeom) {
		return nil, formatErrorf("vcdata", pos, "block covers %d handles; geometry has %d", vmax, ngeom)
	}
	l.vcCount = int(vmax)
	if l.pack, err = c.Byte(); err != nil {
		return nil, wrapFormat("vcdata", pos, err)
	}
	switch l.pack {
	case 'Z', 'F', '4':
	default:
		return nil, formatErrorf("vcdata", pos, "unknown packtype %q", l.pack)
	}
	l.vcStart = pos + int64(c.Offset()) - 1

	chain, err := r.src.read("vcdata", l.chainOff, int64(chainLen))
	if err != nil {
		return nil, err
	}
	if e.Kind == BlockValueChangeAlias2 {
		l.streams, err = parseChain2(chain, l.vcCount)
	} else {
		l.streams, err = parseChain(chain, l.vcCount)
	}
	if err != nil {
		return nil, wrapFormat("chain", l.chainOff, err)
	}
	if err := l.resolve(l.chainOff - l.vcStart); err != nil {
		return nil, wrapFormat("chain", l.chainOff, err)
	}
	return l, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// chainBuilder accumulates stream offsets
// and turns consecutive offsets into lengths.
type chainBuilder struct {
	out   []streamRef
	max   int
	prev  int64
	owner int
}

func (b *chainBuilder) room(n uint64) error {
	if n > uint64(b.max-len(b.out)) {
		return formatErrorf("chain", -1, "chain describes more than %d handles", b.max)
	}
	return nil
}

func (b *chainBuilder) offset(delta uint64) error {
	if err := b.room(1); err != nil {
		return err
	}
	if delta > math.MaxInt64/2 {
		return formatErrorf("chain", -1, "offset delta %d out of range", delta)
	}
	b.prev += int64(delta)
	if b.owner >= 0 {
		b.out[b.owner].n = b.prev - b.out[b.owner].off
	}
	b.owner = len(b.out)
	b.out = append(b.out, streamRef{off: b.prev, has: true, alias: -1})
	return nil
}

func (b *chainBuilder) skip(n uint64) error {
	if err := b.room(n); err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		b.out = append(b.out, streamRef{alias: -1})
	}
	return nil
}

func (b *chainBuilder) alias(target uint64) error {
	if err := b.room(1); err != nil {
		return err
	}
	if target >= uint64(len(b.out)) {
		return formatErrorf("chain", -1, "handle %d aliases later handle %d", len(b.out)+1, target+1)
	}
	b.out = append(b.out, streamRef{alias: int(target)})
	return nil
}

// parseChain decodes the chain table
// of block kinds 1 and 5.
func parseChain(chain []byte, max int) ([]streamRef, error) {
	b := &chainBuilder{max: max, owner: -1}
	c := bin.NewCursor(chain)
	for c.Len() > 0 {
		v, err := c.Uvarint()
		if err != nil {
			return nil, err
		}
		switch {
		case v == 0:
			var n uint64
			n, err = c.Uvarint()
			if err != nil {
				return nil, err
			}
			if n == 0 {
				return nil, formatErrorf("chain", -1, "alias to handle 0")
			}
			err = b.alias(n - 1)
		case v&1 == 1:
			err = b.offset(v >> 1)
		default:
			err = b.skip(v >> 1)
		}
		if err != nil {
			return nil, err
		}
	}
	return b.out, nil
}

// parseChain2 decodes the chain table of block
// kind 8, which uses signed entries for aliases.
func parseChain2(chain []byte, max int) ([]streamRef, error) {
	b := &chainBuilder{max: max, owner: -1}
	c := bin.NewCursor(chain)
	prevAlias := int64(0)
	for c.Len() > 0 {
		var err error
		if c.Rest()[0]&1 == 1 {
			var s int64
			s, err = c.Varint()
			if err != nil {
				return nil, err
			}
			s >>= 1
			switch {
			case s > 0:
				err = b.offset(uint64(s))
			case s < 0:
				prevAlias = s
				err = b.alias(uint64(-s - 1))
			default:
				if prevAlias == 0 {
					return nil, formatErrorf("chain", -1, "repeated alias before any alias")
				}
				err = b.alias(uint64(-prevAlias - 1))
			}
		} else {
			var v uint64
			v, err = c.Uvarint()
			if err == nil {
				err = b.skip(v >> 1)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return b.out, nil
}

// resolve fills in the length of the last stream,
// copies aliased stream locations and pads the
// table to vcCount entries.
func (l *vcLayout) resolve(limit int64) error {
	s := l.streams
	last := -1
	for i := range s {
		if s[i].has {
			last = i
		}
	}
	if last >= 0 {
		if s[last].off < 1 || s[last].off > limit {
			return formatErrorf("chain", -1, "stream of handle %d at %d is outside [1, %d]", last+1, s[last].off, limit)
		}
		s[last].n = limit - s[last].off
	}
	for i := range s {
		if s[i].alias >= 0 {
			t := s[i].alias
			s[i].off, s[i].n, s[i].has = s[t].off, s[t].n, s[t].has
			continue
		}
		if !s[i].has {
			continue
		}
		if s[i].off < 1 || s[i].n < 0 || s[i].off+s[i].n > limit {
			return formatErrorf("chain", -1, "stream of handle %d [%d, +%d) is outside [1, %d]", i+1, s[i].off, s[i].n, limit)
		}
	}
	for len(l.streams) < l.vcCount {
		l.streams = append(l.streams, streamRef{alias: -1})
	}
	return nil
}

// change is one decoded value change.
// Bits and string values live in an arena
// at [off, off+n).
type change struct {
	tidx int
	off  int
	n    int
	real float64
}

// streamDecoder turns the payload of one value
// stream into changes.
type streamDecoder struct {
	order  binary.ByteOrder
	ntimes int
	arena  []byte
	// scratch for packed bits
	tmp []byte
}

var nonBinary = [8]byte{'x', 'z', 'h', 'u', 'w', 'l', '-', '?'}

// inflate returns the decompressed payload of a
// stream whose raw bytes (length prefix included)
// are in raw.
func inflate(pack byte, raw []byte) ([]byte, error) {
	c := bin.NewCursor(raw)
	ulen, err := c.Uvarint()
	if err != nil {
		return nil, err
	}
	data := c.Rest()
	if ulen == 0 {
		return data, nil
	}
	if err := bin.CheckRatio(uint64(len(data)), ulen); err != nil {
		return nil, err
	}
	name := "zlib"
	switch pack {
	case 'F':
		name = "fastlz"
	case '4':
		name = "lz4"
	}
	dst := make([]byte, ulen)
	if err := compr.Decompression(name).Decompress(data, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

func (d *streamDecoder) step(tidx *int, delta uint64) error {
	if delta >= uint64(d.ntimes) || uint64(*tidx)+delta >= uint64(d.ntimes) {
		return formatErrorf("vcdata", -1, "time index %d+%d past %d block timestamps", *tidx, delta, d.ntimes)
	}
	*tidx += int(delta)
	return nil
}

// decode appends the changes encoded in data
// for a signal of the given class and geometry.
func (d *streamDecoder) decode(data []byte, cls signalClass, info SignalInfo, out []change) ([]change, error) {
	c := bin.NewCursor(data)
	tidx := 0
	w := int(info.Width)
	for c.Len() > 0 {
		v, err := c.Uvarint()
		if err != nil {
			return nil, err
		}
		ch := change{off: len(d.arena)}
		switch {
		case cls == classReal:
			if err := d.step(&tidx, v>>1); err != nil {
				return nil, err
			}
			b, err := c.Bytes(8)
			if err != nil {
				return nil, err
			}
			ch.real = math.Float64frombits(d.order.Uint64(b))
		case cls == classVarLen:
			if err := d.step(&tidx, v>>1); err != nil {
				return nil, err
			}
			n, err := c.Uvarint()
			if err != nil {
				return nil, err
			}
			if n > uint64(c.Len()) {
				return nil, formatErrorf("vcdata", -1, "string of %d bytes with %d left", n, c.Len())
			}
			b, _ := c.Bytes(int(n))
			d.arena = append(d.arena, b...)
			ch.n = int(n)
		case w == 1:
			var bit byte
			if v&1 == 0 {
				bit = '0' + byte((v>>1)&1)
				err = d.step(&tidx, v>>2)
			} else {
				bit = nonBinary[(v>>1)&7]
				err = d.step(&tidx, v>>4)
			}
			if err != nil {
				return nil, err
			}
			d.arena = append(d.arena, bit)
			ch.n = 1
		default:
			if err := d.step(&tidx, v>>1); err != nil {
				return nil, err
			}
			if v&1 == 0 {
				b, err := c.Bytes((w + 7) / 8)
				if err != nil {
					return nil, err
				}
				d.arena = unpackBits(d.arena, b, w)
			} else {
				b, err := c.Bytes(w)
				if err != nil {
					return nil, err
				}
				d.arena = append(d.arena, b...)
			}
			ch.n = w
		}
		ch.tidx = tidx
		if cls == classRealBits32 || cls == classRealBits64 {
			ch.real = bitsReal(d.arena[ch.off:], cls)
			d.arena = d.arena[:ch.off]
			ch.n = 0
		}
		out = append(out, ch)
	}
	return out, nil
}

// unpackBits appends w characters for the
// MSB-first packed bits in b.
func unpackBits(dst, b []byte, w int) []byte {
	for i := 0; i < w; i++ {
		dst = append(dst, '0'+(b[i/8]>>(7-uint(i%8)))&1)
	}
	return dst
}

// bitsReal reinterprets a 32- or 64-bit pattern as
// an IEEE float. Patterns with non-binary characters
// have no numeric value and decode to NaN.
func bitsReal(chars []byte, cls signalClass) float64 {
	u, ok := parseBits(chars)
	if !ok {
		return math.NaN()
	}
	if cls == classRealBits32 {
		return float64(math.Float32frombits(uint32(u)))
	}
	return math.Float64frombits(u)
}

// frameValues decodes the initial value snapshot
// of handles [0, count) into changes at index 0.
// Variable-length signals are not part of the frame.
func (d *streamDecoder) frameValues(frame []byte, geom []SignalInfo, class []signalClass, count int, mask handleMask, emit func(h int, ch change)) error {
	c := bin.NewCursor(frame)
	for h := 0; h < count; h++ {
		n := geom[h].frameBytes()
		b, err := c.Bytes(n)
		if err != nil {
			return formatErrorf("frame", -1, "frame ends at handle %d", h+1)
		}
		if n == 0 || !mask.has(h) {
			continue
		}
		ch := change{off: len(d.arena)}
		switch class[h] {
		case classReal:
			ch.real = math.Float64frombits(d.order.Uint64(b))
		case classRealBits32, classRealBits64:
			ch.real = bitsReal(b, class[h])
		default:
			d.arena = append(d.arena, b...)
			ch.n = n
		}
		emit(h, ch)
	}
	if c.Len() != 0 {
		return formatErrorf("frame", -1, "%d trailing bytes after %d handles", c.Len(), count)
	}
	return nil
}

// frameSize is the uncompressed frame length
// implied by the geometry of the first count handles.
func frameSize(geom []SignalInfo, count int) uint64 {
	n := uint64(0)
	for _, g := range geom[:count] {
		n += uint64(g.frameBytes())
	}
	return n
}
