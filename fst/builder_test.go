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
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"
)

// builder produces FST files for tests.
type builder struct {
	t       testing.TB
	order   binary.ByteOrder
	version string

	hier     bytes.Buffer
	hierKind BlockKind
	// geometry value and declared type per handle
	geom  []uint32
	types []VarType
	nvars int
	depth int

	blocks    []*vcBuilder
	blackouts []Blackout
	// wrap the finished file in a gzip wrapper block
	wrap bool
	// write a blank geometry block split in two
	splitGeometry bool
}

func newBuilder(t testing.TB) *builder {
	return &builder{t: t, order: binary.LittleEndian, version: "fst test writer", hierKind: BlockHierarchy}
}

func (b *builder) Scope(t ScopeType, name, component string) *builder {
	b.hier.WriteByte(tagScope)
	b.hier.WriteByte(byte(t))
	b.hier.WriteString(name + "\x00" + component + "\x00")
	b.depth++
	return b
}

func (b *builder) Upscope() *builder {
	b.hier.WriteByte(tagUpScope)
	b.depth--
	return b
}

func (b *builder) Attr(t AttrType, sub uint8, name string, arg uint64) *builder {
	b.hier.WriteByte(tagAttrBegin)
	b.hier.WriteByte(byte(t))
	b.hier.WriteByte(sub)
	b.hier.WriteString(name + "\x00")
	b.hier.Write(uvarint(arg))
	return b
}

func (b *builder) AttrEnd() *builder {
	b.hier.WriteByte(tagAttrEnd)
	return b
}

func (b *builder) varToken(t VarType, name string, width uint32, alias uint32) {
	b.hier.WriteByte(byte(t))
	b.hier.WriteByte(byte(DirImplicit))
	b.hier.WriteString(name + "\x00")
	b.hier.Write(uvarint(uint64(width)))
	b.hier.Write(uvarint(uint64(alias)))
	b.nvars++
}

// Var declares a variable with its own handle.
// Real types get real geometry; VarString gets
// variable-length geometry.
func (b *builder) Var(t VarType, name string, width uint32) Handle {
	g := width
	switch {
	case t.IsReal():
		g = 0
	case t == VarString:
		g = math.MaxUint32
	}
	return b.VarGeom(t, name, width, g)
}

// VarGeom declares a variable with an
// explicit geometry entry.
func (b *builder) VarGeom(t VarType, name string, width, geom uint32) Handle {
	b.varToken(t, name, width, 0)
	b.geom = append(b.geom, geom)
	b.types = append(b.types, t)
	return Handle(len(b.geom) - 1)
}

// Alias declares a variable sharing the handle of h.
func (b *builder) Alias(t VarType, name string, width uint32, h Handle) {
	b.varToken(t, name, width, uint32(h)+1)
}

// Block starts a value-change block with
// the given timestamps.
func (b *builder) Block(times ...uint64) *vcBuilder {
	vb := &vcBuilder{
		b:       b,
		kind:    BlockValueChangeAlias2,
		pack:    'Z',
		times:   times,
		frame:   map[int]testValue{},
		changes: map[int][]testChange{},
		aliases: map[int]int{},
	}
	b.blocks = append(b.blocks, vb)
	return vb
}

// testValue is a value as the builder writes it:
// bits or string characters, or a real.
type testValue struct {
	s string
	f float64
}

type testChange struct {
	tidx int
	v    testValue
}

type vcBuilder struct {
	b    *builder
	kind BlockKind
	pack byte
	// compress streams, frame and time section
	compress bool
	times    []uint64
	frame    map[int]testValue
	changes  map[int][]testChange
	// chain-level stream sharing
	aliases map[int]int
	// handles covered; -1 means all
	vcMax int
	// corrupt the block after encoding it
	mangle func(payload []byte)
}

func (vb *vcBuilder) Kind(k BlockKind) *vcBuilder    { vb.kind = k; return vb }
func (vb *vcBuilder) Pack(p byte) *vcBuilder         { vb.pack = p; return vb }
func (vb *vcBuilder) Compress(on bool) *vcBuilder    { vb.compress = on; return vb }
func (vb *vcBuilder) Frame(h Handle, s string) *vcBuilder {
	vb.frame[int(h)] = testValue{s: s}
	return vb
}
func (vb *vcBuilder) FrameReal(h Handle, f float64) *vcBuilder {
	vb.frame[int(h)] = testValue{f: f}
	return vb
}

// Change records a bits or string value of h
// at time index tidx (local to the block).
func (vb *vcBuilder) Change(h Handle, tidx int, s string) *vcBuilder {
	vb.changes[int(h)] = append(vb.changes[int(h)], testChange{tidx: tidx, v: testValue{s: s}})
	return vb
}

func (vb *vcBuilder) Real(h Handle, tidx int, f float64) *vcBuilder {
	vb.changes[int(h)] = append(vb.changes[int(h)], testChange{tidx: tidx, v: testValue{f: f}})
	return vb
}

// Share makes h reuse the stream of the earlier handle target.
func (vb *vcBuilder) Share(h, target Handle) *vcBuilder {
	vb.aliases[int(h)] = int(target)
	return vb
}

func (vb *vcBuilder) Done() *builder { return vb.b }

func uvarint(v uint64) []byte {
	return binary.AppendUvarint(nil, v)
}

func svarint(v int64) []byte {
	var out []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(out, c)
		}
		out = append(out, c|0x80)
	}
}

func be64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func zlibPack(t testing.TB, src []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(src)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func gzipPack(t testing.TB, src []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(src)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// lz4Pack compresses src as an lz4 block, falling
// back to a single literal run when lz4 declines.
func lz4Pack(src []byte) []byte {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err == nil && n > 0 {
		return dst[:n]
	}
	n = len(src)
	var out []byte
	if n < 15 {
		out = append(out, byte(n<<4))
	} else {
		out = append(out, 0xf0)
		for n -= 15; n >= 255; n -= 255 {
			out = append(out, 255)
		}
		out = append(out, byte(n))
	}
	return append(out, src...)
}

// fastlzPack encodes src as level-1 FastLZ
// literal runs.
func fastlzPack(src []byte) []byte {
	var out []byte
	for len(src) > 0 {
		n := len(src)
		if n > 32 {
			n = 32
		}
		out = append(out, byte(n-1))
		out = append(out, src[:n]...)
		src = src[n:]
	}
	return out
}

// real appends f in the file's byte order.
func (b *builder) real(dst []byte, f float64) []byte {
	var buf [8]byte
	b.order.PutUint64(buf[:], math.Float64bits(f))
	return append(dst, buf[:]...)
}

func block(kind BlockKind, payload []byte) []byte {
	out := []byte{byte(kind)}
	out = append(out, be64(uint64(len(payload)+8))...)
	return append(out, payload...)
}

// deflated returns the zlib form of raw unless
// it is not strictly shorter, in which case raw
// is returned, as writers do.
func (b *builder) deflated(raw []byte, on bool) []byte {
	if !on {
		return raw
	}
	z := zlibPack(b.t, raw)
	if len(z) >= len(raw) {
		return raw
	}
	return z
}

func (b *builder) header() []byte {
	var p []byte
	start, end := uint64(0), uint64(0)
	if len(b.blocks) > 0 {
		first := b.blocks[0].times
		last := b.blocks[len(b.blocks)-1].times
		if len(first) > 0 {
			start = first[0]
		}
		if len(last) > 0 {
			end = last[len(last)-1]
		}
	}
	p = append(p, be64(start)...)
	p = append(p, be64(end)...)
	p = b.real(p, endianMarker)
	p = append(p, be64(1<<20)...)
	p = append(p, be64(uint64(strings.Count(b.hier.String(), "\xfe")))...)
	p = append(p, be64(uint64(b.nvars))...)
	p = append(p, be64(uint64(len(b.geom)))...)
	p = append(p, be64(uint64(len(b.blocks)))...)
	p = append(p, byte(0xf7)) // -9: ns
	ver := make([]byte, versionLength)
	copy(ver, b.version)
	p = append(p, ver...)
	date := make([]byte, dateLength)
	copy(date, "Mon Oct 12 09:00:00 2026")
	p = append(p, date...)
	p = append(p, byte(FileVerilog))
	p = append(p, be64(0)...)
	return block(BlockHeader, p)
}

func (b *builder) geometry(geom []uint32) []byte {
	var raw []byte
	for _, g := range geom {
		raw = binary.AppendUvarint(raw, uint64(g))
	}
	data := b.deflated(raw, true)
	p := be64(uint64(len(raw)))
	p = append(p, be64(uint64(len(geom)))...)
	return block(BlockGeometry, append(p, data...))
}

func (b *builder) hierarchy() []byte {
	raw := b.hier.Bytes()
	var data []byte
	switch b.hierKind {
	case BlockHierarchy:
		data = gzipPack(b.t, raw)
	case BlockHierarchyLZ4:
		data = lz4Pack(raw)
	case BlockHierarchyLZ4Duo:
		mid := lz4Pack(raw)
		data = append(uvarint(uint64(len(mid))), lz4Pack(mid)...)
	default:
		b.t.Fatalf("bad hierarchy kind %s", b.hierKind)
	}
	return block(b.hierKind, append(be64(uint64(len(raw))), data...))
}

func (b *builder) blackout() []byte {
	p := uvarint(uint64(len(b.blackouts)))
	prev := uint64(0)
	for _, bo := range b.blackouts {
		if bo.Active {
			p = append(p, 1)
		} else {
			p = append(p, 0)
		}
		p = append(p, uvarint(bo.Time-prev)...)
		prev = bo.Time
	}
	return block(BlockBlackout, p)
}

// isReal reports whether h is written as a double.
func (b *builder) isReal(h int) bool { return b.geom[h] == 0 }

func (b *builder) bitsWidth(h int) int { return int(b.geom[h]) }

// frameValue encodes the initial value of h.
func (vb *vcBuilder) frameValue(h int) []byte {
	b := vb.b
	switch {
	case b.geom[h] == math.MaxUint32:
		return nil
	case b.isReal(h):
		return b.real(nil, vb.frame[h].f)
	}
	v, ok := vb.frame[h]
	if !ok {
		return bytes.Repeat([]byte{'x'}, b.bitsWidth(h))
	}
	require.Len(b.t, v.s, b.bitsWidth(h), "frame value of handle %d", h)
	return []byte(v.s)
}

func isBinary(s string) bool {
	return strings.Trim(s, "01") == ""
}

// stream encodes the changes of h.
func (vb *vcBuilder) stream(h int) []byte {
	b := vb.b
	var out []byte
	prev := 0
	for _, c := range vb.changes[h] {
		delta := uint64(c.tidx - prev)
		prev = c.tidx
		switch {
		case b.geom[h] == math.MaxUint32:
			out = append(out, uvarint(delta<<1)...)
			out = append(out, uvarint(uint64(len(c.v.s)))...)
			out = append(out, c.v.s...)
		case b.isReal(h):
			out = append(out, uvarint(delta<<1)...)
			out = b.real(out, c.v.f)
		case b.bitsWidth(h) == 1:
			require.Len(b.t, c.v.s, 1)
			switch c.v.s[0] {
			case '0', '1':
				out = append(out, uvarint(delta<<2|uint64(c.v.s[0]-'0')<<1)...)
			default:
				i := bytes.IndexByte(nonBinary[:], c.v.s[0])
				require.GreaterOrEqual(b.t, i, 0)
				out = append(out, uvarint(delta<<4|uint64(i)<<1|1)...)
			}
		default:
			w := b.bitsWidth(h)
			require.Len(b.t, c.v.s, w, "value of handle %d", h)
			if isBinary(c.v.s) {
				out = append(out, uvarint(delta<<1)...)
				packed := make([]byte, (w+7)/8)
				for i := 0; i < w; i++ {
					if c.v.s[i] == '1' {
						packed[i/8] |= 1 << (7 - uint(i%8))
					}
				}
				out = append(out, packed...)
			} else {
				out = append(out, uvarint(delta<<1|1)...)
				out = append(out, c.v.s...)
			}
		}
	}
	if !vb.compress {
		return append(uvarint(0), out...)
	}
	var packed []byte
	switch vb.pack {
	case 'Z':
		packed = zlibPack(b.t, out)
	case 'F':
		packed = fastlzPack(out)
	case '4':
		packed = lz4Pack(out)
	}
	return append(uvarint(uint64(len(out))), packed...)
}

func (vb *vcBuilder) encode() []byte {
	b := vb.b
	n := len(b.geom)
	vcMax := n
	if vb.vcMax > 0 {
		vcMax = vb.vcMax
	}
	start, end := uint64(0), uint64(0)
	if len(vb.times) > 0 {
		start, end = vb.times[0], vb.times[len(vb.times)-1]
	}
	p := be64(start)
	p = append(p, be64(end)...)
	p = append(p, be64(1<<16)...)

	var frame []byte
	for h := 0; h < n; h++ {
		frame = append(frame, vb.frameValue(h)...)
	}
	fc := b.deflated(frame, vb.compress)
	p = append(p, uvarint(uint64(len(frame)))...)
	p = append(p, uvarint(uint64(len(fc)))...)
	p = append(p, uvarint(uint64(n))...)
	p = append(p, fc...)
	p = append(p, uvarint(uint64(vcMax))...)
	vcStart := len(p)
	p = append(p, vb.pack)

	var chain []byte
	skip := uint64(0)
	prevOff := 0
	prevAlias := -1
	flush := func() {
		if skip > 0 {
			chain = append(chain, uvarint(skip<<1)...)
			skip = 0
		}
	}
	for h := 0; h < vcMax; h++ {
		if t, ok := vb.aliases[h]; ok {
			flush()
			if vb.kind == BlockValueChangeAlias2 {
				if t == prevAlias {
					chain = append(chain, svarint(1)...)
				} else {
					chain = append(chain, svarint(int64(-(t+1))<<1|1)...)
				}
				prevAlias = t
			} else {
				chain = append(chain, 0)
				chain = append(chain, uvarint(uint64(t+1))...)
			}
			continue
		}
		if len(vb.changes[h]) == 0 {
			skip++
			continue
		}
		flush()
		off := len(p) - vcStart
		p = append(p, vb.stream(h)...)
		if vb.kind == BlockValueChangeAlias2 {
			chain = append(chain, svarint(int64(off-prevOff)<<1|1)...)
		} else {
			chain = append(chain, uvarint(uint64(off-prevOff)<<1|1)...)
		}
		prevOff = off
	}
	flush()
	p = append(p, chain...)
	p = append(p, be64(uint64(len(chain)))...)

	var traw []byte
	prev := uint64(0)
	for _, t := range vb.times {
		traw = binary.AppendUvarint(traw, t-prev)
		prev = t
	}
	tc := b.deflated(traw, vb.compress)
	p = append(p, tc...)
	p = append(p, be64(uint64(len(traw)))...)
	p = append(p, be64(uint64(len(tc)))...)
	p = append(p, be64(uint64(len(vb.times)))...)
	if vb.mangle != nil {
		vb.mangle(p)
	}
	return block(vb.kind, p)
}

// Bytes returns the encoded file.
func (b *builder) Bytes() []byte {
	require.Zero(b.t, b.depth, "unbalanced scopes in test hierarchy")
	out := b.header()
	for _, vb := range b.blocks {
		out = append(out, vb.encode()...)
	}
	if len(b.blackouts) > 0 {
		out = append(out, b.blackout()...)
	}
	if b.splitGeometry && len(b.geom) > 1 {
		half := len(b.geom) / 2
		out = append(out, b.geometry(b.geom[:half])...)
		out = append(out, b.geometry(b.geom[half:])...)
	} else {
		out = append(out, b.geometry(b.geom)...)
	}
	out = append(out, b.hierarchy()...)
	if !b.wrap {
		return out
	}
	gz := gzipPack(b.t, out)
	p := be64(uint64(len(gz) + 16))
	p = append(p, be64(uint64(len(out)))...)
	return append(append([]byte{byte(BlockWrapper)}, p...), gz...)
}

// open builds the file and opens it.
func (b *builder) open(opts ...Option) *Reader {
	r, err := Open(bytes.NewReader(b.Bytes()), opts...)
	require.NoError(b.t, err)
	b.t.Cleanup(func() { r.Close() })
	return r
}

// collect decodes every record selected by f.
func collect(t testing.TB, r *Reader, f *Filter) []Record {
	var out []Record
	err := r.ReadSignals(f, func(rec *Record) error {
		out = append(out, rec.Clone())
		return nil
	})
	require.NoError(t, err)
	return out
}
