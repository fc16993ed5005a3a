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
	"context"
	"math"
	"runtime"

	"github.com/SnellerInc/fst/compr"
	"github.com/SnellerInc/fst/internal/bin"
	"github.com/SnellerInc/fst/ints"

	"github.com/sourcegraph/conc/stream"
)

// decodePlan is the state shared by every
// block decode of one ReadSignals call.
// It is read-only once built.
type decodePlan struct {
	filter *Filter
	geom   []SignalInfo
	class  []signalClass
	mask   handleMask
	// per value-change block: timestamps,
	// global index of the first one, and
	// the error hit decoding them
	times [][]uint64
	bases []int
	terrs []error
}

func (r *Reader) hasHierarchy() bool {
	for i := range r.blocks {
		if r.blocks[i].Kind.IsHierarchy() {
			return true
		}
	}
	return false
}

func (r *Reader) prepare(f *Filter) (*decodePlan, error) {
	if f == nil {
		f = All()
	}
	if err := r.loadGeometry(); err != nil {
		return nil, err
	}
	// value classification needs the declared var types
	if r.registry == nil && r.hasHierarchy() {
		if err := r.ReadHierarchy(func(*HierarchyEvent) error { return nil }); err != nil {
			return nil, err
		}
	}
	class, err := classify(r.geometry, r.registry)
	if err != nil {
		return nil, err
	}
	mask, err := f.mask(len(r.geometry))
	if err != nil {
		return nil, err
	}
	p := &decodePlan{
		filter: f,
		geom:   r.geometry,
		class:  class,
		mask:   mask,
		times:  make([][]uint64, len(r.vc)),
		bases:  make([]int, len(r.vc)),
		terrs:  make([]error, len(r.vc)),
	}
	base := 0
	floor := uint64(0)
	for i := range r.vc {
		p.bases[i] = base
		t, err := r.blockTimes(i, floor)
		if err != nil {
			if IsIoError(err) {
				return nil, err
			}
			// the block is reported when it is
			// decoded; it contributes no indices
			p.terrs[i] = err
			continue
		}
		p.times[i] = t
		base += len(t)
		if len(t) > 0 {
			floor = t[len(t)-1]
		}
	}
	return p, nil
}

// wanted returns true if value-change block
// i can produce records that pass the filter.
func (r *Reader) wanted(p *decodePlan, i int) bool {
	e := &r.blocks[r.vc[i]]
	if p.terrs[i] != nil {
		return p.filter.Overlaps(e.Start, e.End)
	}
	if i == 0 && p.filter.Contains(e.Start) {
		return true
	}
	t := p.times[i]
	return len(t) > 0 && p.filter.Overlaps(t[0], t[len(t)-1])
}

// handleChange is a change of one handle.
type handleChange struct {
	h int
	change
}

// blockChanges holds the decoded, filtered
// records of one value-change block.
type blockChanges struct {
	index int
	arena []byte
	frame []handleChange
	// ordered by time index, then handle
	events []handleChange
}

// coalesceGap is the largest gap between two
// selected streams that is read rather than
// seeked over.
const coalesceGap = 64 << 10

// decodeBlock decodes value-change block i,
// keeping only what passes the filter.
func (r *Reader) decodeBlock(p *decodePlan, i int) (*blockChanges, error) {
	e := &r.blocks[r.vc[i]]
	if p.terrs[i] != nil {
		return nil, p.terrs[i]
	}
	bc, err := r.decodeBlockData(p, i, e)
	if err != nil {
		return nil, wrapFormat("vcdata", e.Offset, err)
	}
	return bc, nil
}

func (r *Reader) decodeBlockData(p *decodePlan, i int, e *BlockEntry) (*blockChanges, error) {
	l, err := r.parseLayout(e, len(p.geom))
	if err != nil {
		return nil, err
	}
	times := p.times[i]
	d := &streamDecoder{order: r.header.RealOrder, ntimes: len(times)}
	bc := &blockChanges{index: i}

	if i == 0 && p.filter.Contains(e.Start) && l.frameCount > 0 {
		frame, err := r.readFrame(p, l)
		if err != nil {
			return nil, err
		}
		err = d.frameValues(frame, p.geom, p.class, l.frameCount, p.mask, func(h int, ch change) {
			bc.frame = append(bc.frame, handleChange{h: h, change: ch})
		})
		if err != nil {
			return nil, err
		}
	}

	// owners maps each stream offset to the
	// handles that read from it
	type owned struct {
		ref     streamRef
		handles []int
	}
	var list []owned
	byOff := make(map[int64]int)
	for h := 0; h < l.vcCount; h++ {
		s := &l.streams[h]
		if s.alias >= 0 && (p.geom[h] != p.geom[s.alias] || p.class[h] != p.class[s.alias]) {
			return nil, formatErrorf("chain", l.chainOff, "handle %s (%s/%d) shares the stream of handle %s (%s/%d)",
				Handle(h), p.geom[h].Kind, p.geom[h].Width, Handle(s.alias), p.geom[s.alias].Kind, p.geom[s.alias].Width)
		}
		if !s.has || s.n == 0 || !p.mask.has(h) {
			continue
		}
		if j, ok := byOff[s.off]; ok {
			list[j].handles = append(list[j].handles, h)
			continue
		}
		byOff[s.off] = len(list)
		list = append(list, owned{ref: *s, handles: []int{h}})
	}
	spans := make(ints.Intervals, len(list))
	for j := range list {
		spans[j] = ints.Interval{Start: list[j].ref.off, End: list[j].ref.off + list[j].ref.n}
	}
	spans.Compress(coalesceGap)
	bufs := make([][]byte, len(spans))
	for k := range spans {
		buf, err := r.src.read("vcdata", l.vcStart+spans[k].Start, spans[k].Len())
		if err != nil {
			return nil, err
		}
		bufs[k] = buf
	}

	changes := make([][]change, len(p.geom))
	total := 0
	for j := range list {
		ref := list[j].ref
		k := spans.Find(ref.off)
		rel := ref.off - spans[k].Start
		raw := bufs[k][rel : rel+ref.n]
		h := list[j].handles[0]
		data, err := inflate(l.pack, raw)
		if err != nil {
			return nil, wrapFormat("vcdata", l.vcStart+ref.off, err)
		}
		out, err := d.decode(data, p.class[h], p.geom[h], nil)
		if err != nil {
			return nil, wrapFormat("vcdata", l.vcStart+ref.off, err)
		}
		for _, h := range list[j].handles {
			changes[h] = out
			total += len(out)
		}
	}

	// bucket by time index; handles are visited in
	// ascending order so each bucket stays sorted
	start := make([]int, len(times)+1)
	for h := range changes {
		for _, ch := range changes[h] {
			start[ch.tidx+1]++
		}
	}
	for t := 1; t < len(start); t++ {
		start[t] += start[t-1]
	}
	events := make([]handleChange, total)
	for h := range changes {
		for _, ch := range changes[h] {
			events[start[ch.tidx]] = handleChange{h: h, change: ch}
			start[ch.tidx]++
		}
	}
	if lo, hi := p.filter.TimeRange(); lo > 0 || hi < math.MaxUint64 {
		kept := events[:0]
		for _, ev := range events {
			if p.filter.Contains(times[ev.tidx]) {
				kept = append(kept, ev)
			}
		}
		events = kept
	}
	bc.events = events
	bc.arena = d.arena
	r.log.Debug().Int("block", i).Int("streams", len(list)).Int("spans", len(spans)).Int("records", len(events)+len(bc.frame)).Msg("decoded value-change block")
	return bc, nil
}

// readFrame returns the uncompressed frame of l.
func (r *Reader) readFrame(p *decodePlan, l *vcLayout) ([]byte, error) {
	if want := frameSize(p.geom, l.frameCount); want != l.frameUlen {
		return nil, formatErrorf("frame", l.frameOff, "frame of %d bytes; geometry implies %d", l.frameUlen, want)
	}
	frame, err := r.src.read("frame", l.frameOff, int64(l.frameClen))
	if err != nil {
		return nil, err
	}
	if l.frameClen == l.frameUlen {
		return frame, nil
	}
	if err := bin.CheckRatio(l.frameClen, l.frameUlen); err != nil {
		return nil, wrapFormat("frame", l.frameOff, err)
	}
	dst := make([]byte, l.frameUlen)
	if err := compr.Decompression("zlib").Decompress(frame, dst); err != nil {
		return nil, wrapFormat("frame", l.frameOff, err)
	}
	return dst, nil
}

func (p *decodePlan) value(arena []byte, hc *handleChange) Value {
	switch p.class[hc.h] {
	case classReal, classRealBits32, classRealBits64:
		return RealValue(hc.real)
	case classVarLen:
		return Value{Kind: ValueString, raw: arena[hc.off : hc.off+hc.n]}
	default:
		return Value{Kind: ValueBits, raw: arena[hc.off : hc.off+hc.n]}
	}
}

// emit delivers the records of bc to sink.
func (r *Reader) emit(p *decodePlan, bc *blockChanges, sink func(*Record) error) error {
	var rec Record
	if len(bc.frame) > 0 {
		e := &r.blocks[r.vc[bc.index]]
		for j := range bc.frame {
			hc := &bc.frame[j]
			rec = Record{
				Handle:    Handle(hc.h),
				TimeIndex: p.bases[bc.index],
				Time:      e.Start,
				Value:     p.value(bc.arena, hc),
			}
			if err := sink(&rec); err != nil {
				return err
			}
		}
	}
	times := p.times[bc.index]
	base := p.bases[bc.index]
	for j := range bc.events {
		hc := &bc.events[j]
		rec = Record{
			Handle:    Handle(hc.h),
			TimeIndex: base + hc.tidx,
			Time:      times[hc.tidx],
			Value:     p.value(bc.arena, hc),
		}
		if err := sink(&rec); err != nil {
			return err
		}
	}
	return nil
}

// failed turns a decode error of block i into
// the error ReadSignals returns, or records it
// in skipped and returns nil when corrupt
// blocks are being skipped.
func (r *Reader) failed(i int, err error, skipped *[]*BlockError) error {
	if IsIoError(err) {
		return err
	}
	e := &r.blocks[r.vc[i]]
	be := &BlockError{Index: i, Start: e.Start, End: e.End, Err: err}
	if !r.opts.skipCorrupt {
		return be
	}
	r.log.Warn().Err(err).Int("block", i).Uint64("start", e.Start).Uint64("end", e.End).Msg("skipping corrupt value-change block")
	*skipped = append(*skipped, be)
	return nil
}

func partial(skipped []*BlockError) error {
	if len(skipped) == 0 {
		return nil
	}
	return &PartialError{Blocks: skipped}
}

// ReadSignals decodes the value changes selected
// by f (nil selects everything) and passes each one
// to sink, block by block in file order. Within a
// block, records are ordered by time and then by
// handle; the records of one handle are therefore
// in non-decreasing TimeIndex order overall.
//
// The initial values of the first value-change
// block are delivered first, at its start time.
//
// The Record passed to sink is reused; see
// Record.Clone. An error from sink stops the
// decode and is returned unchanged.
//
// A corrupt block yields a *BlockError, after the
// records of every earlier block have been delivered.
// With WithSkipCorruptBlocks the block is skipped
// instead and a *PartialError listing every skipped
// block is returned at the end.
func (r *Reader) ReadSignals(f *Filter, sink func(*Record) error) error {
	p, err := r.prepare(f)
	if err != nil {
		return err
	}
	var skipped []*BlockError
	for i := range r.vc {
		if !r.wanted(p, i) {
			continue
		}
		bc, err := r.decodeBlock(p, i)
		if err != nil {
			if err := r.failed(i, err, &skipped); err != nil {
				return err
			}
			continue
		}
		if err := r.emit(p, bc, sink); err != nil {
			return err
		}
	}
	return partial(skipped)
}

// ReadSignalsParallel is like ReadSignals, but
// decodes up to workers blocks concurrently
// (GOMAXPROCS if workers <= 0). sink is still
// called from one goroutine at a time and sees
// exactly the sequence ReadSignals would produce.
//
// Canceling ctx stops the decode; blocks that
// are already decoded may still be delivered
// before ctx.Err() is returned.
func (r *Reader) ReadSignalsParallel(ctx context.Context, f *Filter, workers int, sink func(*Record) error) error {
	p, err := r.prepare(f)
	if err != nil {
		return err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	inner, cancel := context.WithCancel(ctx)
	defer cancel()

	// only callbacks touch these, and
	// they run one at a time
	var fatal error
	var skipped []*BlockError

	s := stream.New().WithMaxGoroutines(workers)
	for i := range r.vc {
		if inner.Err() != nil {
			break
		}
		if !r.wanted(p, i) {
			continue
		}
		i := i
		s.Go(func() stream.Callback {
			if inner.Err() != nil {
				return func() {}
			}
			bc, err := r.decodeBlock(p, i)
			return func() {
				if fatal != nil || inner.Err() != nil {
					return
				}
				if err != nil {
					fatal = r.failed(i, err, &skipped)
				} else {
					fatal = r.emit(p, bc, sink)
				}
				if fatal != nil {
					cancel()
				}
			}
		})
	}
	s.Wait()
	if fatal != nil {
		return fatal
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return partial(skipped)
}
