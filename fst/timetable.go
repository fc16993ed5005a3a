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
	"github.com/SnellerInc/fst/compr"
	"github.com/SnellerInc/fst/internal/bin"
)

// TimeTable returns the ordered timestamps of every
// value-change block, concatenated in file order.
// A record's TimeIndex indexes this table.
//
// The table is decoded on first use and cached;
// callers must not modify it. Neither the hierarchy
// nor any value data is decoded.
func (r *Reader) TimeTable() ([]uint64, error) {
	if r.timesOK {
		return r.times, nil
	}
	total := uint64(0)
	for _, bi := range r.vc {
		total += r.blocks[bi].Times.Count
	}
	// counts are untrusted until each section
	// is decoded; don't preallocate from them
	var out []uint64
	if total <= uint64(r.src.size) {
		out = make([]uint64, 0, total)
	}
	for i := range r.vc {
		prev := uint64(0)
		if len(out) > 0 {
			prev = out[len(out)-1]
		}
		t, err := r.blockTimes(i, prev)
		if err != nil {
			return nil, err
		}
		out = append(out, t...)
	}
	r.times = out
	r.timesOK = true
	r.log.Debug().Int("entries", len(out)).Msg("time table decoded")
	return out, nil
}

// timeBase returns the TimeIndex of the
// first timestamp of value-change block i.
func (r *Reader) timeBase(i int) int {
	n := uint64(0)
	for _, bi := range r.vc[:i] {
		n += r.blocks[bi].Times.Count
	}
	return int(n)
}

// blockTimes decodes the time section of value-change
// block i. floor is the last timestamp of the previous
// block; time must not go backwards across blocks.
func (r *Reader) blockTimes(i int, floor uint64) ([]uint64, error) {
	e := &r.blocks[r.vc[i]]
	if r.timesOK {
		base := r.timeBase(i)
		return r.times[base : base+int(e.Times.Count)], nil
	}
	ts := &e.Times
	data, err := r.src.read("timetable", ts.Offset, int64(ts.Compressed))
	if err != nil {
		return nil, err
	}
	if ts.Compressed != ts.Uncompressed {
		if err := bin.CheckRatio(ts.Compressed, ts.Uncompressed); err != nil {
			return nil, wrapFormat("timetable", ts.Offset, err)
		}
		dst := make([]byte, ts.Uncompressed)
		if err := compr.Decompression("zlib").Decompress(data, dst); err != nil {
			return nil, wrapFormat("timetable", ts.Offset, err)
		}
		data = dst
	}
	return decodeTimes(data, ts.Count, floor, ts.Offset)
}

// decodeTimes reconstructs count absolute timestamps
// from varint deltas. The first delta is relative to zero.
func decodeTimes(data []byte, count, floor uint64, off int64) ([]uint64, error) {
	// every delta takes at least one byte
	if count > uint64(len(data)) {
		return nil, formatErrorf("timetable", off, "%d entries declared in %d bytes", count, len(data))
	}
	out := make([]uint64, count)
	c := bin.NewCursor(data)
	t := uint64(0)
	for i := range out {
		delta, err := c.Uvarint()
		if err != nil {
			return nil, formatErrorf("timetable", off, "entry %d of %d: %s", i, count, err)
		}
		if t+delta < t {
			return nil, formatErrorf("timetable", off, "entry %d: time wraps around", i)
		}
		t += delta
		out[i] = t
	}
	if c.Len() != 0 {
		return nil, formatErrorf("timetable", off, "%d bytes left after %d declared entries", c.Len(), count)
	}
	if count > 0 && out[0] < floor {
		return nil, formatErrorf("timetable", off, "block starts at %d, before previous block's %d", out[0], floor)
	}
	return out, nil
}
