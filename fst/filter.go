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

	"github.com/RoaringBitmap/roaring"
)

// Filter selects the handles and the time
// range that ReadSignals should produce.
//
// The decoder evaluates the filter before reading
// or decompressing anything: blocks outside the time
// range are never read, and the value streams of
// unselected handles are never decompressed.
type Filter struct {
	// handles is nil when every handle is selected
	handles    *roaring.Bitmap
	start, end uint64
}

// All returns a Filter selecting every
// handle over the whole time range.
func All() *Filter { return &Filter{end: math.MaxUint64} }

// Select returns a Filter selecting only the given
// handles over the whole time range. With no
// arguments nothing is selected.
func Select(handles ...Handle) *Filter {
	f := &Filter{handles: roaring.New(), end: math.MaxUint64}
	for _, h := range handles {
		f.handles.Add(uint32(h))
	}
	return f
}

// Between returns a Filter selecting every
// handle at times in [start, end].
func Between(start, end uint64) *Filter {
	return &Filter{start: start, end: end}
}

// WithHandles returns a copy of f restricted
// to the given handles.
func (f *Filter) WithHandles(handles ...Handle) *Filter {
	out := Select(handles...)
	out.start, out.end = f.start, f.end
	return out
}

// WithTimeRange returns a copy of f restricted
// to times in [start, end].
func (f *Filter) WithTimeRange(start, end uint64) *Filter {
	out := &Filter{handles: f.handles, start: start, end: end}
	if f.handles != nil {
		out.handles = f.handles.Clone()
	}
	return out
}

// SelectsAll returns true if f selects every handle.
func (f *Filter) SelectsAll() bool { return f == nil || f.handles == nil }

// Selects returns true if handle h is selected.
func (f *Filter) Selects(h Handle) bool {
	if f == nil || f.handles == nil {
		return true
	}
	return f.handles.Contains(uint32(h))
}

// Contains returns true if time t is in range.
func (f *Filter) Contains(t uint64) bool {
	if f == nil {
		return true
	}
	return t >= f.start && t <= f.end
}

// Overlaps returns true if [start, end]
// intersects the filter's time range.
func (f *Filter) Overlaps(start, end uint64) bool {
	if f == nil {
		return true
	}
	return start <= f.end && end >= f.start
}

// TimeRange returns the selected time range.
func (f *Filter) TimeRange() (start, end uint64) {
	if f == nil {
		return 0, math.MaxUint64
	}
	return f.start, f.end
}

// Handles returns the selected handles in ascending
// order, or nil if every handle is selected.
func (f *Filter) Handles() []Handle {
	if f.SelectsAll() {
		return nil
	}
	out := make([]Handle, 0, f.handles.GetCardinality())
	it := f.handles.Iterator()
	for it.HasNext() {
		out = append(out, Handle(it.Next()))
	}
	return out
}

// mask expands the selection into a dense
// bitmap over n handles for the decode loop.
// A nil mask selects everything.
func (f *Filter) mask(n int) (handleMask, error) {
	if f.SelectsAll() {
		return nil, nil
	}
	if f.handles.GetCardinality() > 0 && int64(f.handles.Maximum()) >= int64(n) {
		return nil, &HandleRangeError{Handle: Handle(f.handles.Maximum()), Count: n}
	}
	m := make(handleMask, (n+63)/64)
	it := f.handles.Iterator()
	for it.HasNext() {
		h := it.Next()
		m[h/64] |= 1 << (h % 64)
	}
	return m, nil
}

type handleMask []uint64

func (m handleMask) has(h int) bool {
	return m == nil || m[h/64]&(1<<(h%64)) != 0
}

// HandleRangeError is returned when a Filter
// names a handle that the file does not have.
type HandleRangeError struct {
	Handle Handle
	Count  int
}

func (e *HandleRangeError) Error() string {
	return "fst: filter selects handle " + e.Handle.String() + " but the file has " + strconv.Itoa(e.Count) + " handles"
}
