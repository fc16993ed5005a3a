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

// Package ints provides integer interval helpers.
package ints

import "golang.org/x/exp/slices"

// Interval is a half-open interval [Start, End)
// of byte offsets.
type Interval struct {
	Start, End int64
}

// Intervals represents a series of half-open
// intervals.
type Intervals []Interval

// Len returns the length of the interval.
func (in Interval) Len() int64 {
	if in.End <= in.Start {
		return 0
	}
	return in.End - in.Start
}

// Compress sorts [in] and merges intervals that
// overlap or are separated by at most gap bytes,
// so that the result is ordered and disjoint.
func (in *Intervals) Compress(gap int64) {
	// sort by start, then by end
	slices.SortFunc(*in, func(x, y Interval) int {
		if x.Start == y.Start {
			return cmp64(x.End, y.End)
		}
		return cmp64(x.Start, y.Start)
	})
	out := (*in)[:0]
	for i := 0; i < len(*in); i++ {
		cur := (*in)[i]
		// while the next interval starts within
		// gap of the current end, collapse it
		for i+1 < len(*in) && (*in)[i+1].Start-cur.End <= gap {
			i++
			if (*in)[i].End > cur.End {
				cur.End = (*in)[i].End
			}
		}
		out = append(out, cur)
	}
	*in = out
}

func cmp64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Find returns the index of the interval
// containing off, or -1. [in] must be compressed.
func (in Intervals) Find(off int64) int {
	i, _ := slices.BinarySearchFunc(in, off, func(x Interval, off int64) int {
		switch {
		case x.End <= off:
			return -1
		case x.Start > off:
			return 1
		}
		return 0
	})
	if i < len(in) && in[i].Start <= off && off < in[i].End {
		return i
	}
	return -1
}
