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

	"github.com/SnellerInc/fst/internal/bin"
)

const (
	// headerLength is the section length of
	// the header block, counting its own length field.
	headerLength = 329

	versionLength = 128
	dateLength    = 119

	// endianMarker is stored in the header as a
	// raw double so that readers can tell which
	// byte order the writer used for real values.
	endianMarker = 2.7182818284590452354
)

// Header is the global file metadata.
type Header struct {
	// StartTime and EndTime bound the
	// simulation times in the file.
	StartTime uint64
	EndTime   uint64
	// RealOrder is the byte order of
	// real-valued signal data.
	RealOrder binary.ByteOrder
	// WriterMemory is the memory the writer
	// reported using.
	WriterMemory uint64
	ScopeCount   uint64
	VarCount     uint64
	// MaxHandle is the number of distinct
	// (non-alias) variables.
	MaxHandle uint64
	// ValueChangeCount is the writer's count
	// of value-change blocks.
	ValueChangeCount uint64
	// Timescale is the base-10 exponent
	// of one time unit in seconds.
	Timescale int8
	// Version identifies the simulator.
	Version  string
	Date     string
	FileType FileType
	TimeZero int64
}

// parseHeader decodes the header block payload
// (everything after the section length).
func parseHeader(payload []byte, off int64) (Header, error) {
	var h Header
	c := bin.NewCursor(payload)
	u64 := func() uint64 {
		v, _ := c.Uint64()
		return v
	}
	if c.Len() != headerLength-8 {
		return h, formatErrorf("header", off, "header payload is %d bytes; expected %d", c.Len(), headerLength-8)
	}
	h.StartTime = u64()
	h.EndTime = u64()
	marker, _ := c.Bytes(8)
	switch {
	case binary.LittleEndian.Uint64(marker) == math.Float64bits(endianMarker):
		h.RealOrder = binary.LittleEndian
	case binary.BigEndian.Uint64(marker) == math.Float64bits(endianMarker):
		h.RealOrder = binary.BigEndian
	default:
		return h, formatErrorf("header", off, "unrecognized endianness marker % x", marker)
	}
	h.WriterMemory = u64()
	h.ScopeCount = u64()
	h.VarCount = u64()
	h.MaxHandle = u64()
	h.ValueChangeCount = u64()
	ts, _ := c.Byte()
	h.Timescale = int8(ts)
	ver, _ := c.Bytes(versionLength)
	h.Version = bin.FixedCString(ver)
	date, _ := c.Bytes(dateLength)
	h.Date = bin.FixedCString(date)
	ft, _ := c.Byte()
	h.FileType = FileType(ft)
	h.TimeZero = int64(u64())
	return h, nil
}
