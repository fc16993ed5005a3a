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

	"github.com/rs/zerolog"
)

// BlockEntry describes one top-level block.
// Entries are produced by a metadata-only scan;
// no payload is decompressed to build them.
type BlockEntry struct {
	Kind BlockKind
	// Offset is the file offset of the kind byte.
	Offset int64
	// Length is the declared section length,
	// which counts the 8-byte length field itself.
	Length int64
	// Codec is the name of the compr.Decompressor
	// for the payload, or "" if it is stored raw.
	// Value-change blocks carry their codec inside
	// the payload and leave this empty.
	Codec string
	// Uncompressed is the declared length of
	// the decompressed payload, where there is one.
	Uncompressed uint64

	// Start, End, MemRequired and Times are
	// only meaningful for value-change blocks.
	Start, End  uint64
	MemRequired uint64
	Times       TimeSection
}

// TimeSection locates the time table
// stored at the tail of a value-change block.
type TimeSection struct {
	// Offset is the file offset of
	// the (possibly compressed) deltas.
	Offset       int64
	Compressed   uint64
	Uncompressed uint64
	// Count is the declared number of timestamps.
	Count uint64
}

// payload returns the offset of the first
// byte after the section length.
func (e *BlockEntry) payload() int64 { return e.Offset + 9 }

// end returns the offset one past the block.
func (e *BlockEntry) end() int64 { return e.Offset + 1 + e.Length }

const (
	blockHeaderSize = 9
	// fixed fields following the section length
	hierFixed = 8
	geomFixed = 16
	vcFixed   = 24
	vcTrailer = 24
)

// scanDirectory walks the top-level blocks of s.
func scanDirectory(s *source, log zerolog.Logger) ([]BlockEntry, Header, error) {
	var blocks []BlockEntry
	var hdr Header
	off := int64(0)
	for off < s.size {
		if s.size-off < blockHeaderSize {
			return nil, hdr, formatErrorf("directory", off, "truncated block header (%d bytes left)", s.size-off)
		}
		raw, err := s.read("directory", off, blockHeaderSize)
		if err != nil {
			return nil, hdr, err
		}
		e := BlockEntry{Kind: BlockKind(raw[0]), Offset: off}
		seclen := binary.BigEndian.Uint64(raw[1:])
		if e.Kind == BlockSkip && seclen == 0 {
			// a writer that never finished leaves
			// a zero-length placeholder at the tail
			log.Debug().Int64("offset", off).Msg("unfinished block; stopping scan")
			break
		}
		if seclen < 8 {
			return nil, hdr, formatErrorf("directory", off, "%s block declares length %d", e.Kind, seclen)
		}
		if seclen > uint64(s.size-off-1) {
			return nil, hdr, formatErrorf("directory", off, "%s block of length %d extends past end of file (size %d)", e.Kind, seclen, s.size)
		}
		e.Length = int64(seclen)
		if off == 0 && e.Kind != BlockHeader {
			return nil, hdr, formatErrorf("directory", off, "file does not start with a header block (kind %d)", raw[0])
		}

		switch {
		case e.Kind == BlockHeader:
			if off != 0 {
				return nil, hdr, formatErrorf("directory", off, "duplicate header block")
			}
			if seclen != headerLength {
				return nil, hdr, formatErrorf("header", off, "header length %d; expected %d", seclen, headerLength)
			}
			payload, err := s.read("header", e.payload(), headerLength-8)
			if err != nil {
				return nil, hdr, err
			}
			hdr, err = parseHeader(payload, off)
			if err != nil {
				return nil, hdr, err
			}
		case e.Kind.IsHierarchy():
			if err := scanHierarchy(s, &e); err != nil {
				return nil, hdr, err
			}
		case e.Kind == BlockGeometry:
			if err := scanGeometry(s, &e); err != nil {
				return nil, hdr, err
			}
		case e.Kind.IsValueChange():
			if err := scanValueChange(s, &e); err != nil {
				return nil, hdr, err
			}
		case e.Kind == BlockBlackout, e.Kind == BlockSkip:
		case e.Kind == BlockWrapper:
			return nil, hdr, formatErrorf("directory", off, "nested gzip wrapper block")
		default:
			log.Warn().Int64("offset", off).Uint8("kind", uint8(e.Kind)).Msg("skipping unknown block kind")
		}
		log.Debug().Str("kind", e.Kind.String()).Int64("offset", off).Int64("length", e.Length).Msg("block")
		blocks = append(blocks, e)
		off = e.end()
	}
	if len(blocks) == 0 {
		return nil, hdr, formatErrorf("directory", 0, "empty file")
	}
	return blocks, hdr, nil
}

func scanHierarchy(s *source, e *BlockEntry) error {
	if e.Length < 8+hierFixed {
		return formatErrorf("hierarchy", e.Offset, "section length %d too short", e.Length)
	}
	raw, err := s.read("hierarchy", e.payload(), hierFixed)
	if err != nil {
		return err
	}
	e.Uncompressed = binary.BigEndian.Uint64(raw)
	switch e.Kind {
	case BlockHierarchy:
		e.Codec = "gzip"
	case BlockHierarchyLZ4:
		e.Codec = "lz4"
	case BlockHierarchyLZ4Duo:
		e.Codec = "lz4duo"
	}
	return nil
}

func scanGeometry(s *source, e *BlockEntry) error {
	if e.Length < 8+geomFixed {
		return formatErrorf("geometry", e.Offset, "section length %d too short", e.Length)
	}
	raw, err := s.read("geometry", e.payload(), 8)
	if err != nil {
		return err
	}
	e.Uncompressed = binary.BigEndian.Uint64(raw)
	if uint64(e.Length-8-geomFixed) != e.Uncompressed {
		e.Codec = "zlib"
	}
	return nil
}

func scanValueChange(s *source, e *BlockEntry) error {
	if e.Length < 8+vcFixed+vcTrailer+8 {
		return formatErrorf("vcdata", e.Offset, "section length %d too short", e.Length)
	}
	raw, err := s.read("vcdata", e.payload(), vcFixed)
	if err != nil {
		return err
	}
	e.Start = binary.BigEndian.Uint64(raw)
	e.End = binary.BigEndian.Uint64(raw[8:])
	e.MemRequired = binary.BigEndian.Uint64(raw[16:])
	if e.End < e.Start {
		return formatErrorf("vcdata", e.Offset, "block ends (%d) before it starts (%d)", e.End, e.Start)
	}
	tail := e.end() - vcTrailer
	raw, err = s.read("vcdata", tail, vcTrailer)
	if err != nil {
		return err
	}
	ts := TimeSection{
		Uncompressed: binary.BigEndian.Uint64(raw),
		Compressed:   binary.BigEndian.Uint64(raw[8:]),
		Count:        binary.BigEndian.Uint64(raw[16:]),
	}
	// the time section, the chain length and the
	// fixed fields must all fit inside the block
	room := uint64(tail - (e.payload() + vcFixed) - 8)
	if ts.Compressed > room {
		return formatErrorf("vcdata", e.Offset, "time section of %d bytes does not fit in block", ts.Compressed)
	}
	ts.Offset = tail - int64(ts.Compressed)
	e.Times = ts
	return nil
}
