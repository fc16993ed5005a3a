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

// Package compr provides a unified interface wrapping
// the third-party decompression libraries used
// by FST containers.
package compr

import (
	"bytes"
	"io"
	"sync"

	"github.com/SnellerInc/fst/internal/bin"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Decompressor is the interface used
// to decompress whole blocks whose
// decompressed length is known up front.
type Decompressor interface {
	// Name is the name of the compression algorithm.
	Name() string
	// Decompress decompresses source data
	// into dst. It should error out if
	// the decoded data does not fill dst
	// exactly.
	//
	// It must be safe to make multiple
	// calls to Decompress simultaneously
	// from different goroutines.
	Decompress(src, dst []byte) error
}

// errSize is returned when a codec produces
// more or fewer bytes than were declared.
func errSize(name string, want, got int) error {
	return errors.Errorf("%s: expected %d bytes decompressed; got %d", name, want, got)
}

type zlibDecompressor struct{}

var zlibReaders sync.Pool

func (zlibDecompressor) Name() string { return "zlib" }

func (zlibDecompressor) Decompress(src, dst []byte) error {
	var zr io.ReadCloser
	var err error
	if p, ok := zlibReaders.Get().(io.ReadCloser); ok {
		zr = p
		err = p.(zlib.Resetter).Reset(bytes.NewReader(src), nil)
	} else {
		zr, err = zlib.NewReader(bytes.NewReader(src))
	}
	if err != nil {
		return errors.Wrap(err, "zlib")
	}
	defer zlibReaders.Put(zr)
	return readExact("zlib", zr, dst)
}

type gzipDecompressor struct{}

func (gzipDecompressor) Name() string { return "gzip" }

func (gzipDecompressor) Decompress(src, dst []byte) error {
	zr, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return errors.Wrap(err, "gzip")
	}
	defer zr.Close()
	return readExact("gzip", zr, dst)
}

// NewGzipReader returns a streaming gzip reader over r.
// Large hierarchy sections are decoded incrementally
// through this rather than being inflated up front.
func NewGzipReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "gzip")
	}
	return zr, nil
}

// readExact fills dst from r and verifies
// that r has nothing left over.
func readExact(name string, r io.Reader, dst []byte) error {
	n, err := io.ReadFull(r, dst)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return errSize(name, len(dst), n)
		}
		return errors.Wrap(err, name)
	}
	var tail [1]byte
	m, err := r.Read(tail[:])
	if m != 0 {
		return errors.Errorf("%s: more than %d bytes of output", name, len(dst))
	}
	if err != nil && err != io.EOF {
		return errors.Wrap(err, name)
	}
	return nil
}

type lz4Decompressor struct{}

func (lz4Decompressor) Name() string { return "lz4" }

func (lz4Decompressor) Decompress(src, dst []byte) error {
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return errors.Wrap(err, "lz4")
	}
	if n != len(dst) {
		return errSize("lz4", len(dst), n)
	}
	return nil
}

// lz4duoDecompressor handles data that was run
// through lz4 twice; the source is prefixed with
// the varint length of the intermediate buffer.
type lz4duoDecompressor struct{}

func (lz4duoDecompressor) Name() string { return "lz4duo" }

func (lz4duoDecompressor) Decompress(src, dst []byte) error {
	mid, n, err := bin.Uvarint(src)
	if err != nil {
		return errors.Wrap(err, "lz4duo: intermediate length")
	}
	src = src[n:]
	if err := bin.CheckRatio(uint64(len(src)), mid); err != nil {
		return errors.Wrap(err, "lz4duo")
	}
	if err := bin.CheckRatio(mid, uint64(len(dst))); err != nil {
		return errors.Wrap(err, "lz4duo")
	}
	tmp := make([]byte, mid)
	if err := (lz4Decompressor{}).Decompress(src, tmp); err != nil {
		return errors.Wrap(err, "lz4duo: first pass")
	}
	if err := (lz4Decompressor{}).Decompress(tmp, dst); err != nil {
		return errors.Wrap(err, "lz4duo: second pass")
	}
	return nil
}

type fastlzDecompressor struct{}

func (fastlzDecompressor) Name() string { return "fastlz" }

func (fastlzDecompressor) Decompress(src, dst []byte) error {
	n, err := FastLZ(src, dst)
	if err != nil {
		return err
	}
	if n != len(dst) {
		return errSize("fastlz", len(dst), n)
	}
	return nil
}

// Decompression selects a decompression algorithm by name.
// It returns nil if the name is not recognized.
func Decompression(name string) Decompressor {
	switch name {
	case "zlib":
		return zlibDecompressor{}
	case "gzip":
		return gzipDecompressor{}
	case "lz4":
		return lz4Decompressor{}
	case "lz4duo":
		return lz4duoDecompressor{}
	case "fastlz":
		return fastlzDecompressor{}
	default:
		return nil
	}
}
