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

// Package fst implements a reader for FST
// waveform traces: compressed, hierarchical,
// time-indexed containers of signal histories
// produced by hardware simulators.
//
// A Reader parses the block directory when it
// is opened and decodes everything else on
// demand. The hierarchy is delivered to a visitor
// one event at a time, the time table can be
// read without touching the hierarchy, and
// signal values are decoded block by block,
// skipping the data of every signal that the
// caller's Filter excludes.
package fst

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/SnellerInc/fst/compr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

// Option configures a Reader.
type Option func(*options)

type options struct {
	log         zerolog.Logger
	name        string
	skipCorrupt bool
	mmap        bool
	tempDir     string
}

// WithLogger sets the logger used by the Reader.
// By default nothing is logged.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithName sets the input name attached to log lines.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithSkipCorruptBlocks makes ReadSignals continue past
// value-change blocks that fail to decode. The skipped
// blocks are reported in a *PartialError at the end.
func WithSkipCorruptBlocks(skip bool) Option {
	return func(o *options) { o.skipCorrupt = skip }
}

// WithMmap makes OpenFile map the file into
// memory instead of reading it with pread(2).
// It is ignored where mmap is unavailable.
func WithMmap(enable bool) Option {
	return func(o *options) { o.mmap = enable }
}

// WithTempDir sets the directory used to inflate
// gzip-wrapped files. The default is os.TempDir().
func WithTempDir(dir string) Option {
	return func(o *options) { o.tempDir = dir }
}

// Reader is a decode session over one FST input.
//
// The directory, header and (once loaded) geometry,
// registry and time table are read-only after they
// have been populated, so ReadSignalsParallel can
// share them between workers. Other methods must
// not be called concurrently.
type Reader struct {
	src     *source
	closers []io.Closer
	tmp     string
	log     zerolog.Logger
	opts    options

	header Header
	blocks []BlockEntry
	// vc indexes the value-change blocks in blocks
	vc []int

	geometry []SignalInfo
	geomOK   bool
	registry *Registry
	times    []uint64
	timesOK  bool
}

// Open reads the header and block directory of r.
//
// The Reader does not take ownership of r;
// closing r makes any decode in progress fail
// with an *IoError.
func Open(r io.ReadSeeker, opts ...Option) (*Reader, error) {
	o := options{log: zerolog.Nop()}
	for _, fn := range opts {
		fn(&o)
	}
	return open(r, o, nil)
}

// OpenFile opens the file at path. A missing
// or unreadable file is reported as an *IoError
// before any parsing is attempted.
func OpenFile(path string, opts ...Option) (*Reader, error) {
	o := options{log: zerolog.Nop(), name: path}
	for _, fn := range opts {
		fn(&o)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, ioError("open", err)
	}
	if o.mmap {
		m, err := mmapOpen(path)
		if err == nil {
			return open(io.NewSectionReader(m, 0, m.Size()), o, m)
		}
		o.log.Debug().Err(err).Str("path", path).Msg("mmap unavailable; falling back to file reads")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, ioError("open", err)
	}
	return open(f, o, f)
}

// OpenAndReadTimeTable opens r and decodes only
// its time table; neither the hierarchy nor any
// value changes are decoded.
func OpenAndReadTimeTable(r io.ReadSeeker, opts ...Option) (*Reader, error) {
	rd, err := Open(r, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := rd.TimeTable(); err != nil {
		rd.Close()
		return nil, err
	}
	return rd, nil
}

func open(r io.ReadSeeker, o options, owned io.Closer) (*Reader, error) {
	rd := &Reader{opts: o}
	if owned != nil {
		rd.closers = append(rd.closers, owned)
	}
	ctx := o.log.With().Str("session", uuid.NewString())
	if o.name != "" {
		ctx = ctx.Str("input", o.name)
	}
	rd.log = ctx.Logger()

	src, err := newSource(r)
	if err != nil {
		rd.Close()
		return nil, err
	}
	src, err = rd.unwrap(src)
	if err != nil {
		rd.Close()
		return nil, err
	}
	rd.src = src
	rd.blocks, rd.header, err = scanDirectory(src, rd.log)
	if err != nil {
		rd.Close()
		return nil, err
	}
	for i := range rd.blocks {
		if rd.blocks[i].Kind.IsValueChange() {
			rd.vc = append(rd.vc, i)
		}
	}
	rd.log.Debug().
		Int("blocks", len(rd.blocks)).
		Int("vcblocks", len(rd.vc)).
		Uint64("handles", rd.header.MaxHandle).
		Msg("opened")
	return rd, nil
}

// unwrap inflates a gzip-wrapped file into a
// temporary file and returns a source over the
// inner file. Other inputs are returned unchanged.
func (r *Reader) unwrap(s *source) (*source, error) {
	if s.size < 1 {
		return s, nil
	}
	kind, err := s.read("open", 0, 1)
	if err != nil {
		return nil, err
	}
	if BlockKind(kind[0]) != BlockWrapper {
		return s, nil
	}
	if s.size < 17 {
		return nil, formatErrorf("zwrapper", 0, "truncated wrapper header")
	}
	raw, err := s.read("zwrapper", 1, 16)
	if err != nil {
		return nil, err
	}
	seclen := binary.BigEndian.Uint64(raw)
	ulen := binary.BigEndian.Uint64(raw[8:])
	if seclen < 16 || seclen > uint64(s.size-1) {
		return nil, formatErrorf("zwrapper", 0, "wrapper length %d does not fit file of %d bytes", seclen, s.size)
	}
	f, err := os.CreateTemp(r.opts.tempDir, "fst-unwrap-*")
	if err != nil {
		return nil, ioError("zwrapper", err)
	}
	r.tmp = f.Name()
	r.closers = append(r.closers, f)
	raw2 := s.section(17, int64(seclen)-16)
	zr, err := compr.NewGzipReader(raw2)
	if err != nil {
		if raw2.err != nil {
			return nil, ioError("zwrapper", raw2.err)
		}
		return nil, wrapFormat("zwrapper", 17, err)
	}
	n, err := io.Copy(f, io.LimitReader(zr, int64(ulen)+1))
	zr.Close()
	if err != nil {
		if raw2.err != nil {
			return nil, ioError("zwrapper", raw2.err)
		}
		return nil, wrapFormat("zwrapper", 17, err)
	}
	if uint64(n) != ulen {
		return nil, formatErrorf("zwrapper", 0, "inflated %d bytes; header declares %d", n, ulen)
	}
	r.log.Debug().Str("tmp", r.tmp).Int64("bytes", n).Msg("inflated gzip-wrapped input")
	return newSource(f)
}

// Close releases the resources held by r,
// including any temporary file. It does not
// close a reader passed to Open.
func (r *Reader) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	if r.tmp != "" {
		if err := os.Remove(r.tmp); err != nil && first == nil {
			first = err
		}
		r.tmp = ""
	}
	return first
}

// Header returns the file header.
func (r *Reader) Header() Header { return r.header }

// Blocks returns the block directory in file order.
func (r *Reader) Blocks() []BlockEntry { return slices.Clone(r.blocks) }

// NumValueChangeBlocks returns the number
// of value-change blocks in the file.
func (r *Reader) NumValueChangeBlocks() int { return len(r.vc) }

// ValueChangeBlock returns the directory entry
// of the i-th value-change block.
func (r *Reader) ValueChangeBlock(i int) BlockEntry { return r.blocks[r.vc[i]] }
