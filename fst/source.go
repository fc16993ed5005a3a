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
	"io"
	"sync"
)

// source provides positional reads over the input.
//
// If the input implements io.ReaderAt, reads go
// straight to it and may run concurrently.
// Otherwise reads are serialized behind a mutex,
// since a single seek position cannot be shared.
type source struct {
	ra   io.ReaderAt
	rs   io.ReadSeeker
	mu   sync.Mutex
	size int64
}

func newSource(r io.ReadSeeker) (*source, error) {
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, ioError("seek", err)
	}
	s := &source{rs: r, size: end}
	if ra, ok := r.(io.ReaderAt); ok {
		s.ra = ra
	}
	return s, nil
}

// ReadAt implements io.ReaderAt.
func (s *source) ReadAt(p []byte, off int64) (int, error) {
	if s.ra != nil {
		return s.ra.ReadAt(p, off)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.rs.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(s.rs, p)
}

// inBounds returns true if [off, off+n)
// lies within the input.
func (s *source) inBounds(off, n int64) bool {
	return off >= 0 && n >= 0 && off <= s.size && n <= s.size-off
}

// read returns exactly n bytes at off.
// Ranges outside the file are format errors;
// failures of the underlying reader are I/O errors.
func (s *source) read(op string, off, n int64) ([]byte, error) {
	if !s.inBounds(off, n) {
		return nil, formatErrorf(op, off, "%d bytes past end of file (size %d)", n, s.size)
	}
	buf := make([]byte, n)
	m, err := s.ReadAt(buf, off)
	if m == len(buf) {
		return buf, nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return nil, ioError(op, err)
}

// section returns a reader over [off, off+n)
// that records the first I/O failure.
func (s *source) section(off, n int64) *trackReader {
	return &trackReader{r: io.NewSectionReader(s, off, n)}
}

// trackReader counts bytes and remembers the
// first non-EOF error of the wrapped reader, so
// that callers can tell I/O failures apart from
// malformed data once a decoder layered on top
// has mangled the error.
type trackReader struct {
	r   io.Reader
	n   int64
	err error
}

func (t *trackReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.n += int64(n)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}
