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
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenHeader(t *testing.T) {
	b, _ := sample(t)
	r := b.open()
	h := r.Header()
	assert.Equal(t, "fst test writer", h.Version)
	assert.Equal(t, int8(-9), h.Timescale)
	assert.Equal(t, uint64(0), h.StartTime)
	assert.Equal(t, uint64(7), h.EndTime)
	assert.Equal(t, uint64(5), h.MaxHandle)
	assert.Equal(t, uint64(6), h.VarCount)
	assert.Equal(t, binary.ByteOrder(binary.LittleEndian), h.RealOrder)
	assert.Equal(t, FileVerilog, h.FileType)

	var kinds []BlockKind
	for _, e := range r.Blocks() {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []BlockKind{
		BlockHeader, BlockValueChangeAlias2, BlockValueChangeAlias2, BlockGeometry, BlockHierarchy,
	}, kinds)
	require.Equal(t, 2, r.NumValueChangeBlocks())
	vc := r.ValueChangeBlock(1)
	assert.Equal(t, uint64(5), vc.Start)
	assert.Equal(t, uint64(7), vc.End)
	assert.Equal(t, uint64(2), vc.Times.Count)
}

func TestOpenFileMissing(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing.fst"))
	require.Error(t, err)
	assert.True(t, IsIoError(err))
	assert.False(t, IsFormatError(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func writeFile(t *testing.T, data []byte) string {
	path := filepath.Join(t.TempDir(), "trace.fst")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestOpenFile(t *testing.T) {
	b, _ := sample(t)
	path := writeFile(t, b.Bytes())
	for _, mmap := range []bool{false, true} {
		var logs bytes.Buffer
		r, err := OpenFile(path, WithMmap(mmap), WithLogger(zerolog.New(&logs).Level(zerolog.DebugLevel)))
		require.NoError(t, err)
		assert.Equal(t, sampleRecords, dump(collect(t, r, All())))
		require.NoError(t, r.Close())
		assert.Contains(t, logs.String(), `"input":"`+path+`"`)
		assert.Contains(t, logs.String(), `"session":`)
	}
}

func TestReadAfterClose(t *testing.T) {
	b, _ := sample(t)
	path := writeFile(t, b.Bytes())
	f, err := os.Open(path)
	require.NoError(t, err)
	r, err := Open(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	_, err = r.TimeTable()
	assert.True(t, IsIoError(err))

	r, err = OpenFile(path, WithMmap(true))
	require.NoError(t, err)
	require.NoError(t, r.Close())
	_, err = r.TimeTable()
	assert.Error(t, err)
}

func TestOpenWrappedTempFile(t *testing.T) {
	dir := t.TempDir()
	b, _ := sample(t)
	b.wrap = true
	r, err := Open(bytes.NewReader(b.Bytes()), WithTempDir(dir))
	require.NoError(t, err)
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, ents, 1)
	require.NoError(t, r.Close())
	ents, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, ents)
}

func TestOpenMalformed(t *testing.T) {
	b, _ := sample(t)
	good := b.Bytes()
	cases := map[string][]byte{
		"empty":          nil,
		"short":          good[:5],
		"no header":      append([]byte{byte(BlockGeometry)}, good[1:]...),
		"past eof":       good[:len(good)-1],
		"header length":  append(append([]byte{0}, be64(100)...), good[9:]...),
		"nested wrapper": append(append([]byte{}, good...), block(BlockWrapper, make([]byte, 16))...),
	}
	marker := append([]byte{}, good...)
	// the endianness marker follows start and end
	copy(marker[9+16:], "garbage!")
	cases["marker"] = marker
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Open(bytes.NewReader(data))
			require.Error(t, err)
			assert.True(t, IsFormatError(err), "%v", err)
			assert.False(t, IsIoError(err))
		})
	}
}

func TestOpenUnknownBlocks(t *testing.T) {
	b, _ := sample(t)
	data := b.Bytes()
	data = append(data, block(BlockKind(100), []byte("future"))...)
	data = append(data, block(BlockSkip, nil)...)
	// an unfinished block at the tail
	data = append(data, byte(BlockSkip))
	data = append(data, be64(0)...)
	r, err := Open(bytes.NewReader(data))
	require.NoError(t, err)
	blocks := r.Blocks()
	require.Len(t, blocks, 7)
	assert.Equal(t, BlockKind(100), blocks[5].Kind)
	assert.Equal(t, "BlockKind(100)", blocks[5].Kind.String())
	assert.Equal(t, BlockSkip, blocks[6].Kind)
	assert.Equal(t, sampleRecords, dump(collect(t, r, All())))
}

func TestGeometry(t *testing.T) {
	b, _ := sample(t)
	b.splitGeometry = true
	r := b.open()
	geom, err := r.Geometry()
	require.NoError(t, err)
	assert.Equal(t, []SignalInfo{
		{Kind: SignalBits, Width: 1},
		{Kind: SignalBits, Width: 8},
		{Kind: SignalReal, Width: 8},
		{Kind: SignalVarLen},
		{Kind: SignalBits, Width: 4},
	}, geom)
	assert.Equal(t, sampleRecords, dump(collect(t, r, All())))
}

func TestBlackouts(t *testing.T) {
	b, _ := sample(t)
	b.blackouts = []Blackout{{Time: 2, Active: false}, {Time: 3, Active: true}, {Time: 6, Active: false}}
	r := b.open()
	got, err := r.Blackouts()
	require.NoError(t, err)
	assert.Equal(t, b.blackouts, got)

	b, _ = sample(t)
	r = b.open()
	got, err = r.Blackouts()
	require.NoError(t, err)
	assert.Empty(t, got)
}
