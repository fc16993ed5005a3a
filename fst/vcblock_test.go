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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChain(t *testing.T) {
	// offsets 1 and 5, two empty handles,
	// then an alias of the first handle
	chain := []byte{1<<1 | 1, 4<<1 | 1, 2 << 1, 0, 1}
	refs, err := parseChain(chain, 5)
	require.NoError(t, err)
	l := &vcLayout{streams: refs, vcCount: 6}
	require.NoError(t, l.resolve(9))
	assert.Equal(t, []streamRef{
		{off: 1, n: 4, has: true, alias: -1},
		{off: 5, n: 4, has: true, alias: -1},
		{alias: -1},
		{alias: -1},
		{off: 1, n: 4, has: true, alias: 0},
		{alias: -1},
	}, l.streams)

	_, err = parseChain(chain, 4)
	assert.Error(t, err, "too many handles")
	_, err = parseChain([]byte{0, 3}, 5)
	assert.Error(t, err, "alias of a later handle")
	// a rejected alias must not let later
	// offsets move down onto earlier handles
	refs, err = parseChain([]byte{0, 3, 1<<1 | 1}, 5)
	assert.Error(t, err, "alias of a later handle before an offset")
	assert.Nil(t, refs)
	refs, err = parseChain([]byte{1<<1 | 1, 1<<1 | 1, 1<<1 | 1, 1<<1 | 1, 0, 1}, 4)
	assert.Error(t, err, "alias past the last handle")
	assert.Nil(t, refs)
	_, err = parseChain([]byte{0, 0}, 5)
	assert.Error(t, err, "alias of handle 0")
	_, err = parseChain([]byte{0x81}, 5)
	assert.Error(t, err, "truncated")

	l = &vcLayout{}
	l.streams, err = parseChain([]byte{20<<1 | 1}, 1)
	require.NoError(t, err)
	assert.Error(t, l.resolve(9), "stream past the chain table")
}

func TestParseChain2(t *testing.T) {
	chain := append(svarint(3<<1|1), svarint(-1<<1|1)...)
	chain = append(chain, uvarint(1<<1)...)
	chain = append(chain, svarint(1)...)
	chain = append(chain, svarint(2<<1|1)...)
	refs, err := parseChain2(chain, 5)
	require.NoError(t, err)
	l := &vcLayout{streams: refs, vcCount: 5}
	require.NoError(t, l.resolve(7))
	assert.Equal(t, []streamRef{
		{off: 3, n: 2, has: true, alias: -1},
		{off: 3, n: 2, has: true, alias: 0},
		{alias: -1},
		{off: 3, n: 2, has: true, alias: 0},
		{off: 5, n: 2, has: true, alias: -1},
	}, l.streams)

	_, err = parseChain2(svarint(1), 5)
	assert.Error(t, err, "repeat with no previous alias")
}

func TestStreamDecoder(t *testing.T) {
	d := &streamDecoder{ntimes: 10}
	// 1-bit: '1' at 2, 'z' at 5, '0' at 5
	data := append(uvarint(2<<2|1<<1), uvarint(3<<4|1<<1|1)...)
	data = append(data, uvarint(0)...)
	out, err := d.decode(data, classBits, SignalInfo{Kind: SignalBits, Width: 1}, nil)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []int{2, 5, 5}, []int{out[0].tidx, out[1].tidx, out[2].tidx})
	assert.Equal(t, "1z0", string(d.arena))

	// 12 bits packed, then ASCII
	d = &streamDecoder{ntimes: 10}
	data = append(uvarint(1<<1), 0xa5, 0xf0)
	data = append(data, uvarint(1<<1|1)...)
	data = append(data, "xxxx0000zzzz"...)
	out, err = d.decode(data, classBits, SignalInfo{Kind: SignalBits, Width: 12}, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "101001011111", string(d.arena[out[0].off:out[0].off+out[0].n]))
	assert.Equal(t, "xxxx0000zzzz", string(d.arena[out[1].off:out[1].off+out[1].n]))
	assert.Equal(t, 2, out[1].tidx)

	// out of range and truncated
	for _, bad := range [][]byte{uvarint(10 << 2), append(uvarint(0), 0xa5)} {
		d = &streamDecoder{ntimes: 10}
		_, err = d.decode(bad, classBits, SignalInfo{Kind: SignalBits, Width: 12}, nil)
		assert.Error(t, err)
	}
	d = &streamDecoder{ntimes: 10}
	_, err = d.decode(append(uvarint(0), 5, 'a'), classVarLen, SignalInfo{Kind: SignalVarLen}, nil)
	assert.Error(t, err)
}
