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

package compr

import (
	"github.com/pkg/errors"
)

// fastlz2MaxDistance is the far-match bias
// used by level-2 streams.
const fastlz2MaxDistance = 8191

var errFastLZCorrupt = errors.New("fastlz: corrupt input")

// FastLZ decompresses a FastLZ (level 1 or 2) block
// from src into dst and returns the number of bytes
// written. The level is carried in the top three bits
// of the first byte. Output that would not fit in dst
// and back-references before the start of the output
// are reported as errors.
func FastLZ(src, dst []byte) (int, error) {
	if len(src) == 0 {
		return 0, nil
	}
	level := (src[0] >> 5) + 1
	if level != 1 && level != 2 {
		return 0, errors.Errorf("fastlz: unknown level %d", level)
	}
	ip, op := 0, 0
	ctrl := int(src[ip] & 31)
	ip++
	for {
		if ctrl >= 32 {
			length := (ctrl >> 5) - 1
			ofs := (ctrl & 31) << 8
			ref := op - ofs
			if length == 7-1 {
				if level == 1 {
					if ip >= len(src) {
						return 0, errFastLZCorrupt
					}
					length += int(src[ip])
					ip++
				} else {
					for {
						if ip >= len(src) {
							return 0, errFastLZCorrupt
						}
						code := src[ip]
						ip++
						length += int(code)
						if code != 255 {
							break
						}
					}
				}
			}
			if ip >= len(src) {
				return 0, errFastLZCorrupt
			}
			code := src[ip]
			ip++
			ref -= int(code)
			if level == 2 && code == 255 && ofs == 31<<8 {
				if ip+2 > len(src) {
					return 0, errFastLZCorrupt
				}
				ofs = int(src[ip])<<8 | int(src[ip+1])
				ip += 2
				ref = op - ofs - fastlz2MaxDistance
			}
			// the match starts one byte further back
			ref--
			length += 3
			if op+length > len(dst) {
				return 0, errFastLZCorrupt
			}
			if ref < 0 {
				return 0, errFastLZCorrupt
			}
			// byte-at-a-time because runs may overlap
			for i := 0; i < length; i++ {
				dst[op] = dst[ref]
				op++
				ref++
			}
		} else {
			n := ctrl + 1
			if op+n > len(dst) || ip+n > len(src) {
				return 0, errFastLZCorrupt
			}
			copy(dst[op:], src[ip:ip+n])
			op += n
			ip += n
		}
		if ip >= len(src) {
			return op, nil
		}
		ctrl = int(src[ip])
		ip++
	}
}
