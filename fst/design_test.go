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
	"fmt"
	"testing"
)

// design holds the handles of the sample design.
type design struct {
	clk, data, temp, msg, count Handle
}

// sample builds
//
//	top
//	  clk        wire 1
//	  data       reg 8
//	  temp       real
//	  msg        string
//	  clk_alias  -> clk
//	  sub
//	    count    integer 4
//
// with two value-change blocks.
func sample(t testing.TB) (*builder, design) {
	var d design
	b := newBuilder(t)
	b.Scope(ScopeModule, "top", "top")
	b.Attr(AttrMisc, uint8(MiscComment), "generated for tests", 0)
	d.clk = b.Var(VarWire, "clk", 1)
	d.data = b.Var(VarReg, "data", 8)
	d.temp = b.Var(VarReal, "temp", 64)
	d.msg = b.Var(VarString, "msg", 0)
	b.Alias(VarWire, "clk_alias", 1, d.clk)
	b.Scope(ScopeModule, "sub", "counter")
	d.count = b.Var(VarInteger, "count", 4)
	b.Upscope()
	b.Upscope()

	b.Block(0, 1, 2, 3, 4).
		Frame(d.clk, "0").Frame(d.data, "00000000").FrameReal(d.temp, 1.5).Frame(d.count, "0000").
		Change(d.clk, 1, "1").Change(d.clk, 2, "0").Change(d.clk, 3, "x").Change(d.clk, 4, "1").
		Change(d.data, 2, "10100101").Change(d.data, 4, "1010x101").
		Real(d.temp, 3, 2.25).
		Change(d.msg, 1, "hello").
		Change(d.count, 4, "0001")
	b.Block(5, 7).
		Frame(d.clk, "1").Frame(d.data, "1010x101").FrameReal(d.temp, 2.25).Frame(d.count, "0001").
		Change(d.clk, 0, "0").
		Change(d.msg, 1, "bye").
		Change(d.count, 1, "0010")
	return b, d
}

// sampleRecords is what ReadSignals(All())
// produces for sample.
var sampleRecords = []string{
	"0@0 #1=0",
	"0@0 #2=00000000",
	"0@0 #3=1.5",
	"0@0 #5=0000",
	"1@1 #1=1",
	"1@1 #4=hello",
	"2@2 #1=0",
	"2@2 #2=10100101",
	"3@3 #1=x",
	"3@3 #3=2.25",
	"4@4 #1=1",
	"4@4 #2=1010x101",
	"4@4 #5=0001",
	"5@5 #1=0",
	"6@7 #4=bye",
	"6@7 #5=0010",
}

func (r *Record) dump() string {
	return fmt.Sprintf("%d@%d %s=%s", r.TimeIndex, r.Time, r.Handle, r.Value)
}

func dump(recs []Record) []string {
	out := make([]string, len(recs))
	for i := range recs {
		out[i] = recs[i].dump()
	}
	return out
}
