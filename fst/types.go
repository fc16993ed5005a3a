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

import "fmt"

// BlockKind is the tag byte preceding
// every top-level block.
type BlockKind uint8

const (
	BlockHeader            BlockKind = 0
	BlockValueChange       BlockKind = 1
	BlockBlackout          BlockKind = 2
	BlockGeometry          BlockKind = 3
	BlockHierarchy         BlockKind = 4
	BlockValueChangeAlias  BlockKind = 5
	BlockHierarchyLZ4      BlockKind = 6
	BlockHierarchyLZ4Duo   BlockKind = 7
	BlockValueChangeAlias2 BlockKind = 8
	BlockWrapper           BlockKind = 254
	BlockSkip              BlockKind = 255
)

var blockKindNames = map[BlockKind]string{
	BlockHeader:            "header",
	BlockValueChange:       "vcdata",
	BlockBlackout:          "blackout",
	BlockGeometry:          "geometry",
	BlockHierarchy:         "hierarchy",
	BlockValueChangeAlias:  "vcdata-alias",
	BlockHierarchyLZ4:      "hierarchy-lz4",
	BlockHierarchyLZ4Duo:   "hierarchy-lz4duo",
	BlockValueChangeAlias2: "vcdata-alias2",
	BlockWrapper:           "zwrapper",
	BlockSkip:              "skip",
}

func (k BlockKind) String() string {
	if s, ok := blockKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("BlockKind(%d)", uint8(k))
}

// IsValueChange returns true for the three
// value-change block encodings.
func (k BlockKind) IsValueChange() bool {
	return k == BlockValueChange || k == BlockValueChangeAlias || k == BlockValueChangeAlias2
}

// IsHierarchy returns true for the three
// hierarchy block encodings.
func (k BlockKind) IsHierarchy() bool {
	return k == BlockHierarchy || k == BlockHierarchyLZ4 || k == BlockHierarchyLZ4Duo
}

// VarType is the declared type of a variable.
type VarType uint8

const (
	VarEvent VarType = iota
	VarInteger
	VarParameter
	VarReal
	VarRealParameter
	VarReg
	VarSupply0
	VarSupply1
	VarTime
	VarTri
	VarTriAnd
	VarTriOr
	VarTriReg
	VarTri0
	VarTri1
	VarWAnd
	VarWire
	VarWOr
	VarPort
	VarSparseArray
	VarRealTime
	VarString
	VarBit
	VarLogic
	VarInt
	VarShortInt
	VarLongInt
	VarByte
	VarEnum
	VarShortReal

	varTypeMax = VarShortReal
)

var varTypeNames = [...]string{
	"event", "integer", "parameter", "real", "real_parameter",
	"reg", "supply0", "supply1", "time", "tri", "triand", "trior",
	"trireg", "tri0", "tri1", "wand", "wire", "wor", "port", "sparray",
	"realtime", "string", "bit", "logic", "int", "shortint", "longint",
	"byte", "enum", "shortreal",
}

func (t VarType) String() string {
	if int(t) < len(varTypeNames) {
		return varTypeNames[t]
	}
	return fmt.Sprintf("VarType(%d)", uint8(t))
}

// IsReal returns true for the variable types
// whose values are floating point.
func (t VarType) IsReal() bool {
	switch t {
	case VarReal, VarRealParameter, VarRealTime, VarShortReal:
		return true
	}
	return false
}

// ScopeType is the kind of a hierarchy scope.
type ScopeType uint8

const (
	ScopeModule ScopeType = iota
	ScopeTask
	ScopeFunction
	ScopeBegin
	ScopeFork
	ScopeGenerate
	ScopeStruct
	ScopeUnion
	ScopeClass
	ScopeInterface
	ScopePackage
	ScopeProgram
	ScopeVhdlArchitecture
	ScopeVhdlProcedure
	ScopeVhdlFunction
	ScopeVhdlRecord
	ScopeVhdlProcess
	ScopeVhdlBlock
	ScopeVhdlForGenerate
	ScopeVhdlIfGenerate
	ScopeVhdlGenerate
	ScopeVhdlPackage
)

var scopeTypeNames = [...]string{
	"module", "task", "function", "begin", "fork", "generate", "struct",
	"union", "class", "interface", "package", "program",
	"vhdl_architecture", "vhdl_procedure", "vhdl_function", "vhdl_record",
	"vhdl_process", "vhdl_block", "vhdl_for_generate", "vhdl_if_generate",
	"vhdl_generate", "vhdl_package",
}

func (s ScopeType) String() string {
	if int(s) < len(scopeTypeNames) {
		return scopeTypeNames[s]
	}
	return fmt.Sprintf("ScopeType(%d)", uint8(s))
}

// Direction is the port direction of a variable.
type Direction uint8

const (
	DirImplicit Direction = iota
	DirInput
	DirOutput
	DirInOut
	DirBuffer
	DirLinkage
)

var directionNames = [...]string{"implicit", "input", "output", "inout", "buffer", "linkage"}

func (d Direction) String() string {
	if int(d) < len(directionNames) {
		return directionNames[d]
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

// AttrType is the major type of an attribute.
type AttrType uint8

const (
	AttrMisc AttrType = iota
	AttrArray
	AttrEnum
	AttrPack
)

var attrTypeNames = [...]string{"misc", "array", "enum", "pack"}

func (a AttrType) String() string {
	if int(a) < len(attrTypeNames) {
		return attrTypeNames[a]
	}
	return fmt.Sprintf("AttrType(%d)", uint8(a))
}

// MiscType is the subtype of an AttrMisc attribute.
type MiscType uint8

const (
	MiscComment MiscType = iota
	MiscEnvVar
	MiscSupVar
	MiscPathName
	MiscSourceStem
	MiscSourceIStem
	MiscValueList
	MiscEnumTable
	MiscUnknown
)

var miscTypeNames = [...]string{
	"comment", "envvar", "supvar", "pathname", "sourcestem",
	"sourceistem", "valuelist", "enumtable", "unknown",
}

func (m MiscType) String() string {
	if int(m) < len(miscTypeNames) {
		return miscTypeNames[m]
	}
	return fmt.Sprintf("MiscType(%d)", uint8(m))
}

// FileType records the language of the
// design that produced the trace.
type FileType uint8

const (
	FileVerilog FileType = iota
	FileVhdl
	FileVerilogVhdl
)

var fileTypeNames = [...]string{"verilog", "vhdl", "verilog/vhdl"}

func (f FileType) String() string {
	if int(f) < len(fileTypeNames) {
		return fileTypeNames[f]
	}
	return fmt.Sprintf("FileType(%d)", uint8(f))
}
