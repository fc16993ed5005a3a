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
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"strconv"

	"github.com/SnellerInc/fst/compr"
	"github.com/SnellerInc/fst/internal/bin"

	"github.com/pkg/errors"
)

// hierarchy stream tags; tags 0 through
// varTypeMax declare a variable of that type
const (
	tagAttrBegin = 252
	tagAttrEnd   = 253
	tagScope     = 254
	tagUpScope   = 255
)

// EventKind is the kind of a HierarchyEvent.
type EventKind uint8

const (
	EventScope EventKind = iota
	EventUpScope
	EventVar
	EventAttrBegin
	EventAttrEnd
)

func (k EventKind) String() string {
	switch k {
	case EventScope:
		return "scope"
	case EventUpScope:
		return "upscope"
	case EventVar:
		return "var"
	case EventAttrBegin:
		return "attrbegin"
	case EventAttrEnd:
		return "attrend"
	}
	return "EventKind(" + strconv.Itoa(int(k)) + ")"
}

// Scope is the payload of an EventScope.
type Scope struct {
	Type ScopeType
	Name string
	// Component is the module or entity
	// type instantiated by the scope.
	Component string
}

// Attribute is the payload of an EventAttrBegin.
type Attribute struct {
	Type AttrType
	// Subtype is a MiscType for AttrMisc
	// attributes; its meaning for the other
	// types is defined by the writer.
	Subtype uint8
	Name    string
	Arg     uint64
}

// HierarchyEvent is one decoded hierarchy record.
// Only the field matching Kind is meaningful.
type HierarchyEvent struct {
	Kind  EventKind
	Scope Scope
	Var   Variable
	Attr  Attribute
	// Depth is the number of scopes open
	// after the event has been applied.
	Depth int
}

// ReadHierarchy decodes the hierarchy block and calls
// visit once per event, in file order. Decoding stops at
// the first error from visit, which is returned as is.
//
// Events delivered before an error remain valid. On
// success the Registry built along the way becomes
// available through r.Registry.
func (r *Reader) ReadHierarchy(visit func(*HierarchyEvent) error) error {
	var e *BlockEntry
	for i := range r.blocks {
		if r.blocks[i].Kind.IsHierarchy() {
			if e != nil {
				r.log.Debug().Int64("offset", r.blocks[i].Offset).Msg("later hierarchy block supersedes earlier one")
			}
			e = &r.blocks[i]
		}
	}
	if e == nil {
		return formatErrorf("hierarchy", -1, "no hierarchy block")
	}
	clen := e.Length - 8 - hierFixed
	if err := bin.CheckRatio(uint64(clen), e.Uncompressed); err != nil {
		return wrapFormat("hierarchy", e.Offset, err)
	}
	raw := r.src.section(e.payload()+hierFixed, clen)
	var in io.Reader
	switch e.Codec {
	case "gzip":
		zr, err := compr.NewGzipReader(raw)
		if err != nil {
			if raw.err != nil {
				return ioError("hierarchy", raw.err)
			}
			return wrapFormat("hierarchy", e.Offset, err)
		}
		defer zr.Close()
		in = zr
	default:
		src, err := r.src.read("hierarchy", e.payload()+hierFixed, clen)
		if err != nil {
			return err
		}
		dst := make([]byte, e.Uncompressed)
		if err := compr.Decompression(e.Codec).Decompress(src, dst); err != nil {
			return wrapFormat("hierarchy", e.Offset, err)
		}
		in = bytes.NewReader(dst)
	}
	counted := &trackReader{r: io.LimitReader(in, int64(min(e.Uncompressed, math.MaxInt64-1))+1)}
	d := hierDecoder{
		r:         bufio.NewReaderSize(counted, 64*1024),
		off:       e.Offset,
		maxHandle: r.header.MaxHandle,
		reg:       &Registry{},
	}
	err := d.run(visit)
	if err != nil {
		if ev, ok := err.(errVisit); ok {
			return ev.err
		}
		if raw.err != nil {
			return ioError("hierarchy", raw.err)
		}
		return err
	}
	if uint64(counted.n) != e.Uncompressed {
		return formatErrorf("hierarchy", e.Offset, "decoded %d bytes; block declares %d", counted.n, e.Uncompressed)
	}
	r.registry = d.reg
	r.log.Debug().Int("handles", d.reg.Len()).Int("vars", d.reg.NumVars()).Msg("hierarchy decoded")
	return nil
}

// Registry returns the handle registry built by the
// last successful ReadHierarchy, or nil.
func (r *Reader) Registry() *Registry { return r.registry }

// errVisit wraps errors returned by the
// visitor so they pass through untouched
type errVisit struct{ err error }

func (e errVisit) Error() string { return e.err.Error() }

type hierDecoder struct {
	r         *bufio.Reader
	off       int64
	maxHandle uint64
	scope     []string
	reg       *Registry
	ev        HierarchyEvent
}

func (d *hierDecoder) fail(err error) error {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return wrapFormat("hierarchy", d.off, err)
}

func (d *hierDecoder) cstring() (string, error) {
	b, err := d.r.ReadBytes(0)
	if err != nil {
		return "", d.fail(err)
	}
	return string(b[:len(b)-1]), nil
}

func (d *hierDecoder) uvarint() (uint64, error) {
	v, err := binary.ReadUvarint(d.r)
	if err != nil {
		return 0, d.fail(err)
	}
	return v, nil
}

func (d *hierDecoder) readByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, d.fail(err)
	}
	return b, nil
}

func (d *hierDecoder) run(visit func(*HierarchyEvent) error) error {
	for {
		tag, err := d.r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return d.fail(err)
		}
		d.ev = HierarchyEvent{}
		switch {
		case tag == tagScope:
			err = d.scopeEvent()
		case tag == tagUpScope:
			if len(d.scope) == 0 {
				return formatErrorf("hierarchy", d.off, "upscope without open scope")
			}
			d.scope = d.scope[:len(d.scope)-1]
			d.ev.Kind = EventUpScope
		case tag == tagAttrBegin:
			err = d.attrEvent()
		case tag == tagAttrEnd:
			d.ev.Kind = EventAttrEnd
		case tag <= byte(varTypeMax):
			err = d.varEvent(VarType(tag))
		default:
			return formatErrorf("hierarchy", d.off, "unknown hierarchy tag %d", tag)
		}
		if err != nil {
			return err
		}
		d.ev.Depth = len(d.scope)
		if err := visit(&d.ev); err != nil {
			return errVisit{err}
		}
	}
	if len(d.scope) != 0 {
		return formatErrorf("hierarchy", d.off, "%d scopes left open at end of hierarchy", len(d.scope))
	}
	return nil
}

func (d *hierDecoder) scopeEvent() error {
	t, err := d.readByte()
	if err != nil {
		return err
	}
	name, err := d.cstring()
	if err != nil {
		return err
	}
	comp, err := d.cstring()
	if err != nil {
		return err
	}
	d.scope = append(d.scope, name)
	d.ev.Kind = EventScope
	d.ev.Scope = Scope{Type: ScopeType(t), Name: name, Component: comp}
	return nil
}

func (d *hierDecoder) attrEvent() error {
	t, err := d.readByte()
	if err != nil {
		return err
	}
	sub, err := d.readByte()
	if err != nil {
		return err
	}
	name, err := d.cstring()
	if err != nil {
		return err
	}
	arg, err := d.uvarint()
	if err != nil {
		return err
	}
	d.ev.Kind = EventAttrBegin
	d.ev.Attr = Attribute{Type: AttrType(t), Subtype: sub, Name: name, Arg: arg}
	return nil
}

func (d *hierDecoder) varEvent(t VarType) error {
	dir, err := d.readByte()
	if err != nil {
		return err
	}
	name, err := d.cstring()
	if err != nil {
		return err
	}
	width, err := d.uvarint()
	if err != nil {
		return err
	}
	alias, err := d.uvarint()
	if err != nil {
		return err
	}
	if width > math.MaxUint32 || alias > math.MaxUint32 {
		return formatErrorf("hierarchy", d.off, "variable %q: length or alias out of range", name)
	}
	v := Variable{Name: name, Type: t, Direction: Direction(dir), Width: uint32(width)}
	if err := d.reg.declare(&v, d.scope, uint32(alias)); err != nil {
		return wrapFormat("hierarchy", d.off, err)
	}
	if d.maxHandle != 0 && uint64(d.reg.Len()) > d.maxHandle {
		return formatErrorf("hierarchy", d.off, "more than the %d handles declared in the header", d.maxHandle)
	}
	d.ev.Kind = EventVar
	d.ev.Var = v
	return nil
}

// Misc returns the attribute's MiscType
// if it is an AttrMisc attribute.
func (a *Attribute) Misc() (MiscType, bool) {
	if a.Type != AttrMisc {
		return 0, false
	}
	return MiscType(a.Subtype), true
}

// IsComment returns true for comment attributes.
func (a *Attribute) IsComment() bool {
	m, ok := a.Misc()
	return ok && m == MiscComment
}

// PathName returns the id and path of a
// pathname attribute. Source-stem attributes
// refer to paths by this id.
func (a *Attribute) PathName() (id uint64, path string, ok bool) {
	if m, isMisc := a.Misc(); !isMisc || m != MiscPathName {
		return 0, "", false
	}
	return a.Arg, a.Name, true
}

// SourceStem decodes a source-stem attribute: the id
// of the pathname holding the source file, the line
// number, and whether the location is that of an
// instantiation rather than a definition.
func (a *Attribute) SourceStem() (pathID, line uint64, instance, ok bool) {
	m, isMisc := a.Misc()
	if !isMisc || (m != MiscSourceStem && m != MiscSourceIStem) {
		return 0, 0, false, false
	}
	id, err := strconv.ParseUint(a.Name, 10, 64)
	if err != nil {
		return 0, 0, false, false
	}
	return id, a.Arg, m == MiscSourceIStem, true
}

// EnumTableRef returns the id of the enum table
// referenced by an attribute that binds a table
// to the variables that follow it.
func (a *Attribute) EnumTableRef() (uint64, bool) {
	m, isMisc := a.Misc()
	if !isMisc || m != MiscEnumTable || a.Name != "" {
		return 0, false
	}
	return a.Arg, true
}

// EnumTable maps the encoded values
// of an enum to their names.
type EnumTable struct {
	ID       uint64
	Name     string
	Literals []string
	Values   []string
}

// ParseEnumTable decodes an enum table definition
// ("name count literal... value...", each element
// escaped) from an attribute.
func ParseEnumTable(a *Attribute) (*EnumTable, error) {
	m, isMisc := a.Misc()
	if !isMisc || m != MiscEnumTable || a.Name == "" {
		return nil, errors.New("fst: not an enum table definition")
	}
	fields := bytes.Fields([]byte(a.Name))
	if len(fields) < 2 {
		return nil, errors.Errorf("fst: enum table %q: missing element count", a.Name)
	}
	n, err := strconv.Atoi(string(fields[1]))
	if err != nil || n < 0 || len(fields) != 2+2*n {
		return nil, errors.Errorf("fst: enum table %q: bad element count", a.Name)
	}
	t := &EnumTable{ID: a.Arg, Name: string(fields[0])}
	for i := 0; i < n; i++ {
		t.Literals = append(t.Literals, unescape(fields[2+i]))
		t.Values = append(t.Values, unescape(fields[2+n+i]))
	}
	return t, nil
}

// unescape reverses the C-style escaping applied
// to enum literals (\n, \\, \xHH, \ooo, ...).
func unescape(b []byte) string {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 == len(b) {
			out = append(out, b[i])
			continue
		}
		i++
		switch c := b[i]; c {
		case 'a':
			out = append(out, '\a')
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'v':
			out = append(out, '\v')
		case 'x', 'X':
			if i+2 < len(b) && isHex(b[i+1]) && isHex(b[i+2]) {
				v, _ := strconv.ParseUint(string(b[i+1:i+3]), 16, 8)
				out = append(out, byte(v))
				i += 2
			} else {
				out = append(out, c)
			}
		case '0', '1', '2', '3', '4', '5', '6', '7':
			if i+2 < len(b) && isOctal(b[i+1]) && isOctal(b[i+2]) {
				v, _ := strconv.ParseUint(string(b[i:i+3]), 8, 16)
				out = append(out, byte(v))
				i += 2
			} else {
				out = append(out, c)
			}
		default:
			// \\ \' \" \? and anything unknown
			out = append(out, c)
		}
	}
	return string(out)
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isOctal(c byte) bool { return c >= '0' && c <= '7' }
