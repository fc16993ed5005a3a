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
	"strings"
)

// Handle identifies the value stream of one
// distinct (non-alias) variable. Handles are
// dense, zero-based and assigned in declaration
// order; the file itself numbers them from one.
type Handle uint32

// Index returns h as a slice index.
func (h Handle) Index() int { return int(h) }

func (h Handle) String() string { return fmt.Sprintf("#%d", uint32(h)+1) }

// VarID is the position of a variable
// declaration in the hierarchy.
type VarID uint32

// Variable is one variable declaration.
type Variable struct {
	ID        VarID
	Name      string
	Type      VarType
	Direction Direction
	// Width is the declared length, usually in bits.
	Width  uint32
	Handle Handle
	// IsAlias is true when the declaration reuses the
	// handle of an earlier one. AliasOf is then the ID
	// of the declaration that owns the handle; otherwise
	// it equals ID.
	IsAlias bool
	AliasOf VarID
}

// Registry maps handles to variable metadata.
// It is built while the hierarchy is decoded
// and is read-only afterwards, so it may be
// shared freely between goroutines.
type Registry struct {
	vars   []Variable
	paths  []string
	owners []VarID
}

// Len returns the number of handles.
func (g *Registry) Len() int { return len(g.owners) }

// NumVars returns the number of declarations,
// aliases included.
func (g *Registry) NumVars() int { return len(g.vars) }

// Var returns the declaration with the given ID.
func (g *Registry) Var(id VarID) (*Variable, bool) {
	if int(id) >= len(g.vars) {
		return nil, false
	}
	return &g.vars[id], true
}

// Path returns the dot-separated scope
// path of a declaration, ending in its name.
func (g *Registry) Path(id VarID) string {
	if int(id) >= len(g.paths) {
		return ""
	}
	return g.paths[id]
}

// Lookup returns the declaration that
// introduced handle h.
func (g *Registry) Lookup(h Handle) (*Variable, bool) {
	if int(h) >= len(g.owners) {
		return nil, false
	}
	return &g.vars[g.owners[h]], true
}

// Canonical returns the handle whose value
// stream declaration id reads from, and the ID
// of the declaration that owns it.
func (g *Registry) Canonical(id VarID) (Handle, VarID, bool) {
	v, ok := g.Var(id)
	if !ok {
		return 0, 0, false
	}
	return v.Handle, v.AliasOf, true
}

// Aliases returns the IDs of every alias
// declaration of handle h.
func (g *Registry) Aliases(h Handle) []VarID {
	var out []VarID
	for i := range g.vars {
		if g.vars[i].IsAlias && g.vars[i].Handle == h {
			out = append(out, g.vars[i].ID)
		}
	}
	return out
}

// IsReal returns true if handle h
// carries floating-point values.
func (g *Registry) IsReal(h Handle) bool {
	v, ok := g.Lookup(h)
	return ok && v.Type.IsReal()
}

// Find returns the ID of the declaration with
// the given dotted path, if there is one.
func (g *Registry) Find(path string) (VarID, bool) {
	for i := range g.paths {
		if g.paths[i] == path {
			return VarID(i), true
		}
	}
	return 0, false
}

// declare records v, assigning it a fresh handle
// unless alias is non-zero, in which case it names
// (one-based) the earlier handle v shares.
func (g *Registry) declare(v *Variable, scope []string, alias uint32) error {
	v.ID = VarID(len(g.vars))
	if alias == 0 {
		v.Handle = Handle(len(g.owners))
		v.AliasOf = v.ID
		g.owners = append(g.owners, v.ID)
	} else {
		if uint64(alias) > uint64(len(g.owners)) {
			return fmt.Errorf("variable %q aliases handle %d but only %d handles are declared", v.Name, alias, len(g.owners))
		}
		v.Handle = Handle(alias - 1)
		v.IsAlias = true
		v.AliasOf = g.owners[v.Handle]
	}
	g.vars = append(g.vars, *v)
	g.paths = append(g.paths, joinPath(scope, v.Name))
	return nil
}

func joinPath(scope []string, name string) string {
	if len(scope) == 0 {
		return name
	}
	return strings.Join(scope, ".") + "." + name
}

// signalClass is how the value decoder
// interprets the stored data of a handle.
type signalClass uint8

const (
	classBits signalClass = iota
	classReal
	classVarLen
	// real-kind variables stored as
	// 32- or 64-bit binary patterns
	classRealBits32
	classRealBits64
)

// classify decides, per handle, how stored values
// are interpreted. The declared var type decides
// whether values are real; the geometry decides how
// they are laid out. Without a registry the geometry
// alone is used.
func classify(geom []SignalInfo, reg *Registry) ([]signalClass, error) {
	out := make([]signalClass, len(geom))
	for h := range geom {
		switch geom[h].Kind {
		case SignalReal:
			out[h] = classReal
		case SignalVarLen:
			out[h] = classVarLen
		default:
			out[h] = classBits
		}
		if reg == nil || h >= reg.Len() {
			continue
		}
		v, _ := reg.Lookup(Handle(h))
		isReal := v.Type.IsReal()
		switch {
		case isReal && geom[h].Kind == SignalBits && geom[h].Width == 32:
			out[h] = classRealBits32
		case isReal && geom[h].Kind == SignalBits && geom[h].Width == 64:
			out[h] = classRealBits64
		case isReal != (geom[h].Kind == SignalReal):
			return nil, formatErrorf("geometry", -1, "handle %s (%s %q) is stored as %s with width %d",
				Handle(h), v.Type, v.Name, geom[h].Kind, geom[h].Width)
		}
	}
	return out, nil
}
