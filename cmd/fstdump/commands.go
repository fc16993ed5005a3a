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

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/SnellerInc/fst/fst"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func (a *app) headerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "header <file>",
		Short: "print the file header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()
			writeHeader(cmd.OutOrStdout(), r.Header())
			return nil
		},
	}
}

func writeHeader(w io.Writer, h fst.Header) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"version", h.Version},
		{"date", h.Date},
		{"file type", h.FileType},
		{"timescale", fmt.Sprintf("1e%d s", h.Timescale)},
		{"timezero", h.TimeZero},
		{"start", h.StartTime},
		{"end", h.EndTime},
		{"scopes", h.ScopeCount},
		{"vars", h.VarCount},
		{"handles", h.MaxHandle},
		{"vc blocks", h.ValueChangeCount},
		{"real byte order", h.RealOrder},
		{"writer memory", h.WriterMemory},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
	})
	t.Render()
}

func (a *app) blocksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "blocks <file>",
		Short: "list the block directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()
			writeBlocks(cmd.OutOrStdout(), r.Blocks())
			return nil
		},
	}
}

func writeBlocks(w io.Writer, blocks []fst.BlockEntry) {
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Kind", "Offset", "Length", "Codec", "Uncompressed", "Start", "End", "Times"})
	for i := range blocks {
		e := &blocks[i]
		row := table.Row{i, e.Kind, e.Offset, e.Length, e.Codec, e.Uncompressed, "", "", ""}
		if e.Kind.IsValueChange() {
			row[6], row[7], row[8] = e.Start, e.End, e.Times.Count
		}
		t.AppendRow(row)
	}
	t.Render()
}

func (a *app) hierCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hier <file>",
		Short: "print the design hierarchy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()
			w := bufio.NewWriter(cmd.OutOrStdout())
			err = r.ReadHierarchy(func(ev *fst.HierarchyEvent) error {
				return writeEvent(w, ev)
			})
			if ferr := w.Flush(); err == nil {
				err = ferr
			}
			return err
		},
	}
}

func writeEvent(w io.Writer, ev *fst.HierarchyEvent) error {
	indent := strings.Repeat("  ", ev.Depth)
	var err error
	switch ev.Kind {
	case fst.EventScope:
		// the scope is already counted in Depth
		indent = indent[2:]
		_, err = fmt.Fprintf(w, "%s%s %s", indent, ev.Scope.Type, ev.Scope.Name)
		if err == nil && ev.Scope.Component != "" && ev.Scope.Component != ev.Scope.Name {
			_, err = fmt.Fprintf(w, " (%s)", ev.Scope.Component)
		}
		if err == nil {
			_, err = io.WriteString(w, "\n")
		}
	case fst.EventVar:
		v := &ev.Var
		alias := ""
		if v.IsAlias {
			alias = " alias"
		}
		_, err = fmt.Fprintf(w, "%s%s %s %s [%d] %s%s\n", indent, v.Direction, v.Type, v.Name, v.Width, v.Handle, alias)
	case fst.EventAttrBegin:
		_, err = fmt.Fprintf(w, "%s@%s/%d %q %d\n", indent, ev.Attr.Type, ev.Attr.Subtype, ev.Attr.Name, ev.Attr.Arg)
	}
	return err
}

func (a *app) timesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "times <file>",
		Short: "print the time table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()
			times, err := r.TimeTable()
			if err != nil {
				return err
			}
			w := bufio.NewWriter(cmd.OutOrStdout())
			for i, t := range times {
				fmt.Fprintf(w, "%d\t%d\n", i, t)
			}
			return w.Flush()
		},
	}
}

type signalFlags struct {
	handles []uint
	paths   []string
	from    uint64
	to      uint64
}

func (a *app) signalsCommand() *cobra.Command {
	var sf signalFlags
	cmd := &cobra.Command{
		Use:   "signals <file>",
		Short: "print value changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()
			return a.dumpSignals(cmd.Context(), cmd.OutOrStdout(), r, &sf)
		},
	}
	fl := cmd.Flags()
	fl.UintSliceVar(&sf.handles, "handle", nil, "select handles by (one-based) number")
	fl.StringSliceVar(&sf.paths, "path", nil, "select variables by dotted path")
	fl.Uint64Var(&sf.from, "from", 0, "first time to print")
	fl.Uint64Var(&sf.to, "to", ^uint64(0), "last time to print")
	return cmd
}

// filter builds the Filter selected by sf.
func (sf *signalFlags) filter(reg *fst.Registry) (*fst.Filter, error) {
	f := fst.Between(sf.from, sf.to)
	if len(sf.handles) == 0 && len(sf.paths) == 0 {
		return f, nil
	}
	var hs []fst.Handle
	for _, h := range sf.handles {
		if h == 0 {
			return nil, errors.New("handles are numbered from 1")
		}
		hs = append(hs, fst.Handle(h-1))
	}
	for _, p := range sf.paths {
		id, ok := reg.Find(p)
		if !ok {
			return nil, errors.Errorf("no variable %q", p)
		}
		h, _, _ := reg.Canonical(id)
		hs = append(hs, h)
	}
	return f.WithHandles(hs...), nil
}

func (a *app) dumpSignals(ctx context.Context, out io.Writer, r *fst.Reader, sf *signalFlags) error {
	if err := r.ReadHierarchy(func(*fst.HierarchyEvent) error { return nil }); err != nil {
		return err
	}
	reg := r.Registry()
	f, err := sf.filter(reg)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	var line []byte
	sink := func(rec *fst.Record) error {
		line = strconv.AppendUint(line[:0], rec.Time, 10)
		line = append(line, '\t')
		if v, ok := reg.Lookup(rec.Handle); ok {
			line = append(line, reg.Path(v.ID)...)
		} else {
			line = append(line, rec.Handle.String()...)
		}
		line = append(line, '\t')
		line = append(line, rec.Value.String()...)
		line = append(line, '\n')
		_, err := w.Write(line)
		return err
	}
	if workers := a.cfg.Decode.Workers; workers == 1 {
		err = r.ReadSignals(f, sink)
	} else {
		err = r.ReadSignalsParallel(ctx, f, workers, sink)
	}
	var partial *fst.PartialError
	if errors.As(err, &partial) {
		a.log.Warn().Err(err).Msg("some value-change data was lost")
		err = nil
	}
	if ferr := w.Flush(); err == nil {
		err = ferr
	}
	return err
}
