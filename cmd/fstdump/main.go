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

// fstdump prints the contents of FST waveform traces.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/SnellerInc/fst/config"
	"github.com/SnellerInc/fst/fst"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     zerolog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{v: config.New()}
	root := &cobra.Command{
		Use:           "fstdump",
		Short:         "print the contents of FST waveform traces",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.v, a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = cfg.Logger(os.Stderr).With().Str("run", uuid.NewString()).Logger()
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "YAML configuration file")
	pf.String("log-level", "warn", "log level")
	pf.String("log-format", "console", "log format (console or json)")
	pf.Int("workers", 1, "value-change blocks decoded in parallel (0 = GOMAXPROCS)")
	pf.Bool("skip-corrupt", false, "skip corrupt value-change blocks instead of stopping")
	pf.Bool("mmap", false, "map input files into memory")
	pf.String("tmpdir", "", "directory for inflating gzip-wrapped traces")
	for key, flag := range map[string]string{
		"log.level":                "log-level",
		"log.format":               "log-format",
		"decode.workers":           "workers",
		"decode.skipCorruptBlocks": "skip-corrupt",
		"decode.mmap":              "mmap",
		"decode.tempDir":           "tmpdir",
	} {
		if err := a.v.BindPFlag(key, pf.Lookup(flag)); err != nil {
			panic(err)
		}
	}
	root.AddCommand(
		a.headerCommand(),
		a.blocksCommand(),
		a.hierCommand(),
		a.timesCommand(),
		a.signalsCommand(),
	)
	return root
}

// open opens path with the configured options.
func (a *app) open(path string) (*fst.Reader, error) {
	r, err := fst.OpenFile(path, a.cfg.Options(a.log, path)...)
	if err != nil {
		return nil, err
	}
	a.log.Info().Str("path", path).Int("blocks", len(r.Blocks())).Msg("opened trace")
	return r, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fstdump:", err)
		os.Exit(1)
	}
}
