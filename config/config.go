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

// Package config loads the settings of
// the fst tools from defaults, an optional
// YAML file and FST_* environment variables.
package config

import (
	"io"
	"os"
	"strings"

	"github.com/SnellerInc/fst/fst"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment variable
// names; decode.workers is read from FST_DECODE_WORKERS.
const EnvPrefix = "FST"

// Config is the complete tool configuration.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Decode DecodeConfig `mapstructure:"decode"`
}

// LogConfig selects the level and format of log output.
type LogConfig struct {
	// Level is a zerolog level name ("debug", "info", ...).
	Level string `mapstructure:"level"`
	// Format is "console" or "json".
	Format string `mapstructure:"format"`
}

// DecodeConfig holds the reader options.
type DecodeConfig struct {
	// Workers is the number of blocks decoded
	// in parallel; 0 means GOMAXPROCS and 1
	// decodes sequentially.
	Workers           int    `mapstructure:"workers"`
	SkipCorruptBlocks bool   `mapstructure:"skipCorruptBlocks"`
	Mmap              bool   `mapstructure:"mmap"`
	TempDir           string `mapstructure:"tempDir"`
}

// New returns a viper instance with the
// defaults and environment bindings set.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "console")
	v.SetDefault("decode.workers", 1)
	v.SetDefault("decode.skipCorruptBlocks", false)
	v.SetDefault("decode.mmap", false)
	v.SetDefault("decode.tempDir", "")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the file at path (if path is not
// empty) into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the values that viper
// cannot check by type alone.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrapf(err, "log.level")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	if c.Decode.Workers < 0 {
		return errors.Errorf("decode.workers: %d is negative", c.Decode.Workers)
	}
	return nil
}

// Logger builds the logger described by c,
// writing to w.
func (c *Config) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		level = zerolog.WarnLevel
	}
	if c.Log.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, NoColor: w != os.Stderr}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Options converts c into reader options.
func (c *Config) Options(log zerolog.Logger, name string) []fst.Option {
	opts := []fst.Option{
		fst.WithLogger(log),
		fst.WithSkipCorruptBlocks(c.Decode.SkipCorruptBlocks),
		fst.WithMmap(c.Decode.Mmap),
	}
	if name != "" {
		opts = append(opts, fst.WithName(name))
	}
	if c.Decode.TempDir != "" {
		opts = append(opts, fst.WithTempDir(c.Decode.TempDir))
	}
	return opts
}
