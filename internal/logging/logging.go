// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package logging builds the structured loggers used by the reqflow
// command.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Format is a log output format.
type Format string

const (
	// FormatJSON writes one JSON object per record.
	FormatJSON Format = "json"
	// FormatText writes logfmt-style key=value records.
	FormatText Format = "text"
)

// Config holds the logging configuration. The zero value logs info and
// above as JSON to os.Stderr.
type Config struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string
	// Format is the output format.
	Format Format
	// Output receives the records.
	Output io.Writer
	// AddSource adds the source file and line to every record.
	AddSource bool
}

// FromEnv returns a Config read from REQFLOW_LOG_LEVEL,
// REQFLOW_LOG_FORMAT and REQFLOW_LOG_SOURCE ("1" enables it).
func FromEnv() Config {
	return Config{
		Level:     strings.ToLower(os.Getenv("REQFLOW_LOG_LEVEL")),
		Format:    Format(strings.ToLower(os.Getenv("REQFLOW_LOG_FORMAT"))),
		AddSource: os.Getenv("REQFLOW_LOG_SOURCE") == "1",
	}
}

// New creates a logger from cfg. It fails if the level or format is not
// recognized.
func New(cfg Config) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}
	switch cfg.Format {
	case "", FormatJSON:
		return slog.New(slog.NewJSONHandler(out, opts)), nil
	case FormatText:
		return slog.New(slog.NewTextHandler(out, opts)), nil
	default:
		return nil, errors.Errorf("unknown log format %q", string(cfg.Format))
	}
}

// ParseLevel parses a level name. The empty string means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, errors.Errorf("unknown log level %q", s)
	}
}
