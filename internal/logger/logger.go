// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
)

// level is shared by every logger built by New so it can be raised or
// lowered at runtime
var level = new(slog.LevelVar)

// New returns a logger writing to w in the given format ("text" or "json").
// It panics on an unknown format; formats are validated by the config
// package before a logger is built.
func New(lvl, format string, w io.Writer) *slog.Logger {
	level.Set(ParseLevel(lvl))
	return slog.New(handlerForFormat(format, w))
}

// Level returns the level currently in effect
func Level() slog.Level {
	return level.Level()
}

// SetLevel changes the level of every logger built by New
func SetLevel(lvl string) {
	level.Set(ParseLevel(lvl))
}

func handlerForFormat(format string, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	}

	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)

	case "text":
		opts.ReplaceAttr = func(_ []string, a slog.Attr) slog.Attr {
			if a.Key != slog.SourceKey {
				return a
			}
			if src, ok := a.Value.Any().(*slog.Source); ok {
				src.File = shortSource(src.File)
			}
			return a
		}
		return slog.NewTextHandler(w, opts)

	default:
		panic(fmt.Sprintf("invalid format: %s", format))
	}
}

// shortSource keeps the last two directories and the file name
func shortSource(file string) string {
	parts := strings.Split(filepath.ToSlash(file), "/")
	if len(parts) > 3 {
		parts = parts[len(parts)-3:]
	}
	return filepath.Join(parts...)
}

// ParseLevel maps debug, info, warn and error to slog levels; anything
// else is info
func ParseLevel(lvl string) slog.Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
