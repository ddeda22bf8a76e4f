// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"log/slog"
)

// Opts for topology discovery
type Opts struct {
	logger     *slog.Logger
	sysfsPath  string
	procfsPath string
	counts     *fixedCounts
}

type fixedCounts struct {
	total, physical int
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:     slog.Default(),
		sysfsPath:  "/sys",
		procfsPath: "/proc",
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the mapper
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithSysFSPath sets the sysfs mount point
func WithSysFSPath(path string) OptionFn {
	return func(o *Opts) {
		o.sysfsPath = path
	}
}

// WithProcFSPath sets the procfs mount point
func WithProcFSPath(path string) OptionFn {
	return func(o *Opts) {
		o.procfsPath = path
	}
}

// WithFixedCounts skips OS discovery and lays out total logical CPUs over
// physical cores arithmetically. Used with fake registers in development.
func WithFixedCounts(total, physical int) OptionFn {
	return func(o *Opts) {
		o.counts = &fixedCounts{total: total, physical: physical}
	}
}
